package validate

// canonicalRecordSchema is the typed contract every normalized payload
// must satisfy before business rules run. Draft 2020-12.
const canonicalRecordSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": [
		"document_type", "vendor_name", "invoice_date", "currency",
		"subtotal", "tax_amount", "total_amount", "payment_method",
		"line_items", "model_confidence", "validation_score"
	],
	"properties": {
		"document_type": {"enum": ["invoice", "receipt"]},
		"vendor_name": {"type": "string", "minLength": 1},
		"vendor_tax_id": {"type": ["string", "null"]},
		"invoice_number": {"type": ["string", "null"]},
		"invoice_date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"due_date": {"type": ["string", "null"], "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
		"subtotal": {"type": "number", "minimum": 0},
		"tax_amount": {"type": "number", "minimum": 0},
		"total_amount": {"type": "number", "minimum": 0},
		"payment_method": {"enum": ["card", "cash", "bank", "unknown"]},
		"line_items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["description", "quantity", "unit_price", "line_total"],
				"properties": {
					"description": {"type": "string", "minLength": 1},
					"quantity": {"type": "number", "exclusiveMinimum": 0},
					"unit_price": {"type": "number", "minimum": 0},
					"line_total": {"type": "number", "minimum": 0},
					"category": {"type": ["string", "null"]}
				}
			}
		},
		"model_confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"validation_score": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`
