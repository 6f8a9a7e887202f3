package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/pkg/validate"
)

func newValidator(t *testing.T) *validate.Validator {
	t.Helper()
	v, err := validate.New(0.01)
	require.NoError(t, err)
	return v
}

func cleanPayload() map[string]any {
	return map[string]any{
		"document_type":    "invoice",
		"vendor_name":      "RYANS Computers",
		"vendor_tax_id":    nil,
		"invoice_number":   "INV-1042",
		"invoice_date":     "2026-03-01",
		"due_date":         nil,
		"currency":         "BDT",
		"subtotal":         100.0,
		"tax_amount":       10.0,
		"total_amount":     110.0,
		"payment_method":   "card",
		"line_items": []any{
			map[string]any{"description": "SSD", "quantity": 1.0, "unit_price": 100.0, "line_total": 100.0, "category": nil},
		},
		"model_confidence": 0.95,
		"validation_score": 0.95,
	}
}

func TestValidateAndScore_CleanRecord(t *testing.T) {
	v := newValidator(t)
	res, err := v.ValidateAndScore(cleanPayload())
	require.NoError(t, err)

	assert.True(t, res.IsValid)
	assert.Empty(t, res.Violations)
	assert.Equal(t, 1.0, res.ValidationScore)
	assert.Equal(t, "RYANS Computers", res.Record.VendorName)
	assert.Equal(t, 1.0, res.Record.ValidationScore)
}

func TestValidateAndScore_AmountMismatch(t *testing.T) {
	v := newValidator(t)
	payload := cleanPayload()
	payload["total_amount"] = 999.0

	res, err := v.ValidateAndScore(payload)
	require.NoError(t, err)

	assert.False(t, res.IsValid)
	require.NotEmpty(t, res.Violations)
	codes := violationCodes(res)
	assert.Contains(t, codes, validate.CodeAmountMismatch)
	for _, violation := range res.Violations {
		if violation.Code == validate.CodeAmountMismatch {
			assert.Equal(t, validate.SeverityError, violation.Severity)
		}
	}
}

func TestValidateAndScore_LineItemSumMismatch(t *testing.T) {
	v := newValidator(t)
	payload := cleanPayload()
	payload["line_items"] = []any{
		map[string]any{"description": "SSD", "quantity": 1.0, "unit_price": 60.0, "line_total": 60.0, "category": nil},
	}

	res, err := v.ValidateAndScore(payload)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Contains(t, violationCodes(res), validate.CodeLineItemSumMismatch)
}

func TestValidateAndScore_LineItemsIncompleteIsWarning(t *testing.T) {
	v := newValidator(t)
	payload := cleanPayload()
	// Items present but all amounts zero while subtotal is positive.
	payload["line_items"] = []any{
		map[string]any{"description": "SSD", "quantity": 1.0, "unit_price": 0.0, "line_total": 0.0, "category": nil},
	}

	res, err := v.ValidateAndScore(payload)
	require.NoError(t, err)
	assert.True(t, res.IsValid, "warnings do not fail the document")
	codes := violationCodes(res)
	assert.Contains(t, codes, validate.CodeLineItemsIncomplete)
	assert.NotContains(t, codes, validate.CodeLineItemSumMismatch)
}

func TestValidateAndScore_MissingIdentifierWarning(t *testing.T) {
	v := newValidator(t)
	payload := cleanPayload()
	payload["invoice_number"] = nil
	payload["vendor_tax_id"] = "  "

	res, err := v.ValidateAndScore(payload)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Contains(t, violationCodes(res), validate.CodeMissingIdentifier)
	// One warning: score 1 - 1/3 rounded to 4 decimals.
	assert.Equal(t, 0.6667, res.ValidationScore)

	// Receipts do not require identifiers.
	payload["document_type"] = "receipt"
	res, err = v.ValidateAndScore(payload)
	require.NoError(t, err)
	assert.NotContains(t, violationCodes(res), validate.CodeMissingIdentifier)
}

func TestValidateAndScore_SchemaFailures(t *testing.T) {
	v := newValidator(t)

	cases := map[string]func(map[string]any){
		"empty vendor":        func(p map[string]any) { p["vendor_name"] = "" },
		"bad currency":        func(p map[string]any) { p["currency"] = "taka" },
		"bad document type":   func(p map[string]any) { p["document_type"] = "memo" },
		"negative total":      func(p map[string]any) { p["total_amount"] = -1.0 },
		"bad date":            func(p map[string]any) { p["invoice_date"] = "01/03/2026" },
		"confidence over one": func(p map[string]any) { p["model_confidence"] = 1.5 },
		"zero quantity": func(p map[string]any) {
			p["line_items"] = []any{
				map[string]any{"description": "SSD", "quantity": 0.0, "unit_price": 1.0, "line_total": 1.0},
			}
		},
		"numeric tax id": func(p map[string]any) { p["vendor_tax_id"] = 12345 },
	}
	for name, mutate := range cases {
		payload := cleanPayload()
		mutate(payload)
		_, err := v.ValidateAndScore(payload)
		require.Error(t, err, name)
		var schemaErr *validate.SchemaError
		assert.ErrorAs(t, err, &schemaErr, name)
	}
}

func TestValidateAndScore_ValidIffNoErrorViolation(t *testing.T) {
	v := newValidator(t)

	// Warning only.
	payload := cleanPayload()
	payload["invoice_number"] = nil
	res, err := v.ValidateAndScore(payload)
	require.NoError(t, err)
	assert.True(t, res.IsValid)

	// Warning plus error.
	payload["total_amount"] = 500.0
	res, err = v.ValidateAndScore(payload)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, 0.3333, res.ValidationScore)
}

func violationCodes(res validate.Result) []string {
	codes := make([]string, 0, len(res.Violations))
	for _, violation := range res.Violations {
		codes = append(codes, violation.Code)
	}
	return codes
}
