// Package validate performs schema validation, business-rule checks and
// scoring over normalized canonical payloads.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Severity of a business-rule violation.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Violation codes.
const (
	CodeAmountMismatch      = "amount_mismatch"
	CodeLineItemSumMismatch = "line_item_sum_mismatch"
	CodeLineItemsIncomplete = "line_items_incomplete"
	CodeMissingIdentifier   = "missing_identifier"
)

// LineItem is one validated invoice line.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
	Category    *string `json:"category,omitempty"`
}

// CanonicalRecord is the normalized, validated output of the pipeline.
type CanonicalRecord struct {
	DocumentType    string     `json:"document_type"`
	VendorName      string     `json:"vendor_name"`
	VendorTaxID     *string    `json:"vendor_tax_id,omitempty"`
	InvoiceNumber   *string    `json:"invoice_number,omitempty"`
	InvoiceDate     string     `json:"invoice_date"`
	DueDate         *string    `json:"due_date,omitempty"`
	Currency        string     `json:"currency"`
	Subtotal        float64    `json:"subtotal"`
	TaxAmount       float64    `json:"tax_amount"`
	TotalAmount     float64    `json:"total_amount"`
	PaymentMethod   string     `json:"payment_method"`
	LineItems       []LineItem `json:"line_items"`
	ModelConfidence float64    `json:"model_confidence"`
	ValidationScore float64    `json:"validation_score"`
}

// Violation is one machine-readable business-rule finding.
type Violation struct {
	Code     string         `json:"code"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
}

// Result bundles the validated record with its violation report.
type Result struct {
	Record          CanonicalRecord `json:"record"`
	Violations      []Violation     `json:"violations"`
	ValidationScore float64         `json:"validation_score"`
	IsValid         bool            `json:"is_valid"`
}

// SchemaError reports a canonical-record schema rejection. The pipeline
// routes these documents straight to review.
type SchemaError struct {
	Cause error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("canonical record schema validation failed: %v", e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

// Validator validates canonical payloads and applies business rules.
type Validator struct {
	schema    *jsonschema.Schema
	tolerance float64
}

// New compiles the canonical record schema. tolerance is the amount
// comparison tolerance shared with the normalization rules.
func New(tolerance float64) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://docledger.schemas.local/canonical_record.schema.json"
	if err := c.AddResource(url, strings.NewReader(canonicalRecordSchema)); err != nil {
		return nil, fmt.Errorf("validate: schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("validate: schema compile failed: %w", err)
	}
	if tolerance <= 0 {
		tolerance = 0.01
	}
	return &Validator{schema: compiled, tolerance: tolerance}, nil
}

// ValidateAndScore checks raw against the schema, applies business rules
// and computes the validation score. A non-nil error is always a
// *SchemaError.
func (v *Validator) ValidateAndScore(raw map[string]any) (Result, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Result{}, &SchemaError{Cause: err}
	}
	var doc any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return Result{}, &SchemaError{Cause: err}
	}
	if err := v.schema.Validate(doc); err != nil {
		return Result{}, &SchemaError{Cause: err}
	}
	var record CanonicalRecord
	if err := json.Unmarshal(encoded, &record); err != nil {
		return Result{}, &SchemaError{Cause: err}
	}

	violations := v.businessRules(record)
	score := scoreFor(len(violations))
	record.ValidationScore = score

	isValid := true
	for _, violation := range violations {
		if violation.Severity == SeverityError {
			isValid = false
			break
		}
	}
	return Result{
		Record:          record,
		Violations:      violations,
		ValidationScore: score,
		IsValid:         isValid,
	}, nil
}

func (v *Validator) businessRules(record CanonicalRecord) []Violation {
	var violations []Violation

	expected := round2(record.Subtotal + record.TaxAmount)
	actual := round2(record.TotalAmount)
	if math.Abs(expected-actual) > v.tolerance {
		violations = append(violations, Violation{
			Code:     CodeAmountMismatch,
			Severity: SeverityError,
			Message:  fmt.Sprintf("subtotal + tax (%0.2f) does not match total (%0.2f)", expected, actual),
			Context:  map[string]any{"expected_total": expected, "declared_total": actual},
		})
	}

	if len(record.LineItems) > 0 {
		var sum float64
		for _, item := range record.LineItems {
			sum += item.LineTotal
		}
		if math.Abs(sum-record.Subtotal) > v.tolerance {
			if sum <= v.tolerance && record.Subtotal > v.tolerance {
				violations = append(violations, Violation{
					Code:     CodeLineItemsIncomplete,
					Severity: SeverityWarning,
					Message:  "line items carry no amounts while subtotal is positive",
					Context:  map[string]any{"line_item_sum": sum, "subtotal": record.Subtotal},
				})
			} else {
				violations = append(violations, Violation{
					Code:     CodeLineItemSumMismatch,
					Severity: SeverityError,
					Message:  fmt.Sprintf("line item sum (%0.2f) does not match subtotal (%0.2f)", sum, record.Subtotal),
					Context:  map[string]any{"line_item_sum": sum, "subtotal": record.Subtotal},
				})
			}
		}
	}

	if record.DocumentType == "invoice" && isBlank(record.InvoiceNumber) && isBlank(record.VendorTaxID) {
		violations = append(violations, Violation{
			Code:     CodeMissingIdentifier,
			Severity: SeverityWarning,
			Message:  "invoice has neither invoice_number nor vendor_tax_id",
		})
	}

	return violations
}

func isBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// scoreFor maps a violation count to the validation score
// max(0, 1 - n/3), rounded to 4 decimals.
func scoreFor(violations int) float64 {
	score := 1 - float64(violations)/3
	if score < 0 {
		score = 0
	}
	return math.Round(score*10000) / 10000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
