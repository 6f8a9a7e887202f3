// Package normalize turns noisy model extraction payloads into
// canonical-record-shaped mappings ready for schema validation. It is the
// single choke point for type coercion: aliased and nested fields are
// resolved against a rules snapshot, amounts and dates are parsed from
// free-form strings, and missing dates and line items are recovered from
// raw OCR text when the structured output omits them.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Keys the extractor attaches to the payload before normalization.
const (
	KeyOCRText  = "_ocr_text"
	KeyProvider = "_provider"
)

var (
	amountStripRE  = regexp.MustCompile(`[^0-9,.\-]`)
	ocrDateRE      = regexp.MustCompile(`\b(\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{4}[/-]\d{1,2}[/-]\d{1,2})\b`)
	ocrItemRE      = regexp.MustCompile(`^(?P<desc>.+?)\s+(?P<qty>\d+(?:\.\d+)?)\s+(?P<unit>\$?\d[\d,]*(?:\.\d+)?)\s+(?P<total>\$?\d[\d,]*(?:\.\d+)?)$`)
	ocrItemLooseRE = regexp.MustCompile(`^(?P<desc>.+?)\s+(?P<total>\d[\d,]*(?:\.\d+)?)$`)
)

// Strict parse layouts tried in order for invoice and due dates.
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// Engine applies one Rules snapshot to extraction payloads.
type Engine struct {
	rules Rules
	clock func() time.Time
}

// NewEngine creates an engine over the given rules.
func NewEngine(rules Rules) *Engine {
	r := rules
	r.applyDefaults()
	return &Engine{rules: r, clock: time.Now}
}

// WithClock overrides the "today" source used when no date can be
// recovered. For testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Rules returns the engine's active rules snapshot.
func (e *Engine) Rules() Rules { return e.rules }

// Coerce maps a raw extraction payload to a canonical-record-shaped
// mapping. The result is shape-compatible with the canonical record
// schema; downstream validation performs the final typed check.
func (e *Engine) Coerce(raw map[string]any) map[string]any {
	ocrText, _ := raw[KeyOCRText].(string)

	total := SafeFloat(e.pick(raw, "total_amount"), 0)
	subtotal := SafeFloat(e.pick(raw, "subtotal"), total)
	taxAmount := SafeFloat(e.pick(raw, "tax_amount"), math.Max(total-subtotal, 0))

	confidence := SafeFloat(e.pick(raw, "model_confidence"), e.rules.DefaultConfidence)
	confidence = math.Max(0, math.Min(confidence, 1))

	invoiceDate := NormalizeDate(e.pick(raw, "invoice_date"))
	if invoiceDate == "" && ocrText != "" {
		invoiceDate = e.extractDateFromOCR(ocrText)
	}
	if invoiceDate == "" {
		invoiceDate = e.clock().UTC().Format("2006-01-02")
	}

	items := e.normalizeLineItems(e.pick(raw, "line_items"), ocrText)
	items = e.filterIgnored(items)
	target := subtotal
	if target <= 0 {
		target = total
	}
	items = e.reconcileLineItems(items, target)

	documentType := strings.ToLower(asString(e.pickDefault(raw, "document_type", e.rules.DefaultDocumentType)))
	if documentType != "invoice" && documentType != "receipt" {
		documentType = "invoice"
	}

	currency := strings.ToUpper(asString(e.pickDefault(raw, "currency", e.rules.DefaultCurrency)))
	if len(currency) != 3 {
		currency = e.rules.DefaultCurrency
	}

	payload := map[string]any{
		"document_type":    documentType,
		"vendor_name":      e.normalizeVendorName(raw),
		"vendor_tax_id":    e.pick(raw, "vendor_tax_id"),
		"invoice_number":   e.pick(raw, "invoice_number"),
		"invoice_date":     invoiceDate,
		"due_date":         nullableDate(NormalizeDate(e.pick(raw, "due_date"))),
		"currency":         currency,
		"subtotal":         math.Max(subtotal, 0),
		"tax_amount":       math.Max(taxAmount, 0),
		"total_amount":     math.Max(total, 0),
		"payment_method":   e.normalizePaymentMethod(e.pick(raw, "payment_method")),
		"line_items":       itemsToAny(items),
		"model_confidence": confidence,
		"validation_score": confidence,
	}
	return payload
}

// pick walks the alias list of a canonical field and returns the first
// non-empty value. Dotted aliases resolve through nested objects.
func (e *Engine) pick(data map[string]any, field string) any {
	aliases, ok := e.rules.FieldAliases[field]
	if !ok || len(aliases) == 0 {
		aliases = []string{field}
	}
	for _, alias := range aliases {
		if strings.Contains(alias, ".") {
			if v := nestedGet(data, alias); !isEmpty(v) {
				return v
			}
			continue
		}
		if v, present := data[alias]; present && !isEmpty(v) {
			return v
		}
	}
	return nil
}

func (e *Engine) pickDefault(data map[string]any, field string, fallback any) any {
	if v := e.pick(data, field); v != nil {
		return v
	}
	return fallback
}

func nestedGet(data map[string]any, path string) any {
	var cur any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// SafeFloat parses arbitrary JSON values as a real number. Strings are
// stripped of any character outside [0-9,.-] and of thousands commas
// before parsing. Anything unparseable yields fallback.
func SafeFloat(v any, fallback float64) float64 {
	switch value := v.(type) {
	case nil:
		return fallback
	case float64:
		return value
	case float32:
		return float64(value)
	case int:
		return float64(value)
	case int64:
		return float64(value)
	case string:
		text := strings.TrimSpace(value)
		if text == "" {
			return fallback
		}
		text = amountStripRE.ReplaceAllString(text, "")
		text = strings.ReplaceAll(text, ",", "")
		if text == "" {
			return fallback
		}
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

// NormalizeDate tries the strict layouts in order and emits YYYY-MM-DD on
// success, "" otherwise.
func NormalizeDate(v any) string {
	if isEmpty(v) {
		return ""
	}
	text := strings.TrimSpace(asString(v))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func (e *Engine) extractDateFromOCR(text string) string {
	for _, m := range ocrDateRE.FindAllStringSubmatch(text, -1) {
		if normalized := NormalizeDate(m[1]); normalized != "" {
			return normalized
		}
	}
	return ""
}

func (e *Engine) normalizePaymentMethod(v any) string {
	text := strings.ToLower(asString(v))
	for _, canonical := range [...]string{"card", "cash", "bank"} {
		for _, keyword := range e.rules.PaymentMethodMap[canonical] {
			if strings.Contains(text, strings.ToLower(keyword)) {
				return canonical
			}
		}
	}
	return "unknown"
}

func (e *Engine) normalizeVendorName(raw map[string]any) string {
	value := e.pick(raw, "vendor_name")
	if value == nil {
		return "Unknown Vendor"
	}
	if obj, ok := value.(map[string]any); ok {
		if name, ok := obj["name"].(string); ok && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
		return "Unknown Vendor"
	}
	if name := strings.TrimSpace(asString(value)); name != "" {
		return name
	}
	return "Unknown Vendor"
}

func nullableDate(date string) any {
	if date == "" {
		return nil
	}
	return date
}
