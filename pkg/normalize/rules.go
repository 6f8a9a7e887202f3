package normalize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules is the operator-editable normalization configuration. The engine
// treats a loaded Rules value as an immutable snapshot for the cycle.
type Rules struct {
	FieldAliases           map[string][]string `json:"field_aliases" yaml:"field_aliases"`
	LineItemAliases        map[string][]string `json:"line_item_aliases" yaml:"line_item_aliases"`
	PaymentMethodMap       map[string][]string `json:"payment_method_map" yaml:"payment_method_map"`
	LineItemIgnoreKeywords []string            `json:"line_item_ignore_keywords" yaml:"line_item_ignore_keywords"`
	AmountTolerance        float64             `json:"amount_tolerance" yaml:"amount_tolerance"`
	DefaultCurrency        string              `json:"default_currency" yaml:"default_currency"`
	DefaultDocumentType    string              `json:"default_document_type" yaml:"default_document_type"`
	DefaultConfidence      float64             `json:"default_confidence" yaml:"default_confidence"`
}

// DefaultRules returns the built-in rule set used when no rules file is
// configured.
func DefaultRules() Rules {
	return Rules{
		FieldAliases: map[string][]string{
			"document_type":    {"document_type"},
			"vendor_name":      {"vendor_name", "vendor", "merchant_name", "vendor.name"},
			"vendor_tax_id":    {"vendor_tax_id", "tax_id", "vat_id"},
			"invoice_number":   {"invoice_number", "order_id", "invoice_id"},
			"invoice_date":     {"invoice_date", "order_date", "date"},
			"due_date":         {"due_date"},
			"currency":         {"currency"},
			"subtotal":         {"subtotal", "sub_total"},
			"tax_amount":       {"tax_amount", "tax", "vat"},
			"total_amount":     {"total_amount", "total", "order_total", "grand_total"},
			"payment_method":   {"payment_method"},
			"line_items":       {"line_items", "items", "products"},
			"model_confidence": {"model_confidence", "confidence", "confidence_score"},
		},
		LineItemAliases: map[string][]string{
			"description": {"description", "name", "title"},
			"quantity":    {"quantity", "qty"},
			"unit_price":  {"unit_price", "price"},
			"line_total":  {"line_total", "total", "amount"},
			"category":    {"category"},
		},
		PaymentMethodMap: map[string][]string{
			"card": {"card", "credit", "visa", "mastercard", "amex"},
			"cash": {"cash", "cod"},
			"bank": {"bank", "transfer", "wire"},
		},
		LineItemIgnoreKeywords: []string{
			"subtotal", "sub total", "sub-total", "grand total", "total due",
			"amount due", "discount", "vat", "tax", "change",
		},
		AmountTolerance:     0.01,
		DefaultCurrency:     "BDT",
		DefaultDocumentType: "invoice",
		DefaultConfidence:   0.8,
	}
}

// LoadRules reads a rules file. The format is chosen by extension:
// .yaml/.yml use YAML, everything else JSON.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("normalize: read rules file: %w", err)
	}
	var rules Rules
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rules); err != nil {
			return Rules{}, fmt.Errorf("normalize: parse rules yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &rules); err != nil {
			return Rules{}, fmt.Errorf("normalize: parse rules json: %w", err)
		}
	}
	rules.applyDefaults()
	return rules, nil
}

func (r *Rules) applyDefaults() {
	if r.AmountTolerance == 0 {
		r.AmountTolerance = 0.01
	}
	if r.DefaultCurrency == "" {
		r.DefaultCurrency = "BDT"
	}
	r.DefaultCurrency = strings.ToUpper(r.DefaultCurrency)
	if r.DefaultDocumentType == "" {
		r.DefaultDocumentType = "invoice"
	}
	r.DefaultDocumentType = strings.ToLower(r.DefaultDocumentType)
	if r.DefaultConfidence == 0 {
		r.DefaultConfidence = 0.8
	}
	for i, kw := range r.LineItemIgnoreKeywords {
		r.LineItemIgnoreKeywords[i] = strings.ToLower(kw)
	}
}
