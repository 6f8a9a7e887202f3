package normalize

import (
	"regexp"
	"strings"
)

var vendorStripRE = regexp.MustCompile(`[^a-z0-9\s-]`)

// DefaultVendorRules maps lowercase vendor patterns to canonical names.
var DefaultVendorRules = map[string]string{
	"walmart":        "Walmart",
	"wal-mart":       "Walmart",
	"wm supercenter": "Walmart",
	"amazon":         "Amazon",
	"amzn":           "Amazon",
	"starbucks":      "Starbucks",
}

// CanonicalVendor maps a noisy vendor string to its canonical name when a
// pattern matches; otherwise returns the trimmed input.
func CanonicalVendor(vendorName string, rules map[string]string) string {
	active := rules
	if active == nil {
		active = DefaultVendorRules
	}
	normalized := strings.TrimSpace(vendorStripRE.ReplaceAllString(strings.ToLower(vendorName), ""))
	for pattern, canonical := range active {
		if strings.Contains(normalized, pattern) {
			return canonical
		}
	}
	return strings.TrimSpace(vendorName)
}

// CategoryModelClient suggests a spend category for free text.
type CategoryModelClient interface {
	SuggestCategory(text string) (category string, confidence float64, err error)
}

// CategorySuggestion is a category guess with its provenance.
type CategorySuggestion struct {
	Category   string
	Confidence float64
	Source     string // "rules", "model", or "fallback"
}

var defaultCategoryKeywords = []struct {
	category string
	keywords []string
}{
	{"office_supplies", []string{"paper", "printer", "ink", "stationery"}},
	{"travel", []string{"uber", "lyft", "taxi", "flight", "hotel"}},
	{"food_beverage", []string{"coffee", "restaurant", "cafe", "meal", "lunch"}},
	{"software", []string{"subscription", "license", "cloud", "saas"}},
}

// SuggestCategory tries keyword rules first, then the optional model
// client, and finally falls back to "uncategorized".
func SuggestCategory(text string, modelClient CategoryModelClient) CategorySuggestion {
	lowered := strings.ToLower(text)
	for _, entry := range defaultCategoryKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(lowered, keyword) {
				return CategorySuggestion{Category: entry.category, Confidence: 0.85, Source: "rules"}
			}
		}
	}
	if modelClient != nil {
		if category, confidence, err := modelClient.SuggestCategory(text); err == nil {
			return CategorySuggestion{Category: category, Confidence: confidence, Source: "model"}
		}
	}
	return CategorySuggestion{Category: "uncategorized", Confidence: 0.2, Source: "fallback"}
}
