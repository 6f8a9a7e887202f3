package extract

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Client is the vision-provider contract. Implementations surface every
// provider failure as an error; the fallback chain treats any error as
// "try the next provider".
type Client interface {
	// Name identifies the provider in payloads and dead-letter entries.
	Name() string
	// ExtractJSON sends the file and prompt to the provider and returns
	// the raw model text. model overrides the provider default when it
	// is neither empty nor "auto".
	ExtractJSON(ctx context.Context, filePath, model, prompt string) (string, error)
}

// OCRTexter is implemented by clients that produce intermediate page
// text alongside the structured answer.
type OCRTexter interface {
	OCRText() string
}

// ProviderEntry is one slot in the fallback chain.
type ProviderEntry struct {
	Name   string
	Client Client
	Model  string
}

// MultiProviderClient walks an ordered provider list, giving each one
// call per attempt. The name it reports is the provider that answered
// last, so payload attribution follows the winner.
type MultiProviderClient struct {
	entries []ProviderEntry
	used    Client
}

// NewMultiProviderClient builds a fallback chain over entries.
func NewMultiProviderClient(entries []ProviderEntry) *MultiProviderClient {
	return &MultiProviderClient{entries: entries}
}

func (m *MultiProviderClient) Name() string {
	if m.used != nil {
		return m.used.Name()
	}
	return "auto"
}

// OCRText relays the winning provider's page text, if it has any.
func (m *MultiProviderClient) OCRText() string {
	if texter, ok := m.used.(OCRTexter); ok {
		return texter.OCRText()
	}
	return ""
}

func (m *MultiProviderClient) ExtractJSON(ctx context.Context, filePath, model, prompt string) (string, error) {
	var reasons []string
	for _, entry := range m.entries {
		entryModel := entry.Model
		if model != "" && model != "auto" {
			entryModel = model
		}
		raw, err := entry.Client.ExtractJSON(ctx, filePath, entryModel, prompt)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", entry.Name, err))
			continue
		}
		m.used = entry.Client
		return raw, nil
	}
	return "", newError(CodeAllProvidersFailed, "", "%s", strings.Join(reasons, "; "))
}

// fileDataURI inlines the file as a base64 data URI for chat-vision
// and OCR endpoints.
func fileDataURI(filePath string) (string, error) {
	mimeType, ok := MimeForPath(filePath)
	if !ok {
		return "", newError(CodeUnsupportedType, "", "no mime type for %q", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
