// Package extract orchestrates structured-field extraction over a chain
// of vision-capable model providers. Provider fallback and the corrective
// JSON retry are separate concerns: fallback iterates across providers on
// any failure, the corrective retry loops within one provider on
// malformed output only.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// Payload keys attached by the orchestrator.
const (
	KeyOCRText  = "_ocr_text"
	KeyProvider = "_provider"
)

// Options steers one extraction call.
type Options struct {
	// ModelHint overrides each provider's default model unless empty
	// or "auto".
	ModelHint string
	// ProviderHint selects a single provider by name, or one of
	// "auto", "fallback", "multi" (or empty) for the fallback chain.
	ProviderHint string
	// ProviderOrder is the fallback chain order; DefaultProviderOrder
	// when empty.
	ProviderOrder []string
	// Client bypasses resolution entirely when set.
	Client Client
}

// Extract runs mime gating, client resolution, the first extraction
// attempt and at most one corrective retry, returning the parsed payload
// with _provider (and _ocr_text when available) attached. Failures are
// *Error values tagged with a machine code.
func Extract(ctx context.Context, filePath string, opts Options) (map[string]any, error) {
	if _, ok := MimeForPath(filePath); !ok {
		return nil, newError(CodeUnsupportedType, "", "unsupported file type: %q", filePath)
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, newError(CodeFileNotFound, "", "%v", err)
	}

	client := opts.Client
	if client == nil {
		resolved, err := ResolveClient(opts.ProviderHint, opts.ProviderOrder)
		if err != nil {
			return nil, err
		}
		client = resolved
	}

	raw, err := client.ExtractJSON(ctx, filePath, opts.ModelHint, extractionPrompt)
	if err != nil {
		return nil, wrapClientError(client, err)
	}

	payload, parseErr := parsePayload(raw)
	if parseErr != nil {
		code := ErrorCode(parseErr)
		if code != CodeInvalidJSON && code != CodeInvalidJSONShape {
			return nil, parseErr
		}
		// Corrective retry: same client, terser prompt, exactly once.
		raw, err = client.ExtractJSON(ctx, filePath, opts.ModelHint, correctivePrompt)
		if err != nil {
			return nil, wrapClientError(client, err)
		}
		payload, parseErr = parsePayload(raw)
		if parseErr != nil {
			return nil, parseErr
		}
	}

	payload[KeyProvider] = providerName(client)
	if texter, ok := client.(OCRTexter); ok {
		if text := texter.OCRText(); text != "" {
			if _, present := payload[KeyOCRText]; !present {
				payload[KeyOCRText] = text
			}
		}
	}
	return payload, nil
}

// ResolveClient maps a provider hint to a concrete client. Chain hints
// build a MultiProviderClient over every provider in order that has a
// credential; specific hints fail hard on a missing key.
func ResolveClient(providerHint string, order []string) (Client, error) {
	hint := strings.ToLower(strings.TrimSpace(providerHint))
	switch hint {
	case "", "auto", "fallback", "multi":
		if len(order) == 0 {
			order = DefaultProviderOrder
		}
		var entries []ProviderEntry
		for _, name := range order {
			client, err := NewProviderClient(name)
			if err != nil {
				if ErrorCode(err) == CodeMissingAPIKey {
					continue
				}
				return nil, err
			}
			entries = append(entries, ProviderEntry{Name: client.Name(), Client: client})
		}
		if len(entries) == 0 {
			return nil, newError(CodeMissingAPIKey, "", "no provider in %v has a credential", order)
		}
		return NewMultiProviderClient(entries), nil
	default:
		return NewProviderClient(hint)
	}
}

func providerName(client Client) string {
	if name := client.Name(); name != "" {
		return name
	}
	return "auto"
}

// parsePayload decodes the raw model text into a JSON object, tolerating
// a markdown code fence around the JSON.
func parsePayload(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, newError(CodeEmptyResponse, "", "provider returned empty text")
	}
	text = stripFence(text)

	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, newError(CodeInvalidJSON, "", "%v", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, newError(CodeInvalidJSONShape, "", "top-level JSON value is not an object")
	}
	return obj, nil
}

// stripFence removes a surrounding ```json … ``` block if present.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	trimmed := strings.TrimPrefix(text, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func wrapClientError(client Client, err error) error {
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	return &Error{
		Code:     CodeProviderRequestFailed,
		Provider: client.Name(),
		Message:  err.Error(),
		Err:      err,
	}
}
