package extract

import (
	"errors"
	"fmt"
)

// Machine-readable extraction failure codes. The pipeline dead-letters
// documents under these codes, so they are part of the replay contract.
const (
	CodeUnsupportedType       = "unsupported_type"
	CodeFileNotFound          = "file_not_found"
	CodeMissingAPIKey         = "missing_api_key"
	CodeUnsupportedProvider   = "unsupported_provider"
	CodeInvalidJSON           = "invalid_json"
	CodeInvalidJSONShape      = "invalid_json_shape"
	CodeEmptyResponse         = "empty_response"
	CodeProviderRequestFailed = "provider_request_failed"
	CodeAllProvidersFailed    = "all_providers_failed"
)

// Error is a tagged extraction failure.
type Error struct {
	Code     string
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("extract: %s (%s): %s", e.Code, e.Provider, e.Message)
	}
	return fmt.Sprintf("extract: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, provider, format string, args ...any) *Error {
	return &Error{Code: code, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode returns the extraction code carried by err, or "" when err
// is not an extraction failure.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
