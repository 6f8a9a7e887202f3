// Package logging configures structured JSON logging for the pipeline.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a LOG_LEVEL string to a slog level. Unknown values
// fall back to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Configure installs a JSON handler on stderr as the default logger and
// returns it.
func Configure(level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

// DocumentEvent carries the per-document attributes attached to pipeline
// log lines.
type DocumentEvent struct {
	DocumentID string
	SourceID   string
	State      string
	Stage      string
	LatencyMS  int64
	Outcome    string
}

// Attrs renders the event as slog attributes, omitting unset fields.
func (e DocumentEvent) Attrs() []any {
	attrs := []any{slog.String("document_id", e.DocumentID)}
	if e.SourceID != "" {
		attrs = append(attrs, slog.String("source_id", e.SourceID))
	}
	if e.State != "" {
		attrs = append(attrs, slog.String("state", e.State))
	}
	if e.Stage != "" {
		attrs = append(attrs, slog.String("stage", e.Stage))
	}
	if e.LatencyMS > 0 {
		attrs = append(attrs, slog.Int64("latency_ms", e.LatencyMS))
	}
	if e.Outcome != "" {
		attrs = append(attrs, slog.String("outcome", e.Outcome))
	}
	return attrs
}
