// Package deadletter persists terminal processing failures as an
// append-only JSON-lines log. Each record is written with a single write
// so concurrent appenders never interleave partial lines.
package deadletter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry is one dead-letter record.
type Entry struct {
	RecordedAt   string `json:"recorded_at_utc"`
	DocumentID   string `json:"document_id"`
	SourceID     string `json:"source_id"`
	ContentHash  string `json:"content_hash"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	UsedProvider string `json:"used_provider,omitempty"`
}

// Store appends and reads dead-letter entries from a JSONL file.
type Store struct {
	path  string
	clock func() time.Time
}

// NewStore creates a store for the given file path, creating parent
// directories as needed.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("deadletter: create log dir: %w", err)
		}
	}
	return &Store{path: path, clock: time.Now}, nil
}

// WithClock overrides the timestamp source for testing.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// Path returns the underlying file path.
func (s *Store) Path() string { return s.path }

// WriteFailure appends one entry, stamping RecordedAt.
func (s *Store) WriteFailure(entry Entry) error {
	entry.RecordedAt = s.clock().UTC().Format(time.RFC3339Nano)
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("deadletter: marshal entry: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("deadletter: open log: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("deadletter: append entry: %w", err)
	}
	return nil
}

// ListFailures returns entries in log order, optionally filtered by status.
// A missing file yields an empty list.
func (s *Store) ListFailures(status string) ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("deadletter: read log: %w", err)
	}
	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("deadletter: decode entry: %w", err)
		}
		if status != "" && entry.Status != status {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
