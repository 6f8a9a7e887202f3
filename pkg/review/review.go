// Package review holds the routing decision and the human-review queue.
package review

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docledger/docledger/pkg/lifecycle"
)

// Reason codes attached to routing decisions and review records.
const (
	ReasonValidationFailed       = "validation_failed"
	ReasonLowConfidence          = "low_confidence"
	ReasonSchemaValidationFailed = "schema_validation_failed"
)

// Decision is the outcome of the routing policy for one document.
type Decision struct {
	Status      lifecycle.State
	ReasonCodes []string
}

// NeedsReview reports whether the decision routes to the review queue.
func (d Decision) NeedsReview() bool {
	return d.Status == lifecycle.StateReviewRequired
}

// Decide routes a document from its validity and model confidence.
// Any collected reason sends the document to review; otherwise it
// advances to VALIDATED.
func Decide(isValid bool, modelConfidence, confidenceThreshold float64) Decision {
	var reasons []string
	if !isValid {
		reasons = append(reasons, ReasonValidationFailed)
	}
	if modelConfidence < confidenceThreshold {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if len(reasons) > 0 {
		return Decision{Status: lifecycle.StateReviewRequired, ReasonCodes: reasons}
	}
	return Decision{Status: lifecycle.StateValidated}
}

// Record is the persisted review event for one document.
type Record struct {
	Status            string         `json:"status"`
	ReasonCodes       []string       `json:"reason_codes"`
	CreatedAt         string         `json:"created_at_utc"`
	SourceFileMovedTo string         `json:"source_file_moved_to,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Queue persists one JSON record per review event under a directory,
// keyed by document id. Filenames are id-unique, so concurrent workers
// never collide; a repeated submit for the same document overwrites.
type Queue struct {
	dir   string
	clock func() time.Time
}

// NewQueue creates the queue directory if needed.
func NewQueue(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("review: create queue dir: %w", err)
	}
	return &Queue{dir: dir, clock: time.Now}, nil
}

// WithClock overrides the timestamp source for testing.
func (q *Queue) WithClock(clock func() time.Time) *Queue {
	q.clock = clock
	return q
}

// Dir returns the queue directory.
func (q *Queue) Dir() string { return q.dir }

// Submit writes the review record for documentID. When sourceFile is
// non-empty the file is moved (not copied) into the queue directory and
// its new location is recorded.
func (q *Queue) Submit(documentID string, reasonCodes []string, sourceFile string, metadata map[string]any) (Record, error) {
	record := Record{
		Status:      string(lifecycle.StateReviewRequired),
		ReasonCodes: reasonCodes,
		CreatedAt:   q.clock().UTC().Format(time.RFC3339Nano),
		Metadata:    metadata,
	}
	if sourceFile != "" {
		dest := filepath.Join(q.dir, documentID+filepath.Ext(sourceFile))
		if err := os.Rename(sourceFile, dest); err != nil {
			return Record{}, fmt.Errorf("review: move source file: %w", err)
		}
		record.SourceFileMovedTo = dest
	}

	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("review: marshal record: %w", err)
	}
	path := filepath.Join(q.dir, documentID+".json")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return Record{}, fmt.Errorf("review: write record: %w", err)
	}
	return record, nil
}

// Count returns the number of review records currently in the queue.
func (q *Queue) Count() (int, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("review: read queue dir: %w", err)
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			n++
		}
	}
	return n, nil
}
