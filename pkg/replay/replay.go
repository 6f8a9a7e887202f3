// Package replay re-enqueues dead-lettered documents. Each decision is
// appended to an audit log; entries whose fingerprint already reached a
// processed terminal state are never re-claimed.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docledger/docledger/pkg/claims"
	"github.com/docledger/docledger/pkg/deadletter"
)

// Audit decisions.
const (
	DecisionQueued           = "queued_for_replay"
	DecisionSkippedProcessed = "skipped_processed"
	DecisionSkippedInvalid   = "skipped_invalid"
)

// Summary tallies one replay run.
type Summary struct {
	Queued           int `json:"queued"`
	SkippedProcessed int `json:"skipped_processed"`
	SkippedInvalid   int `json:"skipped_invalid"`
}

// AuditEntry is one line of the replay audit log.
type AuditEntry struct {
	RecordedAt  string `json:"recorded_at_utc"`
	DocumentID  string `json:"document_id"`
	SourceID    string `json:"source_id"`
	ContentHash string `json:"content_hash"`
	Decision    string `json:"decision"`
	ClaimStatus string `json:"claim_status,omitempty"`
}

// ClaimStore is the claim surface the engine needs.
type ClaimStore interface {
	Claim(ctx context.Context, sourceID, contentHash, ownerID string) (claims.ClaimResult, error)
}

// Engine replays dead-letter entries through the claim store.
type Engine struct {
	letters   *deadletter.Store
	claims    ClaimStore
	auditPath string
	ownerID   string
	clock     func() time.Time
}

// NewEngine builds a replay engine writing its audit trail to auditPath.
func NewEngine(letters *deadletter.Store, claimStore ClaimStore, auditPath, ownerID string) *Engine {
	return &Engine{
		letters:   letters,
		claims:    claimStore,
		auditPath: auditPath,
		ownerID:   ownerID,
		clock:     time.Now,
	}
}

// WithClock overrides the audit timestamp source for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Replay reads the dead-letter log filtered by status and re-claims each
// eligible entry. Entries missing source_id, content_hash or document_id
// are skipped as invalid. A fingerprint already STORED or ARCHIVED is
// skipped as processed; every other claim outcome queues the entry.
func (e *Engine) Replay(ctx context.Context, status string) (Summary, error) {
	entries, err := e.letters.ListFailures(status)
	if err != nil {
		return Summary{}, fmt.Errorf("replay: read dead-letter log: %w", err)
	}

	var summary Summary
	for _, entry := range entries {
		audit := AuditEntry{
			DocumentID:  entry.DocumentID,
			SourceID:    entry.SourceID,
			ContentHash: entry.ContentHash,
		}
		if entry.SourceID == "" || entry.ContentHash == "" || entry.DocumentID == "" {
			summary.SkippedInvalid++
			audit.Decision = DecisionSkippedInvalid
			if err := e.appendAudit(audit); err != nil {
				return summary, err
			}
			continue
		}

		result, err := e.claims.Claim(ctx, entry.SourceID, entry.ContentHash, e.ownerID)
		if err != nil {
			return summary, fmt.Errorf("replay: claim %s/%s: %w", entry.SourceID, entry.ContentHash, err)
		}
		audit.ClaimStatus = string(result.Status)
		if result.Status == claims.AlreadyProcessed {
			summary.SkippedProcessed++
			audit.Decision = DecisionSkippedProcessed
		} else {
			summary.Queued++
			audit.Decision = DecisionQueued
		}
		if err := e.appendAudit(audit); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (e *Engine) appendAudit(entry AuditEntry) error {
	entry.RecordedAt = e.clock().UTC().Format(time.RFC3339Nano)
	if dir := filepath.Dir(e.auditPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("replay: create audit dir: %w", err)
		}
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("replay: marshal audit entry: %w", err)
	}
	f, err := os.OpenFile(e.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("replay: open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("replay: append audit entry: %w", err)
	}
	return nil
}
