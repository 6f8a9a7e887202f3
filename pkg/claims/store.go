// Package claims implements the durable per-document claim table.
//
// The claim table is the only coordination primitive shared between worker
// processes: for any (source_id, content_hash) at most one concurrent caller
// ever observes a "claimed" result. Acquisition runs inside a BEGIN IMMEDIATE
// transaction so conflicting writers serialize at the engine level.
package claims

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docledger/docledger/pkg/lifecycle"

	_ "modernc.org/sqlite"
)

// ClaimStatus is the outcome of a claim attempt.
type ClaimStatus string

const (
	Claimed          ClaimStatus = "claimed"
	AlreadyClaimed   ClaimStatus = "already_claimed"
	AlreadyProcessed ClaimStatus = "already_processed"
)

// ClaimResult describes the outcome of Claim for one fingerprint.
type ClaimResult struct {
	Status      ClaimStatus
	SourceID    string
	ContentHash string
	OwnerID     string
}

// Store is a SQLite-backed document claim store. Safe for concurrent use;
// multiple processes may share the same database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the claim database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("claims: create data dir: %w", err)
		}
	}
	// busy_timeout and journal_mode are per-connection settings; the
	// _pragma DSN options make the driver apply them on every pooled
	// connection, so a contended BEGIN IMMEDIATE waits for the lock
	// instead of failing with SQLITE_BUSY.
	dsn := "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("claims: open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.ExecContext(context.Background(),
		`CREATE TABLE IF NOT EXISTS document_claims (
			source_id      TEXT NOT NULL,
			content_hash   TEXT NOT NULL,
			status         TEXT NOT NULL,
			owner_id       TEXT,
			claimed_at_utc TEXT NOT NULL,
			updated_at_utc TEXT NOT NULL,
			PRIMARY KEY (source_id, content_hash)
		);`)
	if err != nil {
		return fmt.Errorf("claims: migrate: %w", err)
	}
	return nil
}

// Claim attempts to acquire exclusive processing rights for the fingerprint.
//
//   - absent row: inserted as CLAIMED for ownerID, returns Claimed
//   - FAILED / REVIEW_REQUIRED row: reset to CLAIMED for ownerID (the
//     replay / self-healing path), returns Claimed
//   - STORED / ARCHIVED row: returns AlreadyProcessed
//   - anything else: returns AlreadyClaimed
func (s *Store) Claim(ctx context.Context, sourceID, contentHash, ownerID string) (ClaimResult, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result := ClaimResult{SourceID: sourceID, ContentHash: contentHash}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return result, fmt.Errorf("claims: acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return result, fmt.Errorf("claims: begin immediate: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	res, err := conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO document_claims
		 (source_id, content_hash, status, owner_id, claimed_at_utc, updated_at_utc)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sourceID, contentHash, string(lifecycle.StateClaimed), ownerID, now, now,
	)
	if err != nil {
		return result, fmt.Errorf("claims: insert claim: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return result, fmt.Errorf("claims: rows affected: %w", err)
	}
	if inserted == 1 {
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return result, fmt.Errorf("claims: commit: %w", err)
		}
		commit = true
		result.Status = Claimed
		result.OwnerID = ownerID
		return result, nil
	}

	var status, existingOwner string
	var owner sql.NullString
	err = conn.QueryRowContext(ctx,
		`SELECT status, owner_id FROM document_claims
		 WHERE source_id = ? AND content_hash = ?`,
		sourceID, contentHash,
	).Scan(&status, &owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Row vanished between insert and read; treat as contended.
			result.Status = AlreadyClaimed
			return result, nil
		}
		return result, fmt.Errorf("claims: read existing claim: %w", err)
	}
	existingOwner = owner.String

	switch lifecycle.State(status) {
	case lifecycle.StateFailed, lifecycle.StateReviewRequired:
		_, err := conn.ExecContext(ctx,
			`UPDATE document_claims
			 SET status = ?, owner_id = ?, updated_at_utc = ?
			 WHERE source_id = ? AND content_hash = ?`,
			string(lifecycle.StateClaimed), ownerID, now, sourceID, contentHash,
		)
		if err != nil {
			return result, fmt.Errorf("claims: re-claim update: %w", err)
		}
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return result, fmt.Errorf("claims: commit: %w", err)
		}
		commit = true
		result.Status = Claimed
		result.OwnerID = ownerID
		return result, nil
	case lifecycle.StateStored, lifecycle.StateArchived:
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return result, fmt.Errorf("claims: commit: %w", err)
		}
		commit = true
		result.Status = AlreadyProcessed
		result.OwnerID = existingOwner
		return result, nil
	default:
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return result, fmt.Errorf("claims: commit: %w", err)
		}
		commit = true
		result.Status = AlreadyClaimed
		result.OwnerID = existingOwner
		return result, nil
	}
}

// MarkStatus unconditionally updates the row's status with a fresh
// updated_at. Callers pass only state-machine-legal transitions.
func (s *Store) MarkStatus(ctx context.Context, sourceID, contentHash string, status lifecycle.State) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE document_claims
		 SET status = ?, updated_at_utc = ?
		 WHERE source_id = ? AND content_hash = ?`,
		string(status), now, sourceID, contentHash,
	)
	if err != nil {
		return fmt.Errorf("claims: mark status: %w", err)
	}
	return nil
}

// Status returns the current status of a fingerprint, or ok=false when no
// claim row exists.
func (s *Store) Status(ctx context.Context, sourceID, contentHash string) (lifecycle.State, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM document_claims WHERE source_id = ? AND content_hash = ?`,
		sourceID, contentHash,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("claims: read status: %w", err)
	}
	return lifecycle.State(status), true, nil
}
