package ledgersink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // postgres driver

	"github.com/docledger/docledger/pkg/validate"
)

// PostgresSink appends ledger records to a relational table. Dedup rides
// on a unique index over file_hash: a conflicting insert is a no-op and
// reports skipped_duplicate.
type PostgresSink struct {
	db    *sql.DB
	table string
}

// OpenPostgres connects and ensures the ledger table exists. table must
// be a trusted identifier (it comes from configuration, not user input).
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledgersink: open postgres: %w", err)
	}
	s := &PostgresSink{db: db, table: table}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSinkFromDB wraps an existing connection without migrating.
// Used by tests and callers that manage the schema themselves.
func NewPostgresSinkFromDB(db *sql.DB, table string) *PostgresSink {
	return &PostgresSink{db: db, table: table}
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error { return s.db.Close() }

func (s *PostgresSink) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id               BIGSERIAL PRIMARY KEY,
			file_hash        TEXT NOT NULL UNIQUE,
			document_id      TEXT NOT NULL,
			source_id        TEXT NOT NULL,
			invoice_date     DATE NOT NULL,
			vendor_name      TEXT NOT NULL,
			document_type    TEXT NOT NULL,
			currency         CHAR(3) NOT NULL,
			subtotal         NUMERIC(14,2) NOT NULL,
			tax_amount       NUMERIC(14,2) NOT NULL,
			total_amount     NUMERIC(14,2) NOT NULL,
			payment_method   TEXT NOT NULL,
			validation_score DOUBLE PRECISION NOT NULL,
			needs_review     BOOLEAN NOT NULL,
			used_provider    TEXT,
			record_json      JSONB NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table))
	if err != nil {
		return fmt.Errorf("ledgersink: migrate: %w", err)
	}
	return nil
}

func (s *PostgresSink) Append(ctx context.Context, record validate.CanonicalRecord, meta Metadata) (AppendResult, error) {
	encoded, err := json.Marshal(record)
	if err != nil {
		return AppendResult{}, fmt.Errorf("ledgersink: marshal record: %w", err)
	}
	var rowID int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			file_hash, document_id, source_id, invoice_date, vendor_name,
			document_type, currency, subtotal, tax_amount, total_amount,
			payment_method, validation_score, needs_review, used_provider,
			record_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (file_hash) DO NOTHING
		RETURNING id`, s.table),
		meta.FileHash, meta.DocumentID, meta.SourceID, record.InvoiceDate,
		record.VendorName, record.DocumentType, record.Currency,
		record.Subtotal, record.TaxAmount, record.TotalAmount,
		record.PaymentMethod, meta.ValidationScore, meta.NeedsReview,
		meta.Provider, encoded,
	).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return AppendResult{Status: StatusSkippedDuplicate}, nil
	}
	if err != nil {
		return AppendResult{}, fmt.Errorf("ledgersink: insert record: %w", err)
	}
	return AppendResult{Status: StatusAppended, RowRef: fmt.Sprintf("%d", rowID)}, nil
}
