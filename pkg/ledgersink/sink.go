// Package ledgersink appends validated ledger records to a tabular
// backend. Two sinks implement the contract: a Postgres table and a
// Google Sheets spreadsheet. Each sink owns its own dedup on the
// document's file hash.
package ledgersink

import (
	"context"

	"github.com/docledger/docledger/pkg/validate"
)

// Append outcomes.
const (
	StatusAppended         = "appended"
	StatusSkippedDuplicate = "skipped_duplicate"
)

// Metadata travels alongside the record into the ledger.
type Metadata struct {
	DocumentID      string
	SourceID        string
	FileHash        string
	Provider        string
	ValidationScore float64
	NeedsReview     bool
}

// AppendResult reports what the sink did with the record.
type AppendResult struct {
	Status string
	// RowRef identifies where the record landed: a row id for Postgres,
	// an updated range for Sheets. Empty on skip.
	RowRef string
}

// Sink is the ledger append contract.
type Sink interface {
	Append(ctx context.Context, record validate.CanonicalRecord, meta Metadata) (AppendResult, error)
}
