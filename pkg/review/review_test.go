package review_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/pkg/lifecycle"
	"github.com/docledger/docledger/pkg/review"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		isValid    bool
		confidence float64
		threshold  float64
		wantStatus lifecycle.State
		wantCodes  []string
	}{
		{"valid and confident", true, 0.9, 0.5, lifecycle.StateValidated, nil},
		{"invalid", false, 0.95, 0.5, lifecycle.StateReviewRequired, []string{review.ReasonValidationFailed}},
		{"low confidence", true, 0.3, 0.5, lifecycle.StateReviewRequired, []string{review.ReasonLowConfidence}},
		{"both", false, 0.3, 0.5, lifecycle.StateReviewRequired, []string{review.ReasonValidationFailed, review.ReasonLowConfidence}},
		{"at threshold passes", true, 0.5, 0.5, lifecycle.StateValidated, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision := review.Decide(tc.isValid, tc.confidence, tc.threshold)
			assert.Equal(t, tc.wantStatus, decision.Status)
			assert.Equal(t, tc.wantCodes, decision.ReasonCodes)
		})
	}
}

func TestQueue_SubmitWritesRecord(t *testing.T) {
	dir := t.TempDir()
	q, err := review.NewQueue(filepath.Join(dir, "review_queue"))
	require.NoError(t, err)
	q.WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })

	record, err := q.Submit("doc-1", []string{review.ReasonLowConfidence}, "", map[string]any{"source_id": "inbox/a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "REVIEW_REQUIRED", record.Status)

	data, err := os.ReadFile(filepath.Join(q.Dir(), "doc-1.json"))
	require.NoError(t, err)
	var decoded review.Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{review.ReasonLowConfidence}, decoded.ReasonCodes)
	assert.Equal(t, "2026-03-01T12:00:00Z", decoded.CreatedAt)
	assert.Equal(t, "inbox/a.jpg", decoded.Metadata["source_id"])
}

func TestQueue_SubmitMovesSourceFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(src, []byte("pdf"), 0o644))

	q, err := review.NewQueue(filepath.Join(dir, "review_queue"))
	require.NoError(t, err)

	record, err := q.Submit("doc-2", []string{review.ReasonSchemaValidationFailed}, src, nil)
	require.NoError(t, err)

	assert.NoFileExists(t, src)
	assert.FileExists(t, record.SourceFileMovedTo)
	assert.Equal(t, filepath.Join(q.Dir(), "doc-2.pdf"), record.SourceFileMovedTo)

	count, err := q.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
