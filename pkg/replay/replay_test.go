package replay_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/pkg/claims"
	"github.com/docledger/docledger/pkg/deadletter"
	"github.com/docledger/docledger/pkg/lifecycle"
	"github.com/docledger/docledger/pkg/replay"
)

type fixture struct {
	letters *deadletter.Store
	store   *claims.Store
	engine  *replay.Engine
	audit   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	letters, err := deadletter.NewStore(filepath.Join(root, "dead_letter.jsonl"))
	require.NoError(t, err)
	store, err := claims.Open(filepath.Join(root, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	audit := filepath.Join(root, "replay_audit.jsonl")
	return &fixture{
		letters: letters,
		store:   store,
		engine:  replay.NewEngine(letters, store, audit, "replayer"),
		audit:   audit,
	}
}

func (f *fixture) auditLines(t *testing.T) []replay.AuditEntry {
	t.Helper()
	data, err := os.ReadFile(f.audit)
	require.NoError(t, err)
	var entries []replay.AuditEntry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry replay.AuditEntry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestReplay_QueuesFailedEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Seed a FAILED claim and its dead-letter entry.
	_, err := f.store.Claim(ctx, "inbox/a.jpg", "hash-a", "worker-1")
	require.NoError(t, err)
	require.NoError(t, f.store.MarkStatus(ctx, "inbox/a.jpg", "hash-a", lifecycle.StateFailed))
	require.NoError(t, f.letters.WriteFailure(deadletter.Entry{
		DocumentID: "doc-a", SourceID: "inbox/a.jpg", ContentHash: "hash-a",
		Status: "FAILED", ErrorCode: "all_providers_failed",
	}))

	summary, err := f.engine.Replay(ctx, "FAILED")
	require.NoError(t, err)
	assert.Equal(t, replay.Summary{Queued: 1}, summary)

	// The re-claim reset the row to CLAIMED under the replay owner.
	status, ok, err := f.store.Status(ctx, "inbox/a.jpg", "hash-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lifecycle.StateClaimed, status)

	lines := f.auditLines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, replay.DecisionQueued, lines[0].Decision)
}

func TestReplay_SkipsProcessedAndInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// One entry whose fingerprint was stored after the failure.
	_, err := f.store.Claim(ctx, "inbox/b.jpg", "hash-b", "worker-1")
	require.NoError(t, err)
	require.NoError(t, f.store.MarkStatus(ctx, "inbox/b.jpg", "hash-b", lifecycle.StateStored))
	require.NoError(t, f.letters.WriteFailure(deadletter.Entry{
		DocumentID: "doc-b", SourceID: "inbox/b.jpg", ContentHash: "hash-b",
		Status: "FAILED", ErrorCode: "pipeline_error",
	}))

	// One entry missing its content hash.
	require.NoError(t, f.letters.WriteFailure(deadletter.Entry{
		DocumentID: "doc-c", SourceID: "inbox/c.jpg",
		Status: "FAILED", ErrorCode: "pipeline_error",
	}))

	summary, err := f.engine.Replay(ctx, "FAILED")
	require.NoError(t, err)
	assert.Equal(t, replay.Summary{SkippedProcessed: 1, SkippedInvalid: 1}, summary)

	// Still STORED: replay never re-claims a processed fingerprint.
	status, _, err := f.store.Status(ctx, "inbox/b.jpg", "hash-b")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateStored, status)

	decisions := map[string]bool{}
	for _, line := range f.auditLines(t) {
		decisions[line.Decision] = true
	}
	assert.True(t, decisions[replay.DecisionSkippedProcessed])
	assert.True(t, decisions[replay.DecisionSkippedInvalid])
}

func TestReplay_FiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.letters.WriteFailure(deadletter.Entry{
		DocumentID: "doc-d", SourceID: "inbox/d.jpg", ContentHash: "hash-d",
		Status: "REVIEW_REQUIRED", ErrorCode: "low_confidence",
	}))

	summary, err := f.engine.Replay(ctx, "FAILED")
	require.NoError(t, err)
	assert.Equal(t, replay.Summary{}, summary)

	summary, err = f.engine.Replay(ctx, "REVIEW_REQUIRED")
	require.NoError(t, err)
	assert.Equal(t, replay.Summary{Queued: 1}, summary)
}
