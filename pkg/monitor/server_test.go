package monitor_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/pkg/deadletter"
	"github.com/docledger/docledger/pkg/monitor"
	"github.com/docledger/docledger/pkg/review"
)

func newTestServer(t *testing.T) (*httptest.Server, *deadletter.Store, *review.Queue, string) {
	t.Helper()
	root := t.TempDir()
	letters, err := deadletter.NewStore(filepath.Join(root, "dead_letter.jsonl"))
	require.NoError(t, err)
	reviews, err := review.NewQueue(filepath.Join(root, "review_queue"))
	require.NoError(t, err)
	metricsPath := filepath.Join(root, "metrics.jsonl")

	server := httptest.NewServer(monitor.NewServer(letters, reviews, metricsPath, nil).Handler())
	t.Cleanup(server.Close)
	return server, letters, reviews, metricsPath
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	server, _, _, _ := newTestServer(t)
	body := getJSON(t, server.URL+"/health")
	assert.Equal(t, "ok", body["status"])
}

func TestStats(t *testing.T) {
	server, letters, reviews, metricsPath := newTestServer(t)

	require.NoError(t, letters.WriteFailure(deadletter.Entry{
		DocumentID: "doc-1", SourceID: "inbox/a.jpg", ContentHash: "h1", Status: "FAILED",
	}))
	_, err := reviews.Submit("doc-2", []string{review.ReasonLowConfidence}, "", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metricsPath,
		[]byte(`{"event":"cycle_snapshot","throughput_total":3,"success_total":2}`+"\n"), 0o644))

	body := getJSON(t, server.URL+"/stats")
	assert.Equal(t, float64(1), body["dead_letter_total"])
	assert.Equal(t, float64(1), body["review_queue_total"])
	snapshot, ok := body["last_cycle"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), snapshot["throughput_total"])
}

func TestFailuresLimit(t *testing.T) {
	server, letters, _, _ := newTestServer(t)
	for _, id := range []string{"doc-1", "doc-2", "doc-3"} {
		require.NoError(t, letters.WriteFailure(deadletter.Entry{
			DocumentID: id, SourceID: "inbox/x.jpg", ContentHash: "h", Status: "FAILED",
		}))
	}

	body := getJSON(t, server.URL+"/failures?limit=2")
	failures, ok := body["failures"].([]any)
	require.True(t, ok)
	require.Len(t, failures, 2)
	// The newest entries win.
	newest := failures[1].(map[string]any)
	assert.Equal(t, "doc-3", newest["document_id"])

	resp, err := http.Get(server.URL + "/failures?limit=zero")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBacklog(t *testing.T) {
	server, letters, reviews, _ := newTestServer(t)

	require.NoError(t, letters.WriteFailure(deadletter.Entry{
		DocumentID: "doc-1", SourceID: "inbox/a.jpg", ContentHash: "h1", Status: "FAILED",
	}))
	require.NoError(t, letters.WriteFailure(deadletter.Entry{
		DocumentID: "doc-2", SourceID: "inbox/b.jpg", ContentHash: "h2", Status: "REVIEW_REQUIRED",
	}))
	_, err := reviews.Submit("doc-2", []string{review.ReasonValidationFailed}, "", nil)
	require.NoError(t, err)

	body := getJSON(t, server.URL+"/backlog")
	assert.Equal(t, float64(1), body["review_queue_total"])
	assert.Equal(t, float64(1), body["dead_letter_total"])
	assert.Equal(t, float64(2), body["attention_total"])
}
