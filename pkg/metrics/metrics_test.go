package metrics_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/pkg/metrics"
)

func TestCollector_SnapshotKeys(t *testing.T) {
	c := metrics.NewCollector()
	c.Increment(metrics.CounterProcessed)
	c.Increment(metrics.CounterProcessed)
	c.Increment(metrics.CounterSuccess)
	c.Increment(metrics.CounterDuplicateSkipped)

	snap := c.TakeSnapshot()
	assert.Equal(t, int64(2), snap.ThroughputTotal)
	assert.Equal(t, int64(1), snap.SuccessTotal)
	assert.Equal(t, int64(0), snap.ReviewTotal)
	assert.Equal(t, int64(0), snap.FailureTotal)
	assert.Equal(t, int64(1), snap.DuplicateSkipsTotal)
	assert.Equal(t, int64(0), snap.LatencyP95MS)
}

func TestCollector_LatencyP95(t *testing.T) {
	c := metrics.NewCollector()
	for ms := int64(1); ms <= 100; ms++ {
		c.ObserveLatency(ms)
	}
	// Nearest-rank on sorted samples: index int(0.95*99) = 94 -> value 95.
	assert.Equal(t, int64(95), c.TakeSnapshot().LatencyP95MS)

	single := metrics.NewCollector()
	single.ObserveLatency(42)
	assert.Equal(t, int64(42), single.TakeSnapshot().LatencyP95MS)
}

func TestJSONLSink_Emit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	sink, err := metrics.NewJSONLSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Emit(map[string]any{
		"metric": "success_total",
		"value":  3,
		"stage":  "poll_once",
	}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var event map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
	assert.Equal(t, "success_total", event["metric"])
	assert.EqualValues(t, 3, event["value"])
	assert.NotEmpty(t, event["recorded_at_utc"])
	assert.False(t, scanner.Scan(), "exactly one line expected")
}
