// Package metrics collects in-memory pipeline counters and latency samples
// and emits them to an append-only JSON-lines sink at the end of a cycle.
package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Counter names incremented by the pipeline.
const (
	CounterProcessed        = "documents_processed_total"
	CounterSuccess          = "documents_success_total"
	CounterReview           = "documents_review_total"
	CounterFailed           = "documents_failed_total"
	CounterDuplicateSkipped = "documents_duplicate_skipped_total"
)

// Collector accumulates counters and latency observations for one cycle.
type Collector struct {
	mu        sync.Mutex
	counters  map[string]int64
	latencies []int64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{counters: make(map[string]int64)}
}

// Increment adds one to the named counter.
func (c *Collector) Increment(name string) { c.Add(name, 1) }

// Add adds value to the named counter.
func (c *Collector) Add(name string, value int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += value
}

// ObserveLatency records one latency sample in milliseconds.
func (c *Collector) ObserveLatency(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = append(c.latencies, ms)
}

// Counter returns the current value of the named counter.
func (c *Collector) Counter(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// Snapshot is the aggregate view emitted at cycle end.
type Snapshot struct {
	ThroughputTotal     int64 `json:"throughput_total"`
	SuccessTotal        int64 `json:"success_total"`
	ReviewTotal         int64 `json:"review_total"`
	FailureTotal        int64 `json:"failure_total"`
	DuplicateSkipsTotal int64 `json:"duplicate_skips_total"`
	LatencyP95MS        int64 `json:"latency_p95_ms"`
}

// TakeSnapshot computes the cycle aggregate. The 95th percentile is
// nearest-rank on the sorted samples (index int(0.95*(n-1))).
func (c *Collector) TakeSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var p95 int64
	if len(c.latencies) > 0 {
		ordered := make([]int64, len(c.latencies))
		copy(ordered, c.latencies)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
		idx := int(0.95 * float64(len(ordered)-1))
		p95 = ordered[idx]
	}
	return Snapshot{
		ThroughputTotal:     c.counters[CounterProcessed],
		SuccessTotal:        c.counters[CounterSuccess],
		ReviewTotal:         c.counters[CounterReview],
		FailureTotal:        c.counters[CounterFailed],
		DuplicateSkipsTotal: c.counters[CounterDuplicateSkipped],
		LatencyP95MS:        p95,
	}
}

// Counters returns the snapshot as named integer metrics, for per-metric
// sink emission.
func (s Snapshot) Counters() map[string]int64 {
	return map[string]int64{
		"throughput_total":      s.ThroughputTotal,
		"success_total":         s.SuccessTotal,
		"review_total":          s.ReviewTotal,
		"failure_total":         s.FailureTotal,
		"duplicate_skips_total": s.DuplicateSkipsTotal,
		"latency_p95_ms":        s.LatencyP95MS,
	}
}

// JSONLSink appends metric events to a JSON-lines file.
type JSONLSink struct {
	path  string
	clock func() time.Time
}

// NewJSONLSink creates a sink at path, creating parent directories.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("metrics: create log dir: %w", err)
		}
	}
	return &JSONLSink{path: path, clock: time.Now}, nil
}

// WithClock overrides the timestamp source for testing.
func (s *JSONLSink) WithClock(clock func() time.Time) *JSONLSink {
	s.clock = clock
	return s
}

// Emit appends one event line, stamping recorded_at_utc.
func (s *JSONLSink) Emit(event map[string]any) error {
	payload := map[string]any{
		"recorded_at_utc": s.clock().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range event {
		payload[k] = v
	}
	line, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("metrics: marshal event: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("metrics: open sink: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("metrics: append event: %w", err)
	}
	return nil
}
