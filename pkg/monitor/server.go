// Package monitor serves the read-only HTTP monitoring API over the
// pipeline's on-disk state: dead-letter log, review queue and metrics
// snapshots.
package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docledger/docledger/pkg/deadletter"
	"github.com/docledger/docledger/pkg/review"
)

// Server exposes /health, /stats, /failures and /backlog.
type Server struct {
	letters     *deadletter.Store
	reviews     *review.Queue
	metricsPath string
	logger      *slog.Logger
}

// NewServer builds the monitoring server over the given state files.
func NewServer(letters *deadletter.Store, reviews *review.Queue, metricsPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{letters: letters, reviews: reviews, metricsPath: metricsPath, logger: logger}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /failures", s.handleFailures)
	mux.HandleFunc("GET /backlog", s.handleBacklog)
	return mux
}

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("monitoring api listening", slog.String("addr", addr))
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	snapshot, err := s.lastSnapshot()
	if err != nil {
		s.fail(w, err)
		return
	}
	failed, err := s.letters.ListFailures("FAILED")
	if err != nil {
		s.fail(w, err)
		return
	}
	reviewCount, err := s.reviews.Count()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"last_cycle":         snapshot,
		"dead_letter_total":  len(failed),
		"review_queue_total": reviewCount,
	})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	entries, err := s.letters.ListFailures(r.URL.Query().Get("status"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []deadletter.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": entries})
}

func (s *Server) handleBacklog(w http.ResponseWriter, _ *http.Request) {
	reviewCount, err := s.reviews.Count()
	if err != nil {
		s.fail(w, err)
		return
	}
	all, err := s.letters.ListFailures("")
	if err != nil {
		s.fail(w, err)
		return
	}
	failed := 0
	for _, entry := range all {
		if entry.Status == "FAILED" {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"review_queue_total": reviewCount,
		"dead_letter_total":  failed,
		"attention_total":    reviewCount + failed,
	})
}

// lastSnapshot returns the newest cycle_snapshot event from the metrics
// log, or nil when none has been written yet.
func (s *Server) lastSnapshot() (map[string]any, error) {
	data, err := os.ReadFile(s.metricsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var last map[string]any
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if event["event"] == "cycle_snapshot" {
			last = event
		}
	}
	return last, nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("monitor request failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
