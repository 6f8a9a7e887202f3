// Package pipeline drives one document from inbox candidate to terminal
// state: download, claim, extract, normalize, validate, route, store,
// archive. A single document's failure never terminates the poll cycle.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docledger/docledger/pkg/claims"
	"github.com/docledger/docledger/pkg/deadletter"
	"github.com/docledger/docledger/pkg/extract"
	"github.com/docledger/docledger/pkg/inbox"
	"github.com/docledger/docledger/pkg/ledgersink"
	"github.com/docledger/docledger/pkg/lifecycle"
	"github.com/docledger/docledger/pkg/logging"
	"github.com/docledger/docledger/pkg/metrics"
	"github.com/docledger/docledger/pkg/normalize"
	"github.com/docledger/docledger/pkg/retrypolicy"
	"github.com/docledger/docledger/pkg/review"
	"github.com/docledger/docledger/pkg/validate"
)

// ErrorCodePipeline tags dead-letter entries for unexpected failures.
const ErrorCodePipeline = "pipeline_error"

// ClaimStore is the coordination surface the pipeline needs.
type ClaimStore interface {
	Claim(ctx context.Context, sourceID, contentHash, ownerID string) (claims.ClaimResult, error)
	MarkStatus(ctx context.Context, sourceID, contentHash string, status lifecycle.State) error
}

// ReviewQueue persists human-review records.
type ReviewQueue interface {
	Submit(documentID string, reasonCodes []string, sourceFile string, metadata map[string]any) (review.Record, error)
}

// DeadLetters records terminal failures.
type DeadLetters interface {
	WriteFailure(entry deadletter.Entry) error
}

// MetricsSink receives the cycle-end snapshot.
type MetricsSink interface {
	Emit(event map[string]any) error
}

// ExtractFunc runs field extraction for one local file.
type ExtractFunc func(ctx context.Context, filePath string) (map[string]any, error)

// Config holds the per-worker pipeline settings.
type Config struct {
	WorkerID             string
	TmpDir               string
	ConfidenceThreshold  float64
	StoreReviewThreshold float64
}

// Pipeline wires the processing stages together.
type Pipeline struct {
	cfg         Config
	backend     inbox.Backend
	claims      ClaimStore
	extractFn   ExtractFunc
	engine      *normalize.Engine
	validator   *validate.Validator
	reviews     ReviewQueue
	deadLetters DeadLetters
	ledger      ledgersink.Sink
	collector   *metrics.Collector
	sink        MetricsSink
	logger      *slog.Logger
}

// New builds a pipeline. sink and logger may be nil (snapshot emission
// and logging are then skipped / defaulted).
func New(cfg Config, backend inbox.Backend, claimStore ClaimStore, extractFn ExtractFunc,
	engine *normalize.Engine, validator *validate.Validator, reviews ReviewQueue,
	deadLetters DeadLetters, ledger ledgersink.Sink, sink MetricsSink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = "tmp"
	}
	return &Pipeline{
		cfg:         cfg,
		backend:     backend,
		claims:      claimStore,
		extractFn:   extractFn,
		engine:      engine,
		validator:   validator,
		reviews:     reviews,
		deadLetters: deadLetters,
		ledger:      ledger,
		collector:   metrics.NewCollector(),
		sink:        sink,
		logger:      logger,
	}
}

// Collector exposes the cycle counters, mainly for tests.
func (p *Pipeline) Collector() *metrics.Collector { return p.collector }

// RunCycle lists the inbox, processes every candidate sequentially and
// emits the metrics snapshot. Per-document failures are absorbed; only
// listing and snapshot emission can fail the cycle.
func (p *Pipeline) RunCycle(ctx context.Context) (metrics.Snapshot, error) {
	if err := os.MkdirAll(p.cfg.TmpDir, 0o755); err != nil {
		return metrics.Snapshot{}, fmt.Errorf("pipeline: create tmp dir: %w", err)
	}
	candidates, err := p.backend.ListInbox(ctx)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("pipeline: list inbox: %w", err)
	}
	p.logger.Info("poll cycle started", slog.Int("candidates", len(candidates)), slog.String("worker_id", p.cfg.WorkerID))

	for _, candidate := range candidates {
		p.processDocument(ctx, candidate)
	}

	snapshot := p.collector.TakeSnapshot()
	if p.sink != nil {
		event := map[string]any{"event": "cycle_snapshot", "worker_id": p.cfg.WorkerID}
		for name, value := range snapshot.Counters() {
			event[name] = value
		}
		if err := p.sink.Emit(event); err != nil {
			return snapshot, fmt.Errorf("pipeline: emit metrics snapshot: %w", err)
		}
	}
	return snapshot, nil
}

// processDocument runs the full per-document state machine. It never
// propagates an error into the poll loop; terminal failures are
// dead-lettered and the claim row marked FAILED.
func (p *Pipeline) processDocument(ctx context.Context, candidate inbox.Object) {
	started := time.Now()
	localPath := filepath.Join(p.cfg.TmpDir, uuid.NewString()+"_"+candidate.Name)
	defer func() {
		// The local file is deleted on every exit path. A review
		// routing may have moved it already.
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("tmp file cleanup failed", slog.String("path", localPath), slog.String("error", err.Error()))
		}
	}()

	// Downloads are transient-failure territory; retry before giving
	// the document up for this cycle.
	err := retrypolicy.Do(func() error {
		_, err := p.backend.Download(ctx, candidate.ID, localPath)
		return err
	}, func(error) bool { return ctx.Err() == nil }, retrypolicy.Default(), nil)
	if err != nil {
		p.logger.Error("download failed", slog.String("source_id", candidate.ID), slog.String("error", err.Error()))
		return
	}

	contentHash, err := hashFile(localPath)
	if err != nil {
		p.logger.Error("hash failed", slog.String("source_id", candidate.ID), slog.String("error", err.Error()))
		return
	}

	claimResult, err := p.claims.Claim(ctx, candidate.ID, contentHash, p.cfg.WorkerID)
	if err != nil {
		// Claim failures are transient; skip this document for the cycle.
		p.logger.Warn("claim failed", slog.String("source_id", candidate.ID), slog.String("error", err.Error()))
		return
	}
	if claimResult.Status != claims.Claimed {
		p.collector.Increment(metrics.CounterDuplicateSkipped)
		p.logger.Debug("duplicate skipped",
			slog.String("source_id", candidate.ID),
			slog.String("claim_status", string(claimResult.Status)))
		return
	}

	documentID := uuid.NewString()
	p.collector.Increment(metrics.CounterProcessed)
	doc := documentContext{
		documentID:  documentID,
		sourceID:    candidate.ID,
		contentHash: contentHash,
		localPath:   localPath,
	}

	outcome := p.runStages(ctx, doc)
	latency := time.Since(started).Milliseconds()
	p.collector.ObserveLatency(latency)
	p.logger.Info("document finished", logging.DocumentEvent{
		DocumentID: documentID,
		SourceID:   candidate.ID,
		Outcome:    outcome,
		LatencyMS:  latency,
	}.Attrs()...)
}

type documentContext struct {
	documentID  string
	sourceID    string
	contentHash string
	localPath   string
	provider    string
}

// runStages carries a claimed document through extraction, normalization,
// validation, routing and storage. The returned string names the outcome
// for the cycle log.
func (p *Pipeline) runStages(ctx context.Context, doc documentContext) string {
	payload, err := p.extractFn(ctx, doc.localPath)
	if err != nil {
		code := extract.ErrorCode(err)
		if code == "" {
			code = ErrorCodePipeline
		}
		p.fail(ctx, doc, code, err)
		return "failed"
	}
	doc.provider, _ = payload[extract.KeyProvider].(string)
	if err := p.claims.MarkStatus(ctx, doc.sourceID, doc.contentHash, lifecycle.StateExtracted); err != nil {
		p.fail(ctx, doc, ErrorCodePipeline, err)
		return "failed"
	}

	canonical := p.engine.Coerce(payload)
	result, err := p.validator.ValidateAndScore(canonical)
	if err != nil {
		var schemaErr *validate.SchemaError
		if errors.As(err, &schemaErr) {
			p.routeToReview(ctx, doc, []string{review.ReasonSchemaValidationFailed}, err.Error())
			return "review"
		}
		p.fail(ctx, doc, ErrorCodePipeline, err)
		return "failed"
	}

	decision := review.Decide(result.IsValid, result.Record.ModelConfidence, p.cfg.ConfidenceThreshold)
	if decision.NeedsReview() {
		p.routeToReview(ctx, doc, decision.ReasonCodes, strings.Join(decision.ReasonCodes, ","))
		return "review"
	}
	if err := p.claims.MarkStatus(ctx, doc.sourceID, doc.contentHash, lifecycle.StateValidated); err != nil {
		p.fail(ctx, doc, ErrorCodePipeline, err)
		return "failed"
	}

	appendResult, err := p.ledger.Append(ctx, result.Record, ledgersink.Metadata{
		DocumentID:      doc.documentID,
		SourceID:        doc.sourceID,
		FileHash:        doc.contentHash,
		Provider:        doc.provider,
		ValidationScore: result.ValidationScore,
		NeedsReview:     result.ValidationScore < p.cfg.StoreReviewThreshold,
	})
	if err != nil {
		p.fail(ctx, doc, ErrorCodePipeline, err)
		return "failed"
	}
	if err := p.claims.MarkStatus(ctx, doc.sourceID, doc.contentHash, lifecycle.StateStored); err != nil {
		p.fail(ctx, doc, ErrorCodePipeline, err)
		return "failed"
	}

	if _, err := p.backend.MoveToArchive(ctx, doc.sourceID); err != nil {
		// The record is stored; an archive failure must not undo that.
		// The claim stays STORED so a later claim reports
		// already_processed.
		p.logger.Warn("archive failed",
			slog.String("document_id", doc.documentID),
			slog.String("source_id", doc.sourceID),
			slog.String("error", err.Error()))
	} else if err := p.claims.MarkStatus(ctx, doc.sourceID, doc.contentHash, lifecycle.StateArchived); err != nil {
		p.logger.Warn("mark archived failed",
			slog.String("document_id", doc.documentID),
			slog.String("error", err.Error()))
	}

	p.collector.Increment(metrics.CounterSuccess)
	p.logger.Info("document stored",
		slog.String("document_id", doc.documentID),
		slog.String("ledger_status", appendResult.Status),
		slog.String("row_ref", appendResult.RowRef))
	return "stored"
}

// routeToReview persists the review record (moving the local file into
// the queue), dead-letters the document and marks REVIEW_REQUIRED.
func (p *Pipeline) routeToReview(ctx context.Context, doc documentContext, reasonCodes []string, message string) {
	p.collector.Increment(metrics.CounterReview)

	if _, err := p.reviews.Submit(doc.documentID, reasonCodes, doc.localPath, map[string]any{
		"source_id":    doc.sourceID,
		"content_hash": doc.contentHash,
	}); err != nil {
		p.logger.Error("review submit failed", slog.String("document_id", doc.documentID), slog.String("error", err.Error()))
	}
	p.writeDeadLetter(doc, lifecycle.StateReviewRequired, strings.Join(reasonCodes, ","), message)
	if err := p.claims.MarkStatus(ctx, doc.sourceID, doc.contentHash, lifecycle.StateReviewRequired); err != nil {
		p.logger.Error("mark review failed", slog.String("document_id", doc.documentID), slog.String("error", err.Error()))
	}
}

// fail dead-letters the document under code and marks the claim FAILED.
func (p *Pipeline) fail(ctx context.Context, doc documentContext, code string, cause error) {
	p.collector.Increment(metrics.CounterFailed)
	p.writeDeadLetter(doc, lifecycle.StateFailed, code, cause.Error())
	if err := p.claims.MarkStatus(ctx, doc.sourceID, doc.contentHash, lifecycle.StateFailed); err != nil {
		p.logger.Error("mark failed failed", slog.String("document_id", doc.documentID), slog.String("error", err.Error()))
	}
	p.logger.Error("document failed",
		slog.String("document_id", doc.documentID),
		slog.String("source_id", doc.sourceID),
		slog.String("error_code", code),
		slog.String("error", cause.Error()))
}

func (p *Pipeline) writeDeadLetter(doc documentContext, status lifecycle.State, code, message string) {
	entry := deadletter.Entry{
		DocumentID:   doc.documentID,
		SourceID:     doc.sourceID,
		ContentHash:  doc.contentHash,
		Status:       string(status),
		ErrorCode:    code,
		ErrorMessage: message,
		UsedProvider: doc.provider,
	}
	if err := p.deadLetters.WriteFailure(entry); err != nil {
		p.logger.Error("dead-letter write failed", slog.String("document_id", doc.documentID), slog.String("error", err.Error()))
	}
}

// hashFile streams the file through SHA-256 in 1 MiB chunks.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("pipeline: open for hashing: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("pipeline: hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
