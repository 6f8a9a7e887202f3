// Command docledger runs the document ingestion worker: a poll-once
// pipeline cycle, the dead-letter replay engine, or the monitoring API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/docledger/docledger/pkg/claims"
	"github.com/docledger/docledger/pkg/config"
	"github.com/docledger/docledger/pkg/deadletter"
	"github.com/docledger/docledger/pkg/extract"
	"github.com/docledger/docledger/pkg/inbox"
	"github.com/docledger/docledger/pkg/ledgersink"
	"github.com/docledger/docledger/pkg/logging"
	"github.com/docledger/docledger/pkg/metrics"
	"github.com/docledger/docledger/pkg/monitor"
	"github.com/docledger/docledger/pkg/normalize"
	"github.com/docledger/docledger/pkg/pipeline"
	"github.com/docledger/docledger/pkg/replay"
	"github.com/docledger/docledger/pkg/review"
	"github.com/docledger/docledger/pkg/validate"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	switch args[1] {
	case "poll-once":
		return runPollOnce(stdout, stderr)
	case "replay":
		return runReplay(args[2:], stdout, stderr)
	case "monitor":
		return runMonitor(args[2:], stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: docledger <command>

Commands:
  poll-once   run one full ingestion cycle and exit
  replay      re-enqueue dead-lettered documents
              --status {FAILED,REVIEW_REQUIRED} [--dead-letter-path P]
              [--audit-path P] [--claim-db-path P]
  monitor     serve the monitoring API [--addr :8090]
  help        show this message`)
}

// loadSettings reads .env, loads the environment configuration and
// installs the logger.
func loadSettings() (*config.Settings, *slog.Logger, error) {
	if err := config.LoadDotenv(".env"); err != nil {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}
	settings, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Configure(settings.LogLevel)
	return settings, logger, nil
}

func runPollOnce(stdout, stderr io.Writer) int {
	settings, logger, err := loadSettings()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}
	ctx := context.Background()

	claimStore, err := claims.Open(settings.ClaimDBPath())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}
	defer func() { _ = claimStore.Close() }()

	backend, err := inbox.NewBackend(ctx, settings)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}

	sink, closeSink, err := buildLedgerSink(ctx, settings)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}
	defer closeSink()

	rules := normalize.DefaultRules()
	if settings.NormalizationRulesPath != "" {
		rules, err = normalize.LoadRules(settings.NormalizationRulesPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
			return 1
		}
	}
	engine := normalize.NewEngine(rules)

	validator, err := validate.New(rules.AmountTolerance)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}

	reviews, err := review.NewQueue(settings.ReviewQueueDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}
	letters, err := deadletter.NewStore(settings.DeadLetterPath())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}
	metricsSink, err := metrics.NewJSONLSink(settings.MetricsPath())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}

	extractFn := func(ctx context.Context, filePath string) (map[string]any, error) {
		return extract.Extract(ctx, filePath, extract.Options{
			ModelHint:     settings.ExtractionModel,
			ProviderHint:  settings.ExtractionProvider,
			ProviderOrder: settings.ExtractionProviderOrder,
		})
	}

	p := pipeline.New(pipeline.Config{
		WorkerID:             settings.WorkerID,
		TmpDir:               settings.TmpDir,
		ConfidenceThreshold:  settings.ReviewConfidenceThreshold,
		StoreReviewThreshold: settings.StoreReviewScoreThreshold,
	}, backend, claimStore, extractFn, engine, validator, reviews, letters, sink, metricsSink, logger)

	snapshot, err := p.RunCycle(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}
	encoded, _ := json.Marshal(snapshot)
	_, _ = fmt.Fprintln(stdout, string(encoded))
	return 0
}

func buildLedgerSink(ctx context.Context, settings *config.Settings) (ledgersink.Sink, func(), error) {
	switch settings.LedgerBackend {
	case "postgres":
		sink, err := ledgersink.OpenPostgres(ctx, settings.PostgresDSN, settings.PostgresTable)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() { _ = sink.Close() }, nil
	case "sheets":
		if settings.LedgerSpreadsheetID == "" || settings.GoogleServiceAccountFile == "" {
			return nil, nil, fmt.Errorf("LEDGER_SPREADSHEET_ID and GOOGLE_SERVICE_ACCOUNT_FILE are required when LEDGER_BACKEND=sheets")
		}
		sink, err := ledgersink.NewSheetsSink(settings.LedgerSpreadsheetID, settings.LedgerRange, settings.GoogleServiceAccountFile)
		if err != nil {
			return nil, nil, err
		}
		return sink, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported ledger backend %q", settings.LedgerBackend)
	}
}

func runReplay(args []string, stdout, stderr io.Writer) int {
	settings, _, err := loadSettings()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	status := fs.String("status", "", "dead-letter status to replay (FAILED or REVIEW_REQUIRED)")
	deadLetterPath := fs.String("dead-letter-path", settings.DeadLetterPath(), "dead-letter log path")
	auditPath := fs.String("audit-path", settings.ReplayAuditPath(), "replay audit log path")
	claimDBPath := fs.String("claim-db-path", settings.ClaimDBPath(), "claim database path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *status != "FAILED" && *status != "REVIEW_REQUIRED" {
		_, _ = fmt.Fprintln(stderr, "docledger: --status must be FAILED or REVIEW_REQUIRED")
		return 2
	}

	claimStore, err := claims.Open(*claimDBPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}
	defer func() { _ = claimStore.Close() }()

	letters, err := deadletter.NewStore(*deadLetterPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}

	engine := replay.NewEngine(letters, claimStore, *auditPath, settings.WorkerID)
	summary, err := engine.Replay(context.Background(), *status)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}
	encoded, _ := json.Marshal(summary)
	_, _ = fmt.Fprintln(stdout, string(encoded))
	return 0
}

func runMonitor(args []string, stderr io.Writer) int {
	settings, logger, err := loadSettings()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", settings.MonitorAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	letters, err := deadletter.NewStore(settings.DeadLetterPath())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}
	reviews, err := review.NewQueue(settings.ReviewQueueDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}

	server := monitor.NewServer(letters, reviews, settings.MetricsPath(), logger)
	if err := server.ListenAndServe(*addr); err != nil {
		_, _ = fmt.Fprintf(stderr, "docledger: %v\n", err)
		return 1
	}
	return 0
}
