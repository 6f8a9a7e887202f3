// Package config loads pipeline settings from environment variables.
// Missing or invalid required values are fatal at start-up.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultAllowedMimeTypes is used when ALLOWED_MIME_TYPES is unset.
const DefaultAllowedMimeTypes = "image/jpeg,image/png,application/pdf"

// Settings holds the full configuration for one worker process.
type Settings struct {
	IngestionBackend string // "r2" or "gcs"
	LedgerBackend    string // "sheets" or "postgres"

	// Object storage (R2 / any S3-compatible endpoint).
	R2EndpointURL     string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2InboxPrefix     string
	R2ArchivePrefix   string

	// GCS backend.
	GCSBucketName    string
	GCSInboxPrefix   string
	GCSArchivePrefix string

	AllowedMimeTypes []string
	LogLevel         string

	ExtractionProvider      string
	ExtractionModel         string
	ExtractionProviderOrder []string

	ReviewConfidenceThreshold float64
	StoreReviewScoreThreshold float64

	NormalizationRulesPath string
	WorkerID               string

	// Ledger sinks.
	LedgerSpreadsheetID      string
	LedgerRange              string
	GoogleServiceAccountFile string
	PostgresDSN              string
	PostgresTable            string

	MonitorAddr string

	DataDir        string
	LogsDir        string
	ReviewQueueDir string
	TmpDir         string
}

// ClaimDBPath returns the path of the claim database under DataDir.
func (s *Settings) ClaimDBPath() string { return s.DataDir + "/metadata.db" }

// DeadLetterPath returns the dead-letter log path under LogsDir.
func (s *Settings) DeadLetterPath() string { return s.LogsDir + "/dead_letter.jsonl" }

// MetricsPath returns the metrics log path under LogsDir.
func (s *Settings) MetricsPath() string { return s.LogsDir + "/metrics.jsonl" }

// ReplayAuditPath returns the replay audit log path under LogsDir.
func (s *Settings) ReplayAuditPath() string { return s.LogsDir + "/replay_audit.jsonl" }

// Load builds Settings from the environment, validating required values.
func Load() (*Settings, error) {
	ingestion := strings.ToLower(getenv("INGESTION_BACKEND", "r2"))
	if ingestion != "r2" && ingestion != "gcs" {
		return nil, fmt.Errorf("INGESTION_BACKEND must be one of: r2, gcs (got %q)", ingestion)
	}

	ledger := strings.ToLower(getenv("LEDGER_BACKEND", "sheets"))
	if ledger != "sheets" && ledger != "postgres" {
		return nil, fmt.Errorf("LEDGER_BACKEND must be one of: sheets, postgres (got %q)", ledger)
	}

	mimes := splitCSV(getenv("ALLOWED_MIME_TYPES", DefaultAllowedMimeTypes))
	if len(mimes) == 0 {
		return nil, fmt.Errorf("ALLOWED_MIME_TYPES must contain at least one mime type")
	}

	reviewThreshold, err := getenvFloat("REVIEW_CONFIDENCE_THRESHOLD", 0.5)
	if err != nil {
		return nil, err
	}
	storeThreshold, err := getenvFloat("STORE_REVIEW_SCORE_THRESHOLD", 0.6)
	if err != nil {
		return nil, err
	}

	s := &Settings{
		IngestionBackend: ingestion,
		LedgerBackend:    ledger,

		R2EndpointURL:     os.Getenv("R2_ENDPOINT_URL"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2InboxPrefix:     getenv("R2_INBOX_PREFIX", "inbox/"),
		R2ArchivePrefix:   getenv("R2_ARCHIVE_PREFIX", "archive/"),

		GCSBucketName:    os.Getenv("GCS_BUCKET_NAME"),
		GCSInboxPrefix:   getenv("GCS_INBOX_PREFIX", "inbox/"),
		GCSArchivePrefix: getenv("GCS_ARCHIVE_PREFIX", "archive/"),

		AllowedMimeTypes: mimes,
		LogLevel:         strings.ToUpper(getenv("LOG_LEVEL", "INFO")),

		ExtractionProvider:      getenv("EXTRACTION_PROVIDER", "auto"),
		ExtractionModel:         getenv("EXTRACTION_MODEL", "auto"),
		ExtractionProviderOrder: splitCSV(getenv("EXTRACTION_PROVIDER_ORDER", "mistral,openrouter,groq")),

		ReviewConfidenceThreshold: reviewThreshold,
		StoreReviewScoreThreshold: storeThreshold,

		NormalizationRulesPath: os.Getenv("NORMALIZATION_RULES_PATH"),
		WorkerID:               getenv("WORKER_ID", "poll-once"),

		LedgerSpreadsheetID:      os.Getenv("LEDGER_SPREADSHEET_ID"),
		LedgerRange:              getenv("LEDGER_RANGE", "Ledger!A:Z"),
		GoogleServiceAccountFile: os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"),
		PostgresDSN:              os.Getenv("POSTGRES_DSN"),
		PostgresTable:            getenv("POSTGRES_TABLE", "ledger_records"),

		MonitorAddr: getenv("MONITOR_ADDR", ":8090"),

		DataDir:        getenv("DATA_DIR", "data"),
		LogsDir:        getenv("LOGS_DIR", "logs"),
		ReviewQueueDir: getenv("REVIEW_QUEUE_DIR", "review_queue"),
		TmpDir:         getenv("TMP_DIR", "tmp"),
	}

	if ingestion == "r2" && s.R2BucketName == "" {
		return nil, fmt.Errorf("R2_BUCKET_NAME is required when INGESTION_BACKEND=r2")
	}
	if ingestion == "gcs" && s.GCSBucketName == "" {
		return nil, fmt.Errorf("GCS_BUCKET_NAME is required when INGESTION_BACKEND=gcs")
	}
	if ledger == "postgres" && s.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required when LEDGER_BACKEND=postgres")
	}

	return s, nil
}

// MimeAllowed reports whether mimeType is in the allowed set.
func (s *Settings) MimeAllowed(mimeType string) bool {
	for _, m := range s.AllowedMimeTypes {
		if m == mimeType {
			return true
		}
	}
	return false
}

func getenv(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(name string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", name, err)
	}
	return v, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
