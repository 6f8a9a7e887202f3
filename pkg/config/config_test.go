package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docledger/docledger/pkg/config"
)

func clearPipelineEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"INGESTION_BACKEND", "LEDGER_BACKEND", "ALLOWED_MIME_TYPES", "LOG_LEVEL",
		"EXTRACTION_PROVIDER", "EXTRACTION_MODEL", "EXTRACTION_PROVIDER_ORDER",
		"REVIEW_CONFIDENCE_THRESHOLD", "STORE_REVIEW_SCORE_THRESHOLD",
		"R2_BUCKET_NAME", "GCS_BUCKET_NAME", "POSTGRES_DSN", "WORKER_ID",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearPipelineEnv(t)
	t.Setenv("R2_BUCKET_NAME", "invoices")

	s, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "r2", s.IngestionBackend)
	assert.Equal(t, "sheets", s.LedgerBackend)
	assert.Equal(t, []string{"image/jpeg", "image/png", "application/pdf"}, s.AllowedMimeTypes)
	assert.Equal(t, "INFO", s.LogLevel)
	assert.Equal(t, "auto", s.ExtractionProvider)
	assert.Equal(t, []string{"mistral", "openrouter", "groq"}, s.ExtractionProviderOrder)
	assert.InDelta(t, 0.5, s.ReviewConfidenceThreshold, 1e-9)
	assert.InDelta(t, 0.6, s.StoreReviewScoreThreshold, 1e-9)
	assert.Equal(t, "poll-once", s.WorkerID)
	assert.Equal(t, "data/metadata.db", s.ClaimDBPath())
	assert.Equal(t, "logs/dead_letter.jsonl", s.DeadLetterPath())
}

func TestLoad_Overrides(t *testing.T) {
	clearPipelineEnv(t)
	t.Setenv("INGESTION_BACKEND", "gcs")
	t.Setenv("GCS_BUCKET_NAME", "inbox-bucket")
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://worker@db:5432/ledger")
	t.Setenv("ALLOWED_MIME_TYPES", "application/pdf")
	t.Setenv("REVIEW_CONFIDENCE_THRESHOLD", "0.85")
	t.Setenv("EXTRACTION_PROVIDER_ORDER", "groq,mistral")
	t.Setenv("WORKER_ID", "worker-7")

	s, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "gcs", s.IngestionBackend)
	assert.Equal(t, "postgres", s.LedgerBackend)
	assert.Equal(t, []string{"application/pdf"}, s.AllowedMimeTypes)
	assert.InDelta(t, 0.85, s.ReviewConfidenceThreshold, 1e-9)
	assert.Equal(t, []string{"groq", "mistral"}, s.ExtractionProviderOrder)
	assert.Equal(t, "worker-7", s.WorkerID)
	assert.True(t, s.MimeAllowed("application/pdf"))
	assert.False(t, s.MimeAllowed("image/png"))
}

func TestLoad_Failures(t *testing.T) {
	clearPipelineEnv(t)

	t.Setenv("INGESTION_BACKEND", "ftp")
	_, err := config.Load()
	assert.ErrorContains(t, err, "INGESTION_BACKEND")

	t.Setenv("INGESTION_BACKEND", "r2")
	_, err = config.Load()
	assert.ErrorContains(t, err, "R2_BUCKET_NAME")

	t.Setenv("R2_BUCKET_NAME", "b")
	t.Setenv("LEDGER_BACKEND", "postgres")
	_, err = config.Load()
	assert.ErrorContains(t, err, "POSTGRES_DSN")

	t.Setenv("LEDGER_BACKEND", "sheets")
	t.Setenv("REVIEW_CONFIDENCE_THRESHOLD", "high")
	_, err = config.Load()
	assert.ErrorContains(t, err, "REVIEW_CONFIDENCE_THRESHOLD")
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"# comment\n"+
			"WORKER_ID=\"env-worker\"\n"+
			"LOG_LEVEL='DEBUG'\n"+
			"not-a-pair\n",
	), 0o644))

	t.Setenv("WORKER_ID", "already-set")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	require.NoError(t, config.LoadDotenv(path))

	// Existing variables win; unset ones are filled and unquoted.
	assert.Equal(t, "already-set", os.Getenv("WORKER_ID"))
	assert.Equal(t, "DEBUG", os.Getenv("LOG_LEVEL"))

	// Missing file is a no-op.
	assert.NoError(t, config.LoadDotenv(filepath.Join(dir, "absent.env")))
}
