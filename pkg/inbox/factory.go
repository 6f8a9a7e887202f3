package inbox

import (
	"context"
	"fmt"

	"github.com/docledger/docledger/pkg/config"
)

// NewBackend builds the inbox backend selected by INGESTION_BACKEND.
// The GCS backend is only available in builds with the gcp tag.
func NewBackend(ctx context.Context, settings *config.Settings) (Backend, error) {
	switch settings.IngestionBackend {
	case "r2":
		return NewS3Backend(ctx, S3Config{
			Bucket:          settings.R2BucketName,
			Endpoint:        settings.R2EndpointURL,
			AccessKeyID:     settings.R2AccessKeyID,
			SecretAccessKey: settings.R2SecretAccessKey,
			InboxPrefix:     settings.R2InboxPrefix,
			ArchivePrefix:   settings.R2ArchivePrefix,
			AllowedMimes:    settings.AllowedMimeTypes,
		})
	case "gcs":
		return newGCSBackendFromSettings(ctx, settings)
	default:
		return nil, fmt.Errorf("inbox: unsupported ingestion backend %q", settings.IngestionBackend)
	}
}
