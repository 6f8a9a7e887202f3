//go:build gcp

package inbox

import (
	"context"

	"github.com/docledger/docledger/pkg/config"
)

func newGCSBackendFromSettings(ctx context.Context, settings *config.Settings) (Backend, error) {
	return NewGCSBackend(ctx, GCSConfig{
		Bucket:        settings.GCSBucketName,
		InboxPrefix:   settings.GCSInboxPrefix,
		ArchivePrefix: settings.GCSArchivePrefix,
		AllowedMimes:  settings.AllowedMimeTypes,
	})
}
