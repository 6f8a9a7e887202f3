//go:build gcp

package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/docledger/docledger/pkg/extract"
)

// GCSConfig configures the Google Cloud Storage inbox backend.
type GCSConfig struct {
	Bucket        string
	InboxPrefix   string
	ArchivePrefix string
	AllowedMimes  []string
}

// GCSBackend polls a GCS bucket using application default credentials.
type GCSBackend struct {
	client        *storage.Client
	bucket        string
	inboxPrefix   string
	archivePrefix string
	allowedMimes  map[string]bool
}

// NewGCSBackend builds the backend over ADC.
func NewGCSBackend(ctx context.Context, cfg GCSConfig) (*GCSBackend, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("inbox: create gcs client: %w", err)
	}
	allowed := make(map[string]bool, len(cfg.AllowedMimes))
	for _, m := range cfg.AllowedMimes {
		allowed[m] = true
	}
	return &GCSBackend{
		client:        client,
		bucket:        cfg.Bucket,
		inboxPrefix:   cfg.InboxPrefix,
		archivePrefix: cfg.ArchivePrefix,
		allowedMimes:  allowed,
	}, nil
}

func (b *GCSBackend) ListInbox(ctx context.Context) ([]Object, error) {
	var objects []Object
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: b.inboxPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("inbox: list gcs objects: %w", err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		name := path.Base(attrs.Name)
		mimeType, ok := extract.MimeForPath(name)
		if !ok || !b.allowedMimes[mimeType] {
			continue
		}
		objects = append(objects, Object{
			ID:         attrs.Name,
			Name:       name,
			MimeType:   mimeType,
			Size:       attrs.Size,
			ModifiedAt: attrs.Updated.UTC().Format(time.RFC3339),
		})
	}
	return objects, nil
}

func (b *GCSBackend) Download(ctx context.Context, id, outPath string) (string, error) {
	reader, err := b.client.Bucket(b.bucket).Object(id).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("inbox: open gcs object %s: %w", id, err)
	}
	defer func() { _ = reader.Close() }()

	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("inbox: create %s: %w", outPath, err)
	}
	if _, err := io.Copy(out, reader); err != nil {
		_ = out.Close()
		_ = os.Remove(outPath)
		return "", fmt.Errorf("inbox: write %s: %w", outPath, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("inbox: close %s: %w", outPath, err)
	}
	return outPath, nil
}

func (b *GCSBackend) MoveToArchive(ctx context.Context, id string) (string, error) {
	archiveKey := b.archivePrefix + strings.TrimPrefix(id, b.inboxPrefix)
	bucket := b.client.Bucket(b.bucket)
	src := bucket.Object(id)
	if _, err := bucket.Object(archiveKey).CopierFrom(src).Run(ctx); err != nil {
		return "", fmt.Errorf("inbox: copy %s to archive: %w", id, err)
	}
	if err := src.Delete(ctx); err != nil {
		return "", fmt.Errorf("inbox: delete %s after archive copy: %w", id, err)
	}
	return archiveKey, nil
}
