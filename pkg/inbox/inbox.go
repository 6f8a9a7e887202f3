// Package inbox abstracts the object-storage inbox the pipeline polls.
// Two backends implement the contract: an S3-compatible store (R2,
// MinIO) and Google Cloud Storage behind the gcp build tag.
package inbox

import "context"

// Object is one candidate document in the inbox.
type Object struct {
	// ID is the backend-native identifier (the object key).
	ID string
	// Name is the bare file name used for mime gating and tmp files.
	Name string
	// MimeType as derived from the object name.
	MimeType string
	// Size in bytes when the backend reports it.
	Size int64
	// ModifiedAt is the backend's last-modified timestamp, RFC 3339,
	// empty when unknown.
	ModifiedAt string
}

// Backend lists, downloads and archives inbox objects. Implementations
// paginate listing until exhausted, skip directory keys, and filter by
// the allowed mime set.
type Backend interface {
	// ListInbox returns every candidate currently in the inbox.
	ListInbox(ctx context.Context) ([]Object, error)
	// Download fetches the object into outPath, overwriting any
	// existing file. The caller owns the file.
	Download(ctx context.Context, id, outPath string) (string, error)
	// MoveToArchive relocates a processed object out of the inbox and
	// returns its archive identifier.
	MoveToArchive(ctx context.Context, id string) (string, error)
}
