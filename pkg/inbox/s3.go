package inbox

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/docledger/docledger/pkg/extract"
)

// S3Config configures the S3-compatible inbox backend.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // custom endpoint for R2 / MinIO
	AccessKeyID     string
	SecretAccessKey string
	InboxPrefix     string
	ArchivePrefix   string
	AllowedMimes    []string
}

// S3Backend polls an S3-compatible bucket. Archive is copy-then-delete
// since object stores have no rename.
type S3Backend struct {
	client        *s3.Client
	bucket        string
	inboxPrefix   string
	archivePrefix string
	allowedMimes  map[string]bool
}

// NewS3Backend builds the backend. Static credentials take precedence;
// without them the default AWS chain applies.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("inbox: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for R2/MinIO
		}
	})
	allowed := make(map[string]bool, len(cfg.AllowedMimes))
	for _, m := range cfg.AllowedMimes {
		allowed[m] = true
	}
	return &S3Backend{
		client:        client,
		bucket:        cfg.Bucket,
		inboxPrefix:   cfg.InboxPrefix,
		archivePrefix: cfg.ArchivePrefix,
		allowedMimes:  allowed,
	}, nil
}

func (b *S3Backend) ListInbox(ctx context.Context) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.inboxPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("inbox: list objects: %w", err)
		}
		for _, item := range page.Contents {
			key := aws.ToString(item.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			name := path.Base(key)
			mimeType, ok := extract.MimeForPath(name)
			if !ok || !b.allowedMimes[mimeType] {
				continue
			}
			obj := Object{
				ID:       key,
				Name:     name,
				MimeType: mimeType,
				Size:     aws.ToInt64(item.Size),
			}
			if item.LastModified != nil {
				obj.ModifiedAt = item.LastModified.UTC().Format(time.RFC3339)
			}
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

func (b *S3Backend) Download(ctx context.Context, id, outPath string) (string, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("inbox: get object %s: %w", id, err)
	}
	defer func() { _ = result.Body.Close() }()

	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("inbox: create %s: %w", outPath, err)
	}
	if _, err := io.Copy(out, result.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(outPath)
		return "", fmt.Errorf("inbox: write %s: %w", outPath, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("inbox: close %s: %w", outPath, err)
	}
	return outPath, nil
}

func (b *S3Backend) MoveToArchive(ctx context.Context, id string) (string, error) {
	archiveKey := b.archivePrefix + strings.TrimPrefix(id, b.inboxPrefix)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(b.bucket + "/" + copySourceKey(id)),
		Key:        aws.String(archiveKey),
	})
	if err != nil {
		return "", fmt.Errorf("inbox: copy %s to archive: %w", id, err)
	}
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("inbox: delete %s after archive copy: %w", id, err)
	}
	return archiveKey, nil
}

// copySourceKey percent-encodes the source key for the CopySource header.
// S3 URL-decodes the header value, so spaces and '+' in keys must be
// escaped; segment separators stay literal.
func copySourceKey(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = strings.ReplaceAll(url.PathEscape(segment), "+", "%2B")
	}
	return strings.Join(segments, "/")
}
