package miniostore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/zakeri-dev/kbpipe/internal/infrastructure/resilience"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store keeps source files in a bucket and hands out short-lived download
// URLs for remote OCR calls.
type Store struct {
	client   *minio.Client
	bucket   string
	executor *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{
		client:   client,
		bucket:   cfg.Bucket,
		executor: executor,
	}, nil
}

// EnsureBucket creates the configured bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	return s.executor.Execute(ctx, "minio.ensure_bucket", func(ctx context.Context) error {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			return fmt.Errorf("check bucket: %w", err)
		}
		if exists {
			return nil
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("make bucket: %w", err)
		}
		return nil
	}, classifyStorageError)
}

func (s *Store) Upload(ctx context.Context, key, contentType string, data io.Reader, size int64) error {
	return s.executor.Execute(ctx, "minio.upload", func(ctx context.Context) error {
		// A retried attempt must not resume a half-consumed reader.
		if seeker, ok := data.(io.Seeker); ok {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind upload body for %s: %w", key, err)
			}
		}
		_, err := s.client.PutObject(ctx, s.bucket, key, data, size, minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return fmt.Errorf("put object %s: %w", key, err)
		}
		return nil
	}, classifyStorageError)
}

// PresignGet signs locally, so no retry wrapping is needed.
func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return signed.String(), nil
}
