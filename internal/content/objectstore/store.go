// Package objectstore keeps snippet content in an S3-compatible bucket
// (AWS S3, MinIO). Objects are stored under "snippet/{id}".
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/content"
	"github.com/sakif/snippet-manager/internal/correlation"
)

var _ content.Store = (*Store)(nil)

// DefaultTimeout bounds each object request when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Timeout   time.Duration
}

type Store struct {
	cl      *minio.Client
	bucket  string
	timeout time.Duration
	logger  *slog.Logger
}

// New connects to the bucket and creates it when it does not exist yet.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: creating client: %w", err)
	}

	exists, err := cl.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("objectstore: checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cl.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("objectstore: creating bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created content bucket", slog.String("bucket", cfg.Bucket))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{cl: cl, bucket: cfg.Bucket, timeout: timeout, logger: logger}, nil
}

func key(id int64) string {
	return "snippet/" + strconv.FormatInt(id, 10)
}

func (s *Store) Put(ctx context.Context, id int64, code string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.cl.PutObject(ctx, s.bucket, key(id), strings.NewReader(code), int64(len(code)), minio.PutObjectOptions{
		ContentType:  "text/plain; charset=utf-8",
		UserMetadata: map[string]string{"Correlation-Id": correlation.FromContext(ctx)},
	})
	if err != nil {
		return s.translate(ctx, "error saving snippet", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	obj, err := s.cl.GetObject(ctx, s.bucket, key(id), minio.GetObjectOptions{})
	if err != nil {
		return "", s.translate(ctx, "error getting snippet", id, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return "", s.translate(ctx, "error getting snippet", id, err)
	}
	return string(data), nil
}

// Delete removes the object. S3 deletes are idempotent, so a missing object
// is checked first to keep the NotFound contract of the other backend.
func (s *Store) Delete(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.cl.StatObject(ctx, s.bucket, key(id), minio.StatObjectOptions{}); err != nil {
		return s.translate(ctx, "error deleting snippet", id, err)
	}
	if err := s.cl.RemoveObject(ctx, s.bucket, key(id), minio.RemoveObjectOptions{}); err != nil {
		return s.translate(ctx, "error deleting snippet", id, err)
	}
	return nil
}

func (s *Store) translate(ctx context.Context, failure string, id int64, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return apperror.NotFound("snippet content", id)
	}

	s.logger.Warn("object store request failed",
		slog.Int64("snippet_id", id),
		slog.String("error", err.Error()),
		correlation.Attr(ctx),
	)
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Upstream(fmt.Sprintf("%s: timed out after %s", failure, s.timeout), true)
	}
	retryable := resp.StatusCode == 0 || resp.StatusCode >= 500
	return apperror.Upstream(fmt.Sprintf("%s: %v", failure, err), retryable)
}
