package storage

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/internal/client"
)

// ObjectClient is the subset of client.S3Client the S3 store needs.
type ObjectClient interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
}

// S3Store keeps artifacts in an S3-compatible bucket.
type S3Store struct {
	client ObjectClient
}

func NewS3Store(c ObjectClient) *S3Store {
	return &S3Store{client: c}
}

func (s *S3Store) Put(ctx context.Context, key, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, apperr.Storage(err, "s3.put", "failed to open output")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, apperr.Storage(err, "s3.put", "failed to stat output")
	}

	if err := s.client.Upload(ctx, key, f, st.Size(), "video/mp4"); err != nil {
		return 0, apperr.Storage(err, "s3.put", "failed to upload output")
	}
	return st.Size(), nil
}

func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	rc, size, err := s.client.Download(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrObjectNotFound) {
			return nil, 0, apperr.NotFound("output", key)
		}
		return nil, 0, apperr.Storage(err, "s3.open", "failed to download output")
	}
	return rc, size, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Delete(ctx, key); err != nil {
		return apperr.Storage(err, "s3.delete", "failed to delete output")
	}
	return nil
}
