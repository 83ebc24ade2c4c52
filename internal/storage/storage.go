// Package storage persists finished render outputs.
package storage

import (
	"context"
	"io"
)

// ArtifactStore keeps rendered videos addressed by key.
type ArtifactStore interface {
	// Put moves or uploads the local file at path under key and returns its
	// size in bytes.
	Put(ctx context.Context, key, path string) (int64, error)
	// Open returns a reader for key and its size. Missing keys yield an
	// apperr NotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// OutputKey is the artifact key of a job's video.
func OutputKey(jobID string) string {
	return "video_" + jobID + ".mp4"
}
