// Package store holds the job table. Every implementation hands out copies
// and applies updates as atomic read-modify-write operations.
package store

import (
	"context"
	"errors"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/internal/model"
)

// ErrJobFinalized is returned when an update targets a job that already
// reached completed or error.
var ErrJobFinalized = errors.New("job already finalized")

// UpdateFunc mutates a private copy of the job. Returning an error aborts
// the update and leaves the stored record untouched.
type UpdateFunc func(job *model.Job) error

// JobStore is the concurrent-safe job table.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	// List returns all jobs, newest first.
	List(ctx context.Context) ([]*model.Job, error)
	// Update applies fn atomically and returns the stored result.
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.Job, error)
	// Delete removes the job and returns its last snapshot.
	Delete(ctx context.Context, id string) (*model.Job, error)
}

func notFound(id string) error {
	return apperr.NotFound("job", id)
}

func conflict(id string) error {
	return apperr.New(apperr.CodeConflict, "store.create", "job "+id+" already exists")
}

// apply runs fn on a copy of cur and enforces the record invariants:
// terminal jobs never change and progress never goes backwards.
func apply(cur *model.Job, fn UpdateFunc) (*model.Job, error) {
	if cur.Status.IsTerminal() {
		return nil, ErrJobFinalized
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	if next.Progress < cur.Progress {
		next.Progress = cur.Progress
	}
	if next.Progress > 100 {
		next.Progress = 100
	}

	return next, nil
}
