package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/internal/model"
	"github.com/clipcraft/api/internal/render"
	"github.com/clipcraft/api/internal/service"
	"github.com/clipcraft/api/internal/storage"
	"github.com/clipcraft/api/internal/store"
	"github.com/clipcraft/api/pkg/logger"
)

const (
	// Segment rendering fills 0..segmentBudget, concatenation the rest.
	segmentBudget     = 80
	concatProgress    = 90
	maxErrorMessage   = 2000
	outputFileName    = "output.mp4"
	audioFetchName    = "background_audio"
	downloadURLFormat = "/jobs/%s/output"
)

// errJobGone stops a render whose record was removed.
var errJobGone = errors.New("job record removed")

type SegmentRenderer interface {
	Render(ctx context.Context, seg model.Segment, target render.Target, outDir string, index int) (string, error)
}

type Concatenator interface {
	Concatenate(ctx context.Context, clips []string, outFile string, target render.Target) error
}

// ProgressNotifier receives job events. The websocket hub implements it.
type ProgressNotifier interface {
	BroadcastProgress(jobID string, progress int, status model.JobStatus, step string)
	BroadcastComplete(jobID string, job *model.Job)
	BroadcastError(jobID string, code, message string)
}

// RenderWorker runs the render task of one job at a time per call.
type RenderWorker struct {
	jobs      store.JobStore
	segments  SegmentRenderer
	concat    Concatenator
	fetcher   render.Fetcher
	artifacts storage.ArtifactStore
	notifier  ProgressNotifier
	tempRoot  string
	log       *zap.Logger
	now       func() time.Time
}

type Deps struct {
	Jobs      store.JobStore
	Segments  SegmentRenderer
	Concat    Concatenator
	Fetcher   render.Fetcher
	Artifacts storage.ArtifactStore
	Notifier  ProgressNotifier
	TempRoot  string
	Log       *zap.Logger
}

func NewRenderWorker(d Deps) *RenderWorker {
	return &RenderWorker{
		jobs:      d.Jobs,
		segments:  d.Segments,
		concat:    d.Concat,
		fetcher:   d.Fetcher,
		artifacts: d.Artifacts,
		notifier:  d.Notifier,
		tempRoot:  d.TempRoot,
		log:       logger.OrNop(d.Log).Named("render"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessTask is the asynq handler for render:video tasks. Failures are
// already recorded on the job, so nothing is retried.
func (w *RenderWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.RenderTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload has no job_id: %w", asynq.SkipRetry)
	}

	if err := w.Process(ctx, payload.JobID); err != nil {
		return fmt.Errorf("render %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
	return nil
}

// Process renders the queued job jobID to completion or error. The returned
// error is non-nil only when the outcome could not be recorded.
func (w *RenderWorker) Process(ctx context.Context, jobID string) (err error) {
	log := w.log.With(zap.String("job_id", jobID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("render task panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = w.fail(ctx, jobID, fmt.Errorf("internal error: %v", r))
		}
	}()

	started := w.now()
	job, err := w.jobs.Update(ctx, jobID, func(j *model.Job) error {
		if j.Status != model.JobStatusQueued {
			return errNotQueued
		}
		j.Status = model.JobStatusProcessing
		j.StartedAt = &started
		j.CurrentStep = "Preparing workspace"
		return nil
	})
	switch {
	case apperr.IsNotFound(err):
		log.Info("job removed before it started")
		return nil
	case errors.Is(err, errNotQueued), errors.Is(err, store.ErrJobFinalized):
		log.Info("job already picked up, skipping")
		return nil
	case err != nil:
		return fmt.Errorf("failed to start job: %w", err)
	}
	w.notifyProgress(job)

	log.Info("render started", zap.Int("segments", len(job.Config.Segments)))

	if err := w.run(ctx, job, log); err != nil {
		if errors.Is(err, errJobGone) {
			log.Info("job removed during render")
			return nil
		}
		return w.fail(ctx, jobID, err)
	}
	return nil
}

var errNotQueued = errors.New("job is not queued")

func (w *RenderWorker) run(ctx context.Context, job *model.Job, log *zap.Logger) error {
	workDir := filepath.Join(w.tempRoot, job.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return apperr.Storage(err, "worker.workspace", "failed to create job directory")
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("failed to remove job directory", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	cfg := job.Config
	width, height, err := cfg.Dimensions()
	if err != nil {
		return err
	}
	target := render.Target{Width: width, Height: height, FPS: cfg.FPS}

	total := len(cfg.Segments)
	clips := make([]string, 0, total)
	for i, seg := range cfg.Segments {
		if err := ctx.Err(); err != nil {
			return w.interrupted(ctx, job.ID, err)
		}

		clip, err := w.segments.Render(ctx, seg, target, workDir, i)
		if err != nil {
			return w.interrupted(ctx, job.ID, err)
		}
		clips = append(clips, clip)

		done := i + 1
		progress := int(math.Round(float64(done) / float64(total) * segmentBudget))
		if err := w.progress(ctx, job.ID, progress, fmt.Sprintf("Rendered segment %d of %d", done, total)); err != nil {
			return err
		}
		log.Debug("segment rendered", zap.Int("index", i), zap.String("clip", clip))
	}

	if cfg.BackgroundAudio != "" {
		audio, err := w.fetcher.Fetch(ctx, cfg.BackgroundAudio, workDir, audioFetchName)
		if err != nil {
			return w.interrupted(ctx, job.ID, &render.ConcatenationError{Cause: fmt.Errorf("background audio: %w", err)})
		}
		target.Audio = audio
	}

	if err := w.progress(ctx, job.ID, segmentBudget, "Concatenating clips"); err != nil {
		return err
	}

	outFile := filepath.Join(workDir, outputFileName)
	if err := w.concat.Concatenate(ctx, clips, outFile, target); err != nil {
		return w.interrupted(ctx, job.ID, err)
	}

	if err := w.progress(ctx, job.ID, concatProgress, "Storing output"); err != nil {
		return err
	}

	key := storage.OutputKey(job.ID)
	size, err := w.artifacts.Put(ctx, key, outFile)
	if err != nil {
		return w.interrupted(ctx, job.ID, err)
	}

	completed := w.now()
	final, err := w.jobs.Update(ctx, job.ID, func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		j.Progress = 100
		j.CurrentStep = "Completed"
		j.OutputPath = key
		j.FileSize = size
		j.DownloadURL = fmt.Sprintf(downloadURLFormat, j.ID)
		j.CompletedAt = &completed
		return nil
	})
	if err != nil {
		w.discard(key, log)
		if apperr.IsNotFound(err) || errors.Is(err, store.ErrJobFinalized) {
			return errJobGone
		}
		return fmt.Errorf("failed to record completion: %w", err)
	}

	if w.notifier != nil {
		w.notifier.BroadcastComplete(final.ID, final)
	}
	log.Info("render completed",
		zap.Int64("file_size", size),
		zap.Duration("elapsed", completed.Sub(*final.StartedAt)),
	)
	return nil
}

// interrupted turns a failure caused by a removed job into errJobGone.
func (w *RenderWorker) interrupted(ctx context.Context, jobID string, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if _, gerr := w.jobs.Get(context.WithoutCancel(ctx), jobID); apperr.IsNotFound(gerr) {
		return errJobGone
	}
	return err
}

func (w *RenderWorker) progress(ctx context.Context, jobID string, progress int, step string) error {
	job, err := w.jobs.Update(ctx, jobID, func(j *model.Job) error {
		j.Progress = progress
		j.CurrentStep = step
		return nil
	})
	if apperr.IsNotFound(err) {
		return errJobGone
	}
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	w.notifyProgress(job)
	return nil
}

func (w *RenderWorker) notifyProgress(job *model.Job) {
	if w.notifier != nil {
		w.notifier.BroadcastProgress(job.ID, job.Progress, job.Status, job.CurrentStep)
	}
}

// discard deletes an artifact stored for a job that no longer exists.
func (w *RenderWorker) discard(key string, log *zap.Logger) {
	if err := w.artifacts.Delete(context.Background(), key); err != nil {
		log.Warn("failed to delete orphaned output", zap.String("key", key), zap.Error(err))
	}
}

// fail records cause on the job and moves it to error.
func (w *RenderWorker) fail(ctx context.Context, jobID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	kind, code := classify(cause)
	msg := truncate(cause.Error(), maxErrorMessage)

	var failedSegment *int
	var segErr *render.SegmentRenderError
	if errors.As(cause, &segErr) {
		idx := segErr.Index
		failedSegment = &idx
	}

	completed := w.now()
	_, err := w.jobs.Update(ctx, jobID, func(j *model.Job) error {
		j.Status = model.JobStatusError
		j.CurrentStep = "Failed"
		j.Error = msg
		j.ErrorKind = kind
		j.FailedSegment = failedSegment
		j.CompletedAt = &completed
		return nil
	})

	fields := []zap.Field{zap.String("job_id", jobID), zap.String("error_kind", string(kind)), zap.Error(cause)}
	if failedSegment != nil {
		fields = append(fields, zap.Int("failed_segment", *failedSegment))
	}
	w.log.Error("render failed", fields...)

	if w.notifier != nil {
		w.notifier.BroadcastError(jobID, string(code), msg)
	}

	switch {
	case err == nil, apperr.IsNotFound(err), errors.Is(err, store.ErrJobFinalized):
		return nil
	default:
		return fmt.Errorf("failed to record job error: %w", err)
	}
}

func classify(err error) (model.ErrorKind, apperr.Code) {
	var segErr *render.SegmentRenderError
	var concatErr *render.ConcatenationError
	switch {
	case errors.As(err, &segErr):
		return model.ErrorKindSegmentRender, apperr.CodeSegmentRender
	case errors.As(err, &concatErr):
		return model.ErrorKindConcatenation, apperr.CodeConcatenation
	case apperr.CodeOf(err) == apperr.CodeStorage:
		return model.ErrorKindStorage, apperr.CodeStorage
	default:
		return model.ErrorKindInternal, apperr.CodeInternal
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
