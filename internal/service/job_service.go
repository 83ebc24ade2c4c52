package service

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/internal/model"
	"github.com/clipcraft/api/internal/storage"
	"github.com/clipcraft/api/internal/store"
	"github.com/clipcraft/api/internal/template"
	"github.com/clipcraft/api/pkg/logger"
)

// JobService validates render requests and manages job records.
type JobService struct {
	jobs       store.JobStore
	templates  template.Store
	artifacts  storage.ArtifactStore
	dispatcher Dispatcher
	validator  *Validator
	log        *zap.Logger
	now        func() time.Time
}

type Deps struct {
	Jobs       store.JobStore
	Templates  template.Store
	Artifacts  storage.ArtifactStore
	Dispatcher Dispatcher
	Validator  *Validator
	Log        *zap.Logger
}

func NewJobService(d Deps) *JobService {
	return &JobService{
		jobs:       d.Jobs,
		templates:  d.Templates,
		artifacts:  d.Artifacts,
		dispatcher: d.Dispatcher,
		validator:  d.Validator,
		log:        logger.OrNop(d.Log).Named("jobs"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates req, records a queued job and hands it to the
// dispatcher. Invalid requests never create a record.
func (s *JobService) Submit(ctx context.Context, req *model.RenderRequest) (*model.Job, error) {
	cfg, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := s.validator.Validate(&cfg); err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:          uuid.New().String(),
		Status:      model.JobStatusQueued,
		Progress:    0,
		CurrentStep: "Queued",
		Config:      cfg,
		CreatedAt:   s.now(),
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "service.submit", "failed to save job")
	}

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		if _, derr := s.jobs.Delete(ctx, job.ID); derr != nil {
			s.log.Warn("failed to remove undispatched job", zap.String("job_id", job.ID), zap.Error(derr))
		}
		return nil, apperr.Wrap(err, apperr.CodeInternal, "service.submit", "failed to schedule render")
	}

	s.log.Info("job queued",
		zap.String("job_id", job.ID),
		zap.Int("segments", len(cfg.Segments)),
		zap.String("resize", cfg.Resize),
		zap.Int("fps", cfg.FPS),
		zap.String("template_id", req.TemplateID),
	)
	return job.Clone(), nil
}

func (s *JobService) resolve(ctx context.Context, req *model.RenderRequest) (model.RenderConfig, error) {
	if req.TemplateID == "" {
		if len(req.Segments) == 0 {
			return model.RenderConfig{}, apperr.Validation("segments or template_id is required").
				WithField("fields", map[string]string{"segments": "required"})
		}
		return req.RenderConfig.Clone(), nil
	}

	if len(req.Segments) > 0 {
		return model.RenderConfig{}, apperr.Validation("segments and template_id are mutually exclusive")
	}
	if s.templates == nil {
		return model.RenderConfig{}, apperr.NotFound("template", req.TemplateID)
	}

	tpl, err := s.templates.Get(ctx, req.TemplateID)
	if err != nil {
		return model.RenderConfig{}, err
	}

	cfg, err := template.Apply(tpl, req.Variables)
	if err != nil {
		return model.RenderConfig{}, err
	}

	// Request-level output settings override the template's.
	if req.Resize != "" {
		cfg.Resize = req.Resize
	}
	if req.FPS != 0 {
		cfg.FPS = req.FPS
	}
	if req.BackgroundAudio != "" {
		cfg.BackgroundAudio = req.BackgroundAudio
	}
	if req.MaxDuration != 0 {
		cfg.MaxDuration = req.MaxDuration
	}
	return cfg, nil
}

// Status returns a snapshot of the job.
func (s *JobService) Status(ctx context.Context, id string) (*model.Job, error) {
	return s.jobs.Get(ctx, id)
}

// List returns every job, newest first.
func (s *JobService) List(ctx context.Context) ([]*model.Job, error) {
	return s.jobs.List(ctx)
}

// Remove deletes the job record and its output, stopping a local render
// that is still running.
func (s *JobService) Remove(ctx context.Context, id string) error {
	job, err := s.jobs.Delete(ctx, id)
	if err != nil {
		return err
	}

	if c, ok := s.dispatcher.(Canceler); ok && c.Cancel(id) {
		s.log.Info("canceled running render", zap.String("job_id", id))
	}

	key := job.OutputPath
	if key == "" {
		key = storage.OutputKey(id)
	}
	if err := s.artifacts.Delete(ctx, key); err != nil {
		s.log.Warn("failed to delete output", zap.String("job_id", id), zap.String("key", key), zap.Error(err))
	}

	s.log.Info("job removed", zap.String("job_id", id), zap.String("status", string(job.Status)))
	return nil
}

// Output opens the finished video of a completed job.
func (s *JobService) Output(ctx context.Context, id string) (io.ReadCloser, int64, *model.Job, error) {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, 0, nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, 0, nil, apperr.NotReady("job %s is not completed (status: %s)", id, job.Status)
	}

	rc, size, err := s.artifacts.Open(ctx, job.OutputPath)
	if err != nil {
		return nil, 0, nil, err
	}
	return rc, size, job, nil
}

// Stats counts processing and total jobs.
func (s *JobService) Stats(ctx context.Context) (active, total int, err error) {
	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, j := range jobs {
		if j.Status == model.JobStatusProcessing {
			active++
		}
	}
	return active, len(jobs), nil
}
