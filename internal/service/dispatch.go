package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeRender = "render:video"
	QueueRender    = "render"
)

// Dispatcher starts the render task for a queued job without waiting for
// it to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Canceler is implemented by dispatchers that can stop an in-flight render.
type Canceler interface {
	Cancel(jobID string) bool
}

// RenderTaskPayload is the asynq payload of a render task.
type RenderTaskPayload struct {
	JobID string `json:"job_id"`
}

// AsynqDispatcher enqueues render tasks onto the render queue.
type AsynqDispatcher struct {
	client    *asynq.Client
	retention time.Duration
}

func NewAsynqDispatcher(client *asynq.Client, retention time.Duration) *AsynqDispatcher {
	return &AsynqDispatcher{client: client, retention: retention}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID string) error {
	task, err := NewRenderTask(jobID)
	if err != nil {
		return err
	}

	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueRender),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Retention(d.retention),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func NewRenderTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(RenderTaskPayload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRender, data), nil
}
