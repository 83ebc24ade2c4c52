package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/clipcraft/api/pkg/logger"
)

// Processor runs the render task of one job.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// LocalDispatcher runs every render task in its own goroutine inside the
// API process.
type LocalDispatcher struct {
	base      context.Context
	processor Processor
	log       *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewLocalDispatcher derives every task context from base, so canceling
// base stops all renders.
func NewLocalDispatcher(base context.Context, p Processor, log *zap.Logger) *LocalDispatcher {
	return &LocalDispatcher{
		base:      base,
		processor: p,
		log:       logger.OrNop(log).Named("dispatch"),
		running:   make(map[string]context.CancelFunc),
	}
}

func (d *LocalDispatcher) Dispatch(_ context.Context, jobID string) error {
	ctx, cancel := context.WithCancel(d.base)

	d.mu.Lock()
	d.running[jobID] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.running, jobID)
			d.mu.Unlock()
			cancel()
		}()

		if err := d.processor.Process(ctx, jobID); err != nil {
			d.log.Error("render task failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
	return nil
}

// Cancel stops the render of jobID if it is running here.
func (d *LocalDispatcher) Cancel(jobID string) bool {
	d.mu.Lock()
	cancel, ok := d.running[jobID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of running render tasks.
func (d *LocalDispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// Wait blocks until every task has returned or ctx is done.
func (d *LocalDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
