package worker

import (
	"context"
	"errors"
	"time"

	"github.com/caesium-cloud/crucible/internal/builder"
	"github.com/caesium-cloud/crucible/internal/cachepush"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/pkg/log"
)

// PushExecutor copies a claimed job's output to its destination and records
// the result on the queue.
type PushExecutor struct {
	queue   *cachepush.Queue
	pusher  builder.Pusher
	timeout time.Duration
}

// NewPushExecutor creates an executor.
func NewPushExecutor(queue *cachepush.Queue, pusher builder.Pusher, timeout time.Duration) *PushExecutor {
	if queue == nil || pusher == nil {
		panic("push executor requires a queue and pusher")
	}
	return &PushExecutor{queue: queue, pusher: pusher, timeout: timeout}
}

// Execute implements Executor for cache push jobs.
func (e *PushExecutor) Execute(ctx context.Context, job *models.CachePushJob) {
	if job == nil {
		return
	}

	var (
		pushCtx context.Context
		cancel  context.CancelFunc
	)
	if e.timeout > 0 {
		pushCtx, cancel = context.WithTimeout(ctx, e.timeout)
	} else {
		pushCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	pushErr := e.pusher.Push(pushCtx, job.OutputPath, job.Destination)

	recordCtx, recordCancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer recordCancel()

	var err error
	if pushErr == nil {
		err = e.queue.Complete(recordCtx, job.ID)
	} else {
		log.Warn("cache push failed", "job_id", job.ID, "destination", job.Destination, "error", pushErr)
		err = e.queue.Fail(recordCtx, job.ID, pushErr)
	}

	switch {
	case err == nil:
		if pushErr == nil {
			log.Info("cache push complete", "job_id", job.ID, "unit_id", job.UnitID, "destination", job.Destination)
		}
	case errors.Is(err, cachepush.ErrNotFound):
		log.Warn("cache push job changed before result was recorded", "job_id", job.ID)
	default:
		log.Error("failed to record cache push result", "job_id", job.ID, "error", err)
	}
}
