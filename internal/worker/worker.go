// Package worker runs the build and cache-push loops of a crucible node:
// poll for work, claim it through the store, and execute it on a bounded
// pool.
package worker

import (
	"context"
	"time"

	"github.com/caesium-cloud/crucible/pkg/log"
)

// Claimer hands out the next piece of work, or nil when there is none.
type Claimer[T any] interface {
	ClaimNext(ctx context.Context) (*T, error)
}

// Executor performs a claimed piece of work.
type Executor[T any] func(ctx context.Context, work *T)

// Worker polls a claimer and runs what it returns on a pool.
type Worker[T any] struct {
	name         string
	claimer      Claimer[T]
	pool         *Pool
	pollInterval time.Duration
	executor     Executor[T]
}

// NewWorker creates a worker loop. name is only used for logging.
func NewWorker[T any](name string, claimer Claimer[T], pool *Pool, pollInterval time.Duration, executor Executor[T]) *Worker[T] {
	if claimer == nil {
		panic("worker requires a claimer")
	}
	if pool == nil {
		pool = NewPool(name, 1)
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if executor == nil {
		executor = func(context.Context, *T) {}
	}

	return &Worker[T]{
		name:         name,
		claimer:      claimer,
		pool:         pool,
		pollInterval: pollInterval,
		executor:     executor,
	}
}

// Run loops until ctx is cancelled, then waits for in-flight work.
func (w *Worker[T]) Run(ctx context.Context) error {
	log.Info("worker started", "worker", w.name, "poll_interval", w.pollInterval)
	defer log.Info("worker stopped", "worker", w.name)

	for {
		select {
		case <-ctx.Done():
			w.pool.Wait()
			return nil
		default:
		}

		// Claim only when a slot is free, so a claimed unit never waits on
		// the semaphore while its lease ages.
		if w.pool.Available() == 0 {
			if sleepErr := sleepWithContext(ctx, w.pollInterval/4+time.Millisecond); sleepErr != nil {
				w.pool.Wait()
				return nil
			}
			continue
		}

		work, err := w.claimer.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.pool.Wait()
				return nil
			}
			log.Error("failed to claim work", "worker", w.name, "error", err)
		}

		if err != nil || work == nil {
			if sleepErr := sleepWithContext(ctx, w.pollInterval); sleepErr != nil {
				w.pool.Wait()
				return nil
			}
			continue
		}

		if err := w.pool.Submit(ctx, func() {
			w.executor(ctx, work)
		}); err != nil {
			if ctx.Err() != nil {
				w.pool.Wait()
				return nil
			}
			return err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
