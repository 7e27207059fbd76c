// Package sweeper runs the periodic maintenance that keeps the pipeline
// moving when workers die: stale reservations are dropped, abandoned cache
// pushes are failed, and failed pushes whose backoff elapsed are requeued.
package sweeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caesium-cloud/crucible/internal/cachepush"
	"github.com/caesium-cloud/crucible/internal/reservation"
	"github.com/caesium-cloud/crucible/pkg/log"
	"github.com/robfig/cron"
)

// DefaultSchedule runs a sweep every minute.
const DefaultSchedule = "@every 60s"

// Report counts what one sweep changed.
type Report struct {
	Swept     int64 `json:"swept"`
	Abandoned int64 `json:"abandoned"`
	Requeued  int64 `json:"requeued"`
}

// Sweeper fires Sweep on a cron schedule.
type Sweeper struct {
	schedule       cron.Schedule
	manager        *reservation.Manager
	queue          *cachepush.Queue
	staleThreshold time.Duration
	pushTimeout    time.Duration
}

// Config holds the sweeper settings.
type Config struct {
	// Schedule is a five-field cron expression or a descriptor such as
	// "@every 60s".
	Schedule       string
	StaleThreshold time.Duration
	// PushTimeout is how long an in-progress cache push may run before it
	// is considered abandoned. Zero disables that step.
	PushTimeout time.Duration
}

// New creates a sweeper. queue may be nil when this node does not manage
// cache pushes.
func New(cfg Config, manager *reservation.Manager, queue *cachepush.Queue) (*Sweeper, error) {
	if manager == nil {
		return nil, fmt.Errorf("sweeper requires a reservation manager")
	}
	if cfg.StaleThreshold <= 0 {
		return nil, fmt.Errorf("stale threshold must be positive, got %v", cfg.StaleThreshold)
	}

	expr := strings.TrimSpace(cfg.Schedule)
	if expr == "" {
		expr = DefaultSchedule
	}

	parser := cron.NewParser(
		cron.Minute |
			cron.Hour |
			cron.Dom |
			cron.Month |
			cron.Dow |
			cron.Descriptor,
	)

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}

	return &Sweeper{
		schedule:       sched,
		manager:        manager,
		queue:          queue,
		staleThreshold: cfg.StaleThreshold,
		pushTimeout:    cfg.PushTimeout,
	}, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Info("sweeper listening", "threshold", s.staleThreshold)

	for {
		select {
		case <-time.After(time.Until(s.Next(time.Now()))):
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error("sweep failure", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Next returns the first tick after t.
func (s *Sweeper) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Sweep runs one maintenance pass. Every step is a conditional write, so
// any number of sweepers may run concurrently.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	swept, err := s.manager.SweepStale(ctx, s.staleThreshold)
	if err != nil {
		return report, fmt.Errorf("sweep stale reservations: %w", err)
	}
	report.Swept = swept

	if s.queue == nil {
		return report, nil
	}

	if s.pushTimeout > 0 {
		abandoned, err := s.queue.FailAbandoned(ctx, time.Now().UTC().Add(-s.pushTimeout))
		if err != nil {
			return report, fmt.Errorf("fail abandoned cache pushes: %w", err)
		}
		report.Abandoned = abandoned
	}

	requeued, err := s.queue.Requeue(ctx)
	if err != nil {
		return report, fmt.Errorf("requeue cache pushes: %w", err)
	}
	report.Requeued = requeued

	if report.Swept > 0 || report.Abandoned > 0 || report.Requeued > 0 {
		log.Info("sweep complete",
			"swept", report.Swept,
			"abandoned", report.Abandoned,
			"requeued", report.Requeued,
		)
	}
	return report, nil
}
