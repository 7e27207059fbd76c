package worker

import (
	"context"
	"errors"
	"time"

	"github.com/caesium-cloud/crucible/internal/builder"
	"github.com/caesium-cloud/crucible/internal/metrics"
	"github.com/caesium-cloud/crucible/internal/reservation"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/pkg/log"
)

const (
	defaultHeartbeatInterval = 60 * time.Second
	releaseTimeout           = 30 * time.Second
)

// BuildExecutor runs the stage a lease calls for and reports the outcome.
type BuildExecutor struct {
	workerID          string
	manager           *reservation.Manager
	builder           builder.Builder
	heartbeatInterval time.Duration
	timeout           time.Duration
}

// NewBuildExecutor creates an executor. A zero timeout means stages run
// until they finish or the worker shuts down.
func NewBuildExecutor(workerID string, manager *reservation.Manager, b builder.Builder, heartbeatInterval, timeout time.Duration) *BuildExecutor {
	if manager == nil || b == nil {
		panic("build executor requires a reservation manager and builder")
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	return &BuildExecutor{
		workerID:          workerID,
		manager:           manager,
		builder:           b,
		heartbeatInterval: heartbeatInterval,
		timeout:           timeout,
	}
}

// Execute implements Executor for leases.
func (e *BuildExecutor) Execute(ctx context.Context, lease *Lease) {
	if lease == nil || lease.Reservation == nil || lease.Unit == nil {
		return
	}

	unit := &lease.Unit.BuildUnit
	stage, err := e.manager.Start(ctx, lease.Reservation)
	if err != nil {
		if errors.Is(err, reservation.ErrNotFound) {
			log.Info("lease lost before start", "unit", unit.Name, "unit_id", unit.ID)
			return
		}
		log.Error("failed to start unit", "unit", unit.Name, "unit_id", unit.ID, "error", err)
		e.release(lease, reservation.StageAbandoned(stageOrDefault(lease)))
		return
	}

	var (
		stageCtx context.Context
		cancel   context.CancelFunc
	)
	if e.timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, e.timeout)
	} else {
		stageCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	lost := make(chan struct{})
	done := make(chan struct{})
	go e.heartbeat(stageCtx, lease, cancel, lost, done)

	log.Info("running stage", "unit", unit.Name, "unit_id", unit.ID, "stage", stage, "worker_id", e.workerID)
	start := time.Now()

	var (
		output string
		runErr error
	)
	switch stage {
	case status.StageDryRun:
		runErr = e.builder.DryRun(stageCtx, unit)
	default:
		output, runErr = e.builder.Build(stageCtx, unit)
	}

	close(done)

	select {
	case <-lost:
		// The sweep took the lease; whoever holds it now owns the unit.
		log.Warn("lease lost during stage", "unit", unit.Name, "unit_id", unit.ID, "stage", stage)
		return
	default:
	}

	var outcome reservation.Outcome
	switch {
	case runErr == nil && stage == status.StageDryRun:
		outcome = reservation.DryRunSucceeded()
	case runErr == nil:
		outcome = reservation.BuildSucceeded(output)
	case ctx.Err() != nil:
		outcome = reservation.StageAbandoned(stage)
	case errors.Is(runErr, context.DeadlineExceeded) || stageCtx.Err() != nil:
		outcome = reservation.StageFailed(stage, errors.New("stage timed out after "+e.timeout.String()))
	default:
		outcome = reservation.StageFailed(stage, runErr)
	}

	metrics.UnitStageDurationSeconds.
		WithLabelValues(string(stage), string(outcome.Result)).
		Observe(time.Since(start).Seconds())

	e.release(lease, outcome)
}

// heartbeat renews the lease until done is closed. When the lease is gone
// it closes lost and cancels the stage.
func (e *BuildExecutor) heartbeat(ctx context.Context, lease *Lease, cancel context.CancelFunc, lost, done chan struct{}) {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := e.manager.Heartbeat(ctx, lease.Reservation.ID)
			if err == nil {
				continue
			}
			if errors.Is(err, reservation.ErrNotFound) {
				close(lost)
				cancel()
				return
			}
			if ctx.Err() == nil {
				metrics.ReservationHeartbeatFailuresTotal.WithLabelValues(e.workerID).Inc()
				log.Error("failed to renew lease", "unit_id", lease.Unit.ID, "reservation_id", lease.Reservation.ID, "error", err)
			}
		}
	}
}

// release uses its own context so outcomes are recorded even while the
// worker shuts down.
func (e *BuildExecutor) release(lease *Lease, outcome reservation.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	err := e.manager.Release(ctx, lease.Reservation, outcome)
	switch {
	case err == nil:
		log.Info("released unit",
			"unit", lease.Unit.Name,
			"unit_id", lease.Unit.ID,
			"stage", outcome.Stage,
			"result", outcome.Result,
			"output", outcome.OutputPath,
		)
	case errors.Is(err, reservation.ErrNotFound):
		log.Warn("lease swept before release", "unit_id", lease.Unit.ID, "stage", outcome.Stage)
	default:
		log.Error("failed to release unit", "unit_id", lease.Unit.ID, "stage", outcome.Stage, "error", err)
	}
}

func stageOrDefault(lease *Lease) status.Stage {
	if stage, ok := status.StageFor(lease.Unit.Status()); ok {
		return stage
	}
	return status.StageBuild
}
