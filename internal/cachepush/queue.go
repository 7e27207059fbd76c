// Package cachepush is the queue that propagates built outputs to binary
// caches after a unit's build succeeds.
package cachepush

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caesium-cloud/crucible/internal/metrics"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/retry"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrAlreadyQueued is returned when a pending or in-progress job already
	// exists for the unit and destination.
	ErrAlreadyQueued = errors.New("cache push already queued")
	// ErrNotFound is returned when a job is missing or not in the state the
	// operation requires.
	ErrNotFound = errors.New("cache push job not found")
	// ErrNoOutput is returned when a push is requested without an output path.
	ErrNoOutput = errors.New("cache push requires an output path")
)

const candidateBatch = 64

// Queue coordinates cache push jobs through status-guarded updates. Jobs are
// short-lived, so there is no lease table: a job moves pending → in_progress
// through an UPDATE that only matches while it is still pending.
type Queue struct {
	db      *gorm.DB
	policy  retry.Policy
	backoff Backoff
}

// NewQueue creates a queue over db.
func NewQueue(conn *gorm.DB, policy retry.Policy, b Backoff) *Queue {
	if conn == nil {
		panic("cache push queue requires a database connection")
	}
	return &Queue{db: conn, policy: policy, backoff: b}
}

// DB exposes the queue's connection for callers composing transactions.
func (q *Queue) DB() *gorm.DB {
	return q.db
}

// Enqueue schedules a push of outputPath to destination for unitID.
func (q *Queue) Enqueue(ctx context.Context, unitID int64, outputPath, destination string) (*models.CachePushJob, error) {
	return EnqueueTx(q.db.WithContext(ctx), unitID, outputPath, destination, time.Now().UTC())
}

// EnqueueTx inserts a pending job using tx, which may be an open
// transaction. A live job for the same unit and destination makes the insert
// a no-op and ErrAlreadyQueued is returned.
func EnqueueTx(tx *gorm.DB, unitID int64, outputPath, destination string, now time.Time) (*models.CachePushJob, error) {
	outputPath = strings.TrimSpace(outputPath)
	if outputPath == "" {
		return nil, ErrNoOutput
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, fmt.Errorf("cache push destination is required")
	}

	job := &models.CachePushJob{
		UnitID:      unitID,
		Status:      models.CachePushPending,
		OutputPath:  outputPath,
		Destination: destination,
		ScheduledAt: now,
	}

	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(job)
	if result.Error != nil {
		if db.IsDuplicate(result.Error) {
			return nil, ErrAlreadyQueued
		}
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadyQueued
	}

	metrics.CachePushJobsTotal.WithLabelValues(destination, string(models.CachePushPending)).Inc()
	return job, nil
}

// ClaimNext moves the oldest pending job to in_progress and returns it, or
// nil when nothing is pending. Losing a race for a candidate moves on to the
// next one.
func (q *Queue) ClaimNext(ctx context.Context, destinations ...string) (*models.CachePushJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var candidates []models.CachePushJob
	query := q.db.WithContext(ctx).
		Where("status = ?", models.CachePushPending).
		Order("scheduled_at ASC").
		Order("id ASC").
		Limit(candidateBatch)
	if len(destinations) > 0 {
		query = query.Where("destination IN ?", destinations)
	}
	if err := query.Find(&candidates).Error; err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		now := time.Now().UTC()
		result := q.db.WithContext(ctx).
			Model(&models.CachePushJob{}).
			Where("id = ? AND status = ?", candidate.ID, models.CachePushPending).
			Updates(map[string]interface{}{
				"status":       models.CachePushInProgress,
				"started_at":   now,
				"completed_at": nil,
			})
		if result.Error != nil {
			if db.IsContention(result.Error) {
				continue
			}
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			// Another worker won the race.
			continue
		}

		claimed := candidate
		claimed.Status = models.CachePushInProgress
		claimed.StartedAt = &now
		claimed.CompletedAt = nil
		metrics.CachePushJobsTotal.WithLabelValues(claimed.Destination, string(models.CachePushInProgress)).Inc()
		return &claimed, nil
	}

	return nil, nil
}

// Complete marks an in-progress job as pushed. When the unit has no other
// outstanding push, the unit moves from build-complete to complete.
func (q *Queue) Complete(ctx context.Context, jobID int64) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job := &models.CachePushJob{}
		if err := tx.First(job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		now := time.Now().UTC()
		result := tx.Model(&models.CachePushJob{}).
			Where("id = ? AND status = ?", jobID, models.CachePushInProgress).
			Updates(map[string]interface{}{
				"status":       models.CachePushCompleted,
				"completed_at": now,
				"error":        "",
				"retry_after":  nil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		var outstanding int64
		if err := tx.Model(&models.CachePushJob{}).
			Where("unit_id = ? AND id <> ?", job.UnitID, job.ID).
			Where("(status IN ? OR (status = ? AND attempts < ?))",
				[]models.CachePushStatus{models.CachePushPending, models.CachePushInProgress},
				models.CachePushFailed,
				q.policy.Limit(),
			).
			Count(&outstanding).Error; err != nil {
			return err
		}

		if outstanding == 0 {
			if err := tx.Model(&models.BuildUnit{}).
				Where("id = ? AND status_id = ?", job.UnitID, status.BuildComplete.ID()).
				Updates(map[string]interface{}{
					"status_id":  status.Complete.ID(),
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
		}

		metrics.CachePushJobsTotal.WithLabelValues(job.Destination, string(models.CachePushCompleted)).Inc()
		return nil
	})
}

// Fail records a failed push attempt and schedules the earliest retry from
// the exponential backoff over the new attempt count.
func (q *Queue) Fail(ctx context.Context, jobID int64, cause error) error {
	msg := "cache push failed"
	if cause != nil {
		msg = cause.Error()
	}

	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job := &models.CachePushJob{}
		if err := tx.First(job, "id = ? AND status = ?", jobID, models.CachePushInProgress).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		return q.failTx(tx, job, msg, time.Now().UTC())
	})
}

func (q *Queue) failTx(tx *gorm.DB, job *models.CachePushJob, msg string, now time.Time) error {
	attempts := job.Attempts + 1
	retryAfter := now.Add(q.backoff.Delay(attempts))

	result := tx.Model(&models.CachePushJob{}).
		Where("id = ? AND status = ? AND attempts = ?", job.ID, models.CachePushInProgress, job.Attempts).
		Updates(map[string]interface{}{
			"status":       models.CachePushFailed,
			"attempts":     attempts,
			"error":        msg,
			"retry_after":  retryAfter,
			"completed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	metrics.CachePushJobsTotal.WithLabelValues(job.Destination, string(models.CachePushFailed)).Inc()
	return nil
}

// Requeue returns failed jobs whose backoff has elapsed and whose attempts
// remain below the ceiling to pending. A job whose unit and destination
// already have a live job is left failed. It returns the number requeued.
func (q *Queue) Requeue(ctx context.Context) (int64, error) {
	now := time.Now().UTC()

	var candidates []models.CachePushJob
	if err := q.db.WithContext(ctx).
		Where("status = ? AND attempts < ? AND retry_after IS NOT NULL AND retry_after <= ?",
			models.CachePushFailed, q.policy.Limit(), now).
		Order("retry_after ASC").
		Limit(candidateBatch).
		Find(&candidates).Error; err != nil {
		return 0, err
	}

	var requeued int64
	for _, candidate := range candidates {
		result := q.db.WithContext(ctx).
			Model(&models.CachePushJob{}).
			Where("id = ? AND status = ?", candidate.ID, models.CachePushFailed).
			Updates(map[string]interface{}{
				"status":       models.CachePushPending,
				"scheduled_at": now,
				"started_at":   nil,
				"completed_at": nil,
			})
		if result.Error != nil {
			if db.IsDuplicate(result.Error) || db.IsContention(result.Error) {
				continue
			}
			return requeued, result.Error
		}
		requeued += result.RowsAffected
	}

	if requeued > 0 {
		metrics.CachePushRequeuedTotal.Add(float64(requeued))
	}
	return requeued, nil
}

// FailAbandoned fails in-progress jobs started before cutoff, so a push
// whose worker died re-enters the retry path instead of holding the live
// slot for its unit and destination forever.
func (q *Queue) FailAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	var stale []models.CachePushJob
	if err := q.db.WithContext(ctx).
		Where("status = ? AND started_at IS NOT NULL AND started_at < ?", models.CachePushInProgress, cutoff.UTC()).
		Limit(candidateBatch).
		Find(&stale).Error; err != nil {
		return 0, err
	}

	var failed int64
	for i := range stale {
		job := &stale[i]
		err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return q.failTx(tx, job, "cache push abandoned by worker", time.Now().UTC())
		})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return failed, err
		}
		failed++
	}
	return failed, nil
}

// List returns jobs for a unit, newest first.
func (q *Queue) List(ctx context.Context, unitID int64) (models.CachePushJobs, error) {
	jobs := make(models.CachePushJobs, 0)
	err := q.db.WithContext(ctx).
		Where("unit_id = ?", unitID).
		Order("scheduled_at DESC").
		Order("id DESC").
		Find(&jobs).Error
	return jobs, err
}
