// Package retry bounds how often a unit or commit is re-attempted.
package retry

import (
	"context"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/status"
	"gorm.io/gorm"
)

// DefaultCeiling is the attempt ceiling shared by units and commits.
const DefaultCeiling = 5

// Policy decides what happens after a failed attempt.
type Policy struct {
	Ceiling int
}

// NewPolicy returns a policy with the given ceiling, falling back to
// DefaultCeiling for non-positive values.
func NewPolicy(ceiling int) Policy {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return Policy{Ceiling: ceiling}
}

// Eligible reports whether something that has failed attempts times may be
// attempted again.
func (p Policy) Eligible(attempts int) bool {
	return attempts < p.Limit()
}

// Decision is the unit state written after a failed stage.
type Decision struct {
	Status    status.Status
	Attempts  int
	Exhausted bool
}

// OnFailure increments attempts and returns the status to persist: the
// stage's pending status while attempts remain, otherwise its terminal
// failure status.
func (p Policy) OnFailure(stage status.Stage, attempts int) Decision {
	attempts++
	if p.Eligible(attempts) {
		return Decision{Status: stage.Retry(), Attempts: attempts}
	}
	return Decision{Status: stage.Failed(), Attempts: attempts, Exhausted: true}
}

// CommitRetryable reports whether evaluation of c may be retried.
func (p Policy) CommitRetryable(c *models.Commit) bool {
	return c != nil && p.Eligible(c.AttemptCount)
}

// Limit returns the effective ceiling.
func (p Policy) Limit() int {
	if p.Ceiling <= 0 {
		return DefaultCeiling
	}
	return p.Ceiling
}

// StuckUnits lists units that exhausted their attempts, most recently
// scheduled first.
func (p Policy) StuckUnits(ctx context.Context, db *gorm.DB, limit int) (models.BuildUnits, error) {
	units := make(models.BuildUnits, 0)
	q := db.WithContext(ctx).
		Where("attempt_count >= ?", p.Limit()).
		Order("scheduled_at DESC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&units).Error; err != nil {
		return nil, err
	}
	return units, nil
}

// StuckCommits lists commits whose evaluation exhausted its attempts without
// producing any unit.
func (p Policy) StuckCommits(ctx context.Context, db *gorm.DB, limit int) (models.Commits, error) {
	commits := make(models.Commits, 0)
	q := db.WithContext(ctx).
		Where("attempt_count >= ?", p.Limit()).
		Where("NOT EXISTS (SELECT 1 FROM build_units u WHERE u.commit_id = commits.id)").
		Order("timestamp DESC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&commits).Error; err != nil {
		return nil, err
	}
	return commits, nil
}
