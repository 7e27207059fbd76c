// Package readiness computes which build units may be claimed next.
package readiness

import (
	"context"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/retry"
	"github.com/caesium-cloud/crucible/internal/status"
	"gorm.io/gorm"
)

const defaultLimit = 64

// Candidate is a buildable unit plus the fields it was ordered by.
type Candidate struct {
	models.BuildUnit
	CommitTimestamp *time.Time `gorm:"column:commit_timestamp" json:"commit_timestamp,omitempty"`
	DependencyCount int64      `gorm:"column:dependency_count" json:"dependency_count"`
}

// Freshness is the timestamp used for ordering: the commit time, or the
// scheduling time for standalone units.
func (c *Candidate) Freshness() time.Time {
	if c.CommitTimestamp != nil {
		return *c.CommitTimestamp
	}
	return c.ScheduledAt
}

// Status returns the candidate's pipeline status.
func (c *Candidate) Status() status.Status {
	return status.Status(c.StatusID)
}

// Engine lists buildable units. It only reads, so any number of workers may
// call it concurrently; exclusivity is decided when a unit is claimed.
type Engine struct {
	db        *gorm.DB
	policy    retry.Policy
	selectors []string
}

// NewEngine creates an engine over db using the attempt ceiling of policy.
func NewEngine(db *gorm.DB, policy retry.Policy) *Engine {
	if db == nil {
		panic("readiness engine requires a database connection")
	}
	return &Engine{db: db, policy: policy}
}

// WithSelectors restricts the engine to units whose name matches at least one
// of the doublestar patterns. Empty patterns are ignored.
func (e *Engine) WithSelectors(patterns ...string) *Engine {
	out := *e
	out.selectors = nil
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out.selectors = append(out.selectors, p)
		}
	}
	return &out
}

// EligibleWhere returns the SQL predicate, over a build_units row aliased u,
// that holds when the unit could be claimed: its status is in the
// ready-to-build set, its attempts are below the ceiling, it holds no
// reservation and every dependency has a terminal success status. A
// dependency edge pointing at a missing unit never counts as satisfied.
func EligibleWhere(policy retry.Policy) (string, []interface{}) {
	clause := `u.status_id IN ?
		AND u.attempt_count < ?
		AND NOT EXISTS (SELECT 1 FROM reservations r WHERE r.unit_id = u.id)
		AND NOT EXISTS (
			SELECT 1 FROM dependency_edges d
			LEFT JOIN build_units dep ON dep.id = d.depends_on_id
			WHERE d.unit_id = u.id
			AND (dep.id IS NULL OR dep.status_id NOT IN ?)
		)`
	args := []interface{}{
		status.IDs(status.ReadyToBuild()...),
		policy.Limit(),
		status.IDs(status.DependencySatisfied()...),
	}
	return clause, args
}

// ListBuildable returns up to limit claimable units ordered freshest commit
// first, then fewest dependencies, then name and id. With selectors the
// ordered rows are paged until limit matching units are found or the rows
// run out, so fresher non-matching units cannot hide older matching ones.
func (e *Engine) ListBuildable(ctx context.Context, limit int) ([]*Candidate, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	if len(e.selectors) == 0 {
		return e.page(ctx, 0, limit)
	}

	pageSize := limit
	if pageSize < defaultLimit {
		pageSize = defaultLimit
	}

	matched := make([]*Candidate, 0, limit)
	for offset := 0; ; offset += pageSize {
		page, err := e.page(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}

		for _, c := range page {
			if !e.matches(c.Name) {
				continue
			}
			matched = append(matched, c)
			if len(matched) == limit {
				return matched, nil
			}
		}

		if len(page) < pageSize {
			return matched, nil
		}
	}
}

func (e *Engine) page(ctx context.Context, offset, size int) ([]*Candidate, error) {
	where, args := EligibleWhere(e.policy)

	candidates := make([]*Candidate, 0, size)
	err := e.db.WithContext(ctx).
		Table("build_units AS u").
		Select(`u.*,
			c.timestamp AS commit_timestamp,
			(SELECT COUNT(*) FROM dependency_edges de WHERE de.unit_id = u.id) AS dependency_count`).
		Joins("LEFT JOIN commits c ON c.id = u.commit_id").
		Where(where, args...).
		Order("COALESCE(c.timestamp, u.scheduled_at) DESC").
		Order("dependency_count ASC").
		Order("u.name ASC").
		Order("u.id ASC").
		Offset(offset).
		Limit(size).
		Scan(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (e *Engine) matches(name string) bool {
	for _, pattern := range e.selectors {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
