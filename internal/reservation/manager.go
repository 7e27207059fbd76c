// Package reservation grants workers exclusive, heartbeat-renewed leases on
// build units. The unique index on reservations.unit_id is the only mutual
// exclusion mechanism; there are no application-level locks.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caesium-cloud/crucible/internal/cachepush"
	"github.com/caesium-cloud/crucible/internal/metrics"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/readiness"
	"github.com/caesium-cloud/crucible/internal/retry"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrConflict is returned when the unit is already reserved or no longer
	// eligible. Callers should move on to the next candidate.
	ErrConflict = errors.New("unit already reserved or not claimable")
	// ErrNotFound is returned when a reservation no longer exists, usually
	// because the staleness sweep removed it.
	ErrNotFound = errors.New("reservation not found")
	// ErrStageMismatch is returned when an outcome reports a stage other than
	// the one the unit's status calls for.
	ErrStageMismatch = errors.New("outcome stage does not match unit")
)

// Manager grants, renews and releases reservations.
type Manager struct {
	db           *gorm.DB
	policy       retry.Policy
	destinations []string
}

// NewManager creates a manager. Successful builds enqueue one cache push per
// destination.
func NewManager(conn *gorm.DB, policy retry.Policy, destinations ...string) *Manager {
	if conn == nil {
		panic("reservation manager requires a database connection")
	}

	dests := make([]string, 0, len(destinations))
	for _, d := range destinations {
		if d = strings.TrimSpace(d); d != "" {
			dests = append(dests, d)
		}
	}

	return &Manager{db: conn, policy: policy, destinations: dests}
}

// Claim reserves unitID for workerID. The reservation is written by a single
// conditional INSERT that re-checks eligibility and relies on the unit_id
// unique index, so there is no window between listing and claiming in which
// two workers can both succeed. ErrConflict means another worker holds the
// unit or it stopped being claimable.
func (m *Manager) Claim(ctx context.Context, workerID string, unitID int64, parentUnitID *int64) (*models.Reservation, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}

	now := time.Now().UTC()
	where, args := readiness.EligibleWhere(m.policy)

	insert := `INSERT INTO reservations (worker_id, unit_id, parent_unit_id, reserved_at, heartbeat_at)
		SELECT ?, u.id, ?, ?, ? FROM build_units u
		WHERE u.id = ? AND ` + where + `
		ON CONFLICT (unit_id) DO NOTHING`

	params := append([]interface{}{workerID, parentUnitID, now, now, unitID}, args...)

	var claimed *models.Reservation
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Exec(insert, params...)
		if result.Error != nil {
			if db.IsDuplicate(result.Error) || db.IsContention(result.Error) {
				return ErrConflict
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConflict
		}

		res := &models.Reservation{}
		if err := tx.First(res, "unit_id = ?", unitID).Error; err != nil {
			return err
		}
		claimed = res
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			metrics.UnitClaimConflictsTotal.WithLabelValues(workerID).Inc()
		}
		return nil, err
	}

	metrics.UnitClaimsTotal.WithLabelValues(workerID).Inc()
	log.Debug("claimed unit", "unit_id", unitID, "worker_id", workerID, "reservation_id", claimed.ID)
	return claimed, nil
}

// Heartbeat renews the lease. ErrNotFound means the lease is gone and the
// worker must stop treating the unit as its own.
func (m *Manager) Heartbeat(ctx context.Context, reservationID int64) error {
	result := m.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ?", reservationID).
		Update("heartbeat_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Start moves the reserved unit into the in-progress status of the stage its
// current status calls for and returns that stage.
func (m *Manager) Start(ctx context.Context, res *models.Reservation) (status.Stage, error) {
	var stage status.Stage

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unit, err := m.liveUnit(tx, res)
		if err != nil {
			return err
		}

		var ok bool
		stage, ok = status.StageFor(status.Status(unit.StatusID))
		if !ok {
			return fmt.Errorf("unit %d in status %s has no stage to run", unit.ID, status.Status(unit.StatusID))
		}

		now := time.Now().UTC()
		return tx.Model(&models.BuildUnit{}).
			Where("id = ? AND status_id = ?", unit.ID, unit.StatusID).
			Updates(map[string]interface{}{
				"status_id":    stage.InProgress().ID(),
				"started_at":   now,
				"completed_at": nil,
				"updated_at":   now,
			}).Error
	})
	if err != nil {
		return "", err
	}

	return stage, nil
}

// Release ends the reservation and records the outcome in one transaction,
// so the lease is never dropped while the unit's status is left stale. If
// the reservation was already swept nothing is written and ErrNotFound is
// returned: another worker may own the unit by now.
func (m *Manager) Release(ctx context.Context, res *models.Reservation, outcome Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}

	var decision retry.Decision
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unit, err := m.liveUnit(tx, res)
		if err != nil {
			return err
		}

		// The unit's status, not the caller, decides which stage is ending.
		stage, ok := status.StageFor(status.Status(unit.StatusID))
		if !ok || stage != outcome.Stage {
			return fmt.Errorf("%w: unit %d in status %s cannot end stage %s",
				ErrStageMismatch, unit.ID, status.Status(unit.StatusID), outcome.Stage)
		}

		deleted := tx.Where("id = ? AND unit_id = ?", res.ID, res.UnitID).Delete(&models.Reservation{})
		if deleted.Error != nil {
			return deleted.Error
		}
		if deleted.RowsAffected == 0 {
			return ErrNotFound
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{"updated_at": now}

		switch outcome.Result {
		case Succeeded:
			updates["status_id"] = outcome.Stage.Succeeded().ID()
			updates["completed_at"] = now
			updates["error"] = ""
			if outcome.Stage == status.StageBuild {
				updates["output_path"] = strings.TrimSpace(outcome.OutputPath)
			}
		case Failed:
			decision = m.policy.OnFailure(outcome.Stage, unit.AttemptCount)
			updates["status_id"] = decision.Status.ID()
			updates["attempt_count"] = decision.Attempts
			updates["completed_at"] = now
			updates["error"] = outcome.Error
		case Abandoned:
			updates["status_id"] = outcome.Stage.Retry().ID()
			updates["started_at"] = nil
		}

		if err := tx.Model(&models.BuildUnit{}).Where("id = ?", unit.ID).Updates(updates).Error; err != nil {
			return err
		}

		if outcome.Result == Succeeded && outcome.Stage == status.StageBuild {
			for _, dest := range m.destinations {
				_, err := cachepush.EnqueueTx(tx, unit.ID, outcome.OutputPath, dest, now)
				if err != nil && !errors.Is(err, cachepush.ErrAlreadyQueued) {
					return fmt.Errorf("enqueue cache push to %s: %w", dest, err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	metrics.UnitReleasesTotal.WithLabelValues(string(outcome.Stage), string(outcome.Result)).Inc()
	if decision.Exhausted {
		metrics.UnitRetriesExhaustedTotal.WithLabelValues(string(outcome.Stage)).Inc()
		log.Warn("unit exhausted retries", "unit_id", res.UnitID, "stage", outcome.Stage, "attempts", decision.Attempts)
	}
	return nil
}

// SweepStale deletes reservations whose heartbeat is older than threshold
// and returns how many were removed. Unit rows are not touched: a unit whose
// worker died simply becomes claimable again. The delete is conditional, so
// concurrent sweepers are safe.
func (m *Manager) SweepStale(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	result := m.db.WithContext(ctx).
		Where("heartbeat_at < ?", cutoff).
		Delete(&models.Reservation{})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		metrics.ReservationsSweptTotal.Add(float64(result.RowsAffected))
		log.Info("swept stale reservations", "count", result.RowsAffected, "threshold", threshold)
	}
	return result.RowsAffected, nil
}

// Get returns the reservation with the given id.
func (m *Manager) Get(ctx context.Context, reservationID int64) (*models.Reservation, error) {
	res := &models.Reservation{}
	if err := m.db.WithContext(ctx).First(res, "id = ?", reservationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

// liveUnit verifies res still exists and returns its unit. On postgres both
// rows are held FOR UPDATE until tx ends, so a concurrent sweep or release
// waits; sqlite serialises writers and ignores the locking clause.
func (m *Manager) liveUnit(tx *gorm.DB, res *models.Reservation) (*models.BuildUnit, error) {
	if res == nil {
		return nil, ErrNotFound
	}

	live := &models.Reservation{}
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND unit_id = ?", res.ID, res.UnitID).
		Take(live).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	unit := &models.BuildUnit{}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(unit, "id = ?", res.UnitID).Error; err != nil {
		return nil, err
	}
	return unit, nil
}
