package reservation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/reservation"
	"github.com/caesium-cloud/crucible/internal/retry"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/env"
	"gorm.io/gorm"
)

// Service exposes the worker triad (claim, heartbeat, release) to remote
// workers, plus a read model of live reservations.
type Service interface {
	WithDatabase(*gorm.DB) Service
	Claim(*ClaimRequest) (*models.Reservation, error)
	Start(int64) (*StartResponse, error)
	Heartbeat(int64) error
	Release(int64, reservation.Outcome) error
	List(workerID string) ([]View, error)
}

type service struct {
	ctx context.Context
	db  *gorm.DB
}

func New(ctx context.Context) Service {
	return &service{ctx: ctx}
}

func (s *service) WithDatabase(conn *gorm.DB) Service {
	if conn == nil {
		return s
	}
	s.db = conn
	return s
}

func (s *service) connection() *gorm.DB {
	if s.db == nil {
		s.db = db.Connection()
	}
	return s.db
}

func (s *service) manager() *reservation.Manager {
	vars := env.Variables()
	return reservation.NewManager(s.connection(), retry.NewPolicy(vars.RetryCeiling), vars.CacheDestinations...)
}

type ClaimRequest struct {
	WorkerID     string `json:"worker_id"`
	UnitID       int64  `json:"unit_id"`
	ParentUnitID *int64 `json:"parent_unit_id,omitempty"`
}

func (s *service) Claim(req *ClaimRequest) (*models.Reservation, error) {
	return s.manager().Claim(s.ctx, req.WorkerID, req.UnitID, req.ParentUnitID)
}

type StartResponse struct {
	Reservation *models.Reservation `json:"reservation"`
	Unit        *models.BuildUnit   `json:"unit"`
	Stage       status.Stage        `json:"stage"`
}

func (s *service) Start(id int64) (*StartResponse, error) {
	m := s.manager()

	res, err := m.Get(s.ctx, id)
	if err != nil {
		return nil, err
	}

	stage, err := m.Start(s.ctx, res)
	if err != nil {
		return nil, err
	}

	unit := &models.BuildUnit{}
	if err := s.connection().WithContext(s.ctx).First(unit, "id = ?", res.UnitID).Error; err != nil {
		return nil, err
	}

	return &StartResponse{Reservation: res, Unit: unit, Stage: stage}, nil
}

func (s *service) Heartbeat(id int64) error {
	return s.manager().Heartbeat(s.ctx, id)
}

func (s *service) Release(id int64, outcome reservation.Outcome) error {
	m := s.manager()

	res, err := m.Get(s.ctx, id)
	if err != nil {
		return err
	}
	return m.Release(s.ctx, res, outcome)
}

// View is a reservation joined with its unit, as shown to operators.
type View struct {
	models.Reservation
	UnitName     string  `json:"unit_name"`
	UnitStatus   string  `json:"unit_status"`
	HeartbeatAge float64 `json:"heartbeat_age_seconds"`
}

type row struct {
	models.Reservation
	UnitName string `gorm:"column:unit_name"`
	StatusID int    `gorm:"column:status_id"`
}

// List returns live reservations, stalest heartbeat first, optionally
// restricted to one worker.
func (s *service) List(workerID string) ([]View, error) {
	q := s.connection().WithContext(s.ctx).
		Table("reservations AS r").
		Select("r.*, u.name AS unit_name, u.status_id AS status_id").
		Joins("JOIN build_units u ON u.id = r.unit_id")
	if workerID = strings.TrimSpace(workerID); workerID != "" {
		q = q.Where("r.worker_id = ?", workerID)
	}

	var rows []row
	err := q.Order("r.heartbeat_at ASC").
		Order("r.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	views := make([]View, 0, len(rows))
	for _, r := range rows {
		views = append(views, View{
			Reservation:  r.Reservation,
			UnitName:     r.UnitName,
			UnitStatus:   status.Status(r.StatusID).String(),
			HeartbeatAge: now.Sub(r.HeartbeatAt).Seconds(),
		})
	}
	return views, nil
}

// IsConflict reports whether err means the claim lost.
func IsConflict(err error) bool {
	return errors.Is(err, reservation.ErrConflict)
}

// IsNotFound reports whether err means the reservation is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, reservation.ErrNotFound)
}

// IsStageMismatch reports whether err means the outcome named the wrong
// stage for the unit.
func IsStageMismatch(err error) bool {
	return errors.Is(err, reservation.ErrStageMismatch)
}
