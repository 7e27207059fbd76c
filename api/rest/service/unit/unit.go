package unit

import (
	"context"
	"errors"
	"fmt"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/readiness"
	"github.com/caesium-cloud/crucible/internal/retry"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/pkg/db"
	"github.com/caesium-cloud/crucible/pkg/env"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a unit id does not exist.
var ErrNotFound = errors.New("build unit not found")

// Service is the read model over build units.
type Service interface {
	WithDatabase(*gorm.DB) Service
	List(*ListRequest) (models.BuildUnits, error)
	Get(int64) (*Detail, error)
	Buildable(limit int, selectors ...string) ([]*readiness.Candidate, error)
	Stuck(limit int) (models.BuildUnits, error)
	StuckCommits(limit int) (models.Commits, error)
	Statuses() ([]models.StatusEntry, error)
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

func (s *service) policy() retry.Policy {
	return retry.NewPolicy(env.Variables().RetryCeiling)
}

type ListRequest struct {
	Status   string
	CommitID int64
	Limit    int
}

func (s *service) List(req *ListRequest) (models.BuildUnits, error) {
	q := s.connection().WithContext(s.ctx).Model(&models.BuildUnit{})

	if req != nil {
		if req.Status != "" {
			st, err := status.Parse(req.Status)
			if err != nil {
				return nil, err
			}
			q = q.Where("status_id = ?", st.ID())
		}
		if req.CommitID > 0 {
			q = q.Where("commit_id = ?", req.CommitID)
		}
		if req.Limit > 0 {
			q = q.Limit(req.Limit)
		}
	}

	units := make(models.BuildUnits, 0)
	if err := q.Order("scheduled_at DESC").Order("id ASC").Find(&units).Error; err != nil {
		return nil, err
	}
	return units, nil
}

// Detail is a unit with its dependency ids, reservation and cache pushes.
type Detail struct {
	*models.BuildUnit
	Status      string               `json:"status"`
	DependsOn   []int64              `json:"depends_on"`
	Reservation *models.Reservation  `json:"reservation,omitempty"`
	CachePushes models.CachePushJobs `json:"cache_pushes"`
}

func (s *service) Get(id int64) (*Detail, error) {
	conn := s.connection().WithContext(s.ctx)

	unit := &models.BuildUnit{}
	if err := conn.First(unit, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	detail := &Detail{
		BuildUnit:   unit,
		Status:      status.Status(unit.StatusID).String(),
		DependsOn:   make([]int64, 0),
		CachePushes: make(models.CachePushJobs, 0),
	}

	if err := conn.Model(&models.DependencyEdge{}).
		Where("unit_id = ?", id).
		Order("depends_on_id ASC").
		Pluck("depends_on_id", &detail.DependsOn).Error; err != nil {
		return nil, fmt.Errorf("load dependencies: %w", err)
	}

	var reservations models.Reservations
	if err := conn.Where("unit_id = ?", id).Limit(1).Find(&reservations).Error; err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	if len(reservations) > 0 {
		detail.Reservation = reservations[0]
	}

	if err := conn.Where("unit_id = ?", id).
		Order("id ASC").
		Find(&detail.CachePushes).Error; err != nil {
		return nil, fmt.Errorf("load cache pushes: %w", err)
	}

	return detail, nil
}

func (s *service) Buildable(limit int, selectors ...string) ([]*readiness.Candidate, error) {
	engine := readiness.NewEngine(s.connection(), s.policy()).WithSelectors(selectors...)
	return engine.ListBuildable(s.ctx, limit)
}

func (s *service) Stuck(limit int) (models.BuildUnits, error) {
	return s.policy().StuckUnits(s.ctx, s.connection(), limit)
}

func (s *service) StuckCommits(limit int) (models.Commits, error) {
	return s.policy().StuckCommits(s.ctx, s.connection(), limit)
}

func (s *service) Statuses() ([]models.StatusEntry, error) {
	catalog, err := status.Load(s.ctx, s.connection())
	if err != nil {
		return nil, err
	}
	return catalog.Ordered(), nil
}
