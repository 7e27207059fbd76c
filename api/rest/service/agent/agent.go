package agent

import (
	"context"

	"github.com/caesium-cloud/crucible/internal/ingest"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/pkg/db"
	"gorm.io/gorm"
)

// Service records and lists agent heartbeats. Heartbeats are informational
// only and never affect scheduling.
type Service interface {
	WithDatabase(*gorm.DB) Service
	Heartbeat(hostname string, report ingest.AgentReport) (*models.AgentHeartbeat, error)
	List() (models.AgentHeartbeats, error)
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

func (s *service) Heartbeat(hostname string, report ingest.AgentReport) (*models.AgentHeartbeat, error) {
	return ingest.NewIngestor(s.connection()).RecordAgentHeartbeat(s.ctx, hostname, report)
}

func (s *service) List() (models.AgentHeartbeats, error) {
	heartbeats := make(models.AgentHeartbeats, 0)
	err := s.connection().WithContext(s.ctx).
		Order("last_seen_at DESC").
		Order("hostname ASC").
		Find(&heartbeats).Error
	return heartbeats, err
}
