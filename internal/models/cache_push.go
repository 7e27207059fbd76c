package models

import "time"

type CachePushStatus string

const (
	CachePushPending    CachePushStatus = "pending"
	CachePushInProgress CachePushStatus = "in_progress"
	CachePushCompleted  CachePushStatus = "completed"
	CachePushFailed     CachePushStatus = "failed"
)

// Live reports whether the job still counts against the
// (unit_id, destination) uniqueness index.
func (s CachePushStatus) Live() bool {
	return s == CachePushPending || s == CachePushInProgress
}

// CachePushJob propagates a built output path to one binary cache.
type CachePushJob struct {
	ID          int64           `gorm:"primaryKey" json:"id"`
	UnitID      int64           `gorm:"not null;index" json:"unit_id"`
	Status      CachePushStatus `gorm:"type:text;not null;index" json:"status"`
	OutputPath  string          `gorm:"type:text;not null" json:"output_path"`
	Destination string          `gorm:"type:text;not null" json:"destination"`
	Attempts    int             `gorm:"not null;default:0" json:"attempts"`
	RetryAfter  *time.Time      `gorm:"index" json:"retry_after,omitempty"`
	ScheduledAt time.Time       `gorm:"not null" json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `gorm:"type:text" json:"error,omitempty"`
}

type CachePushJobs []*CachePushJob
