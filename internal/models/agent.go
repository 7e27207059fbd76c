package models

import (
	"time"

	"gorm.io/datatypes"
)

// AgentHeartbeat is the latest state snapshot reported by a deployed host.
// It only feeds read models and never influences scheduling.
type AgentHeartbeat struct {
	Hostname      string            `gorm:"primaryKey;type:text" json:"hostname"`
	SystemName    string            `gorm:"type:text" json:"system_name,omitempty"`
	CurrentOutput string            `gorm:"type:text" json:"current_output,omitempty"`
	Labels        datatypes.JSONMap `gorm:"type:json" json:"labels,omitempty"`
	State         datatypes.JSON    `gorm:"type:json" json:"state,omitempty"`
	LastSeenAt    time.Time         `gorm:"not null;index" json:"last_seen_at"`
}

type AgentHeartbeats []*AgentHeartbeat
