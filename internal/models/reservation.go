package models

import "time"

// Reservation is a heartbeat-renewed exclusive lease on a build unit. The
// unique index on UnitID is the mutual exclusion primitive.
type Reservation struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	WorkerID     string    `gorm:"type:text;not null;index" json:"worker_id"`
	UnitID       int64     `gorm:"not null;uniqueIndex" json:"unit_id"`
	ParentUnitID *int64    `json:"parent_unit_id,omitempty"`
	ReservedAt   time.Time `gorm:"not null" json:"reserved_at"`
	HeartbeatAt  time.Time `gorm:"not null;index" json:"heartbeat_at"`
}

type Reservations []*Reservation
