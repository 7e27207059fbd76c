package models

import "time"

// DependencyEdge records that UnitID cannot build before DependsOnID has
// succeeded.
type DependencyEdge struct {
	UnitID      int64     `gorm:"primaryKey;autoIncrement:false" json:"unit_id"`
	DependsOnID int64     `gorm:"primaryKey;autoIncrement:false;index" json:"depends_on_id"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

type DependencyEdges []*DependencyEdge
