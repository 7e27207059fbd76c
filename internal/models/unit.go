package models

import (
	"time"

	"gorm.io/gorm"
)

// UnitKind separates whole-system configurations from the packages they
// depend on.
type UnitKind string

const (
	UnitKindSystem  UnitKind = "system"
	UnitKindPackage UnitKind = "package"
)

// Valid reports whether k is a known unit kind.
func (k UnitKind) Valid() bool {
	return k == UnitKindSystem || k == UnitKindPackage
}

// StandaloneCommitKey is stored in CommitKey for units without a commit.
const StandaloneCommitKey int64 = -1

// BuildUnit is a buildable artifact request. Identity is
// (coalesce(commit_id, -1), name, kind), persisted through CommitKey so the
// unique index stays a plain column index on every backend.
type BuildUnit struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	CommitID     *int64     `gorm:"index" json:"commit_id,omitempty"`
	CommitKey    int64      `gorm:"not null;uniqueIndex:idx_build_units_identity" json:"-"`
	Kind         UnitKind   `gorm:"type:text;not null;uniqueIndex:idx_build_units_identity" json:"kind"`
	Name         string     `gorm:"type:text;not null;uniqueIndex:idx_build_units_identity" json:"name"`
	DraftPath    *string    `gorm:"type:text" json:"draft_path,omitempty"`
	OutputPath   *string    `gorm:"type:text" json:"output_path,omitempty"`
	PName        string     `gorm:"column:pname;type:text" json:"pname"`
	Version      string     `gorm:"type:text" json:"version"`
	StatusID     int        `gorm:"not null;index" json:"status_id"`
	AttemptCount int        `gorm:"not null;default:0" json:"attempt_count"`
	ScheduledAt  time.Time  `gorm:"not null" json:"scheduled_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

// BeforeCreate derives CommitKey from CommitID. Identity columns are never
// updated after insert.
func (u *BuildUnit) BeforeCreate(*gorm.DB) error {
	u.CommitKey = CommitKeyFor(u.CommitID)
	return nil
}

// CommitKeyFor maps an optional commit id onto the identity key column.
func CommitKeyFor(commitID *int64) int64 {
	if commitID == nil {
		return StandaloneCommitKey
	}
	return *commitID
}

type BuildUnits []*BuildUnit
