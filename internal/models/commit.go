package models

import "time"

// Commit is an evaluated point in a flake's history.
type Commit struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	FlakeID      int64     `gorm:"not null;uniqueIndex:idx_commits_flake_hash" json:"flake_id"`
	Hash         string    `gorm:"type:text;not null;uniqueIndex:idx_commits_flake_hash" json:"hash"`
	Timestamp    time.Time `gorm:"not null;index" json:"timestamp"`
	AttemptCount int       `gorm:"not null;default:0" json:"attempt_count"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

type Commits []*Commit
