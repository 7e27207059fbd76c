package models

import "time"

// Flake is a monitored source repository.
type Flake struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	RepoURL   string    `gorm:"type:text;uniqueIndex;not null" json:"repo_url"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

type Flakes []*Flake
