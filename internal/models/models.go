package models

import (
	"fmt"

	"gorm.io/gorm"
)

// All lists every persisted model in migration order.
var All = []interface{}{
	&StatusEntry{},
	&Flake{},
	&Commit{},
	&BuildUnit{},
	&DependencyEdge{},
	&Reservation{},
	&CachePushJob{},
	&AgentHeartbeat{},
}

// liveCachePushIndex enforces at most one pending or in-progress job per
// (unit_id, destination). Partial indexes are understood by both postgres
// and sqlite, but cannot be expressed through gorm struct tags.
const liveCachePushIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_cache_push_jobs_live
	ON cache_push_jobs (unit_id, destination)
	WHERE status IN ('pending', 'in_progress')`

// Migrate creates or updates every table and the indexes gorm cannot
// derive from struct tags.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(All...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := db.Exec(liveCachePushIndex).Error; err != nil {
		return fmt.Errorf("create live cache push index: %w", err)
	}

	return nil
}
