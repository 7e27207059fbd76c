// Package testutil opens migrated in-memory databases and seeds fixtures for
// package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenTestDB returns an in-memory sqlite DB with migrations applied and the
// status catalog seeded. The pool is limited to one connection so concurrent
// callers serialise on the database the way they would on a row lock.
func OpenTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := models.Migrate(db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	if err := status.Seed(context.Background(), db); err != nil {
		tb.Fatalf("seed status catalog: %v", err)
	}

	tb.Cleanup(func() { CloseDB(db) })

	return db
}

// CloseDB closes the underlying sql.DB if available.
func CloseDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// AssertCount asserts a count for the provided model using the supplied DB.
func AssertCount(tb testing.TB, db *gorm.DB, model any, expected int64) {
	tb.Helper()

	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	if count != expected {
		tb.Fatalf("expected %d records, got %d", expected, count)
	}
}

// Fixture seeds flakes, commits and units directly, bypassing the ingest
// boundary, so tests can set any status or attempt count.
type Fixture struct {
	tb    testing.TB
	db    *gorm.DB
	flake *models.Flake
}

// NewFixture creates a fixture with a single registered flake.
func NewFixture(tb testing.TB, db *gorm.DB) *Fixture {
	tb.Helper()

	flake := &models.Flake{Name: "fleet", RepoURL: "https://git.example/" + uuid.NewString()}
	if err := db.Create(flake).Error; err != nil {
		tb.Fatalf("create flake: %v", err)
	}
	return &Fixture{tb: tb, db: db, flake: flake}
}

// Commit inserts a commit observed at ts.
func (f *Fixture) Commit(hash string, ts time.Time) *models.Commit {
	f.tb.Helper()

	c := &models.Commit{FlakeID: f.flake.ID, Hash: hash, Timestamp: ts.UTC()}
	if err := f.db.Create(c).Error; err != nil {
		f.tb.Fatalf("create commit: %v", err)
	}
	return c
}

// UnitSpec describes a unit to seed.
type UnitSpec struct {
	Commit   *models.Commit
	Kind     models.UnitKind
	Name     string
	Status   status.Status
	Attempts int
	Output   string
}

// Unit inserts a unit. Kind defaults to package and Status to
// dry-run-pending.
func (f *Fixture) Unit(spec UnitSpec) *models.BuildUnit {
	f.tb.Helper()

	if spec.Kind == "" {
		spec.Kind = models.UnitKindPackage
	}
	if spec.Status == 0 {
		spec.Status = status.DryRunPending
	}

	drv := "/nix/store/" + uuid.NewString()[:8] + "-" + spec.Name + ".drv"
	u := &models.BuildUnit{
		Kind:         spec.Kind,
		Name:         spec.Name,
		DraftPath:    &drv,
		PName:        spec.Name,
		Version:      "1.0",
		StatusID:     spec.Status.ID(),
		AttemptCount: spec.Attempts,
		ScheduledAt:  time.Now().UTC(),
	}
	if spec.Commit != nil {
		id := spec.Commit.ID
		u.CommitID = &id
	}
	if spec.Output != "" {
		out := spec.Output
		u.OutputPath = &out
	}

	if err := f.db.Create(u).Error; err != nil {
		f.tb.Fatalf("create unit %s: %v", spec.Name, err)
	}
	return u
}

// DependsOn adds edges from unit to each dependency.
func (f *Fixture) DependsOn(unit *models.BuildUnit, deps ...*models.BuildUnit) {
	f.tb.Helper()

	for _, dep := range deps {
		edge := &models.DependencyEdge{UnitID: unit.ID, DependsOnID: dep.ID}
		if err := f.db.Create(edge).Error; err != nil {
			f.tb.Fatalf("create edge %d -> %d: %v", unit.ID, dep.ID, err)
		}
	}
}

// SetStatus overwrites the status of unit.
func (f *Fixture) SetStatus(unit *models.BuildUnit, s status.Status) {
	f.tb.Helper()

	if err := f.db.Model(&models.BuildUnit{}).
		Where("id = ?", unit.ID).
		Update("status_id", s.ID()).Error; err != nil {
		f.tb.Fatalf("set status: %v", err)
	}
	unit.StatusID = s.ID()
}

// Reload reads unit back from the database.
func (f *Fixture) Reload(unit *models.BuildUnit) *models.BuildUnit {
	f.tb.Helper()

	out := &models.BuildUnit{}
	if err := f.db.First(out, "id = ?", unit.ID).Error; err != nil {
		f.tb.Fatalf("reload unit: %v", err)
	}
	return out
}
