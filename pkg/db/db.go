package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/status"
	"github.com/caesium-cloud/crucible/pkg/env"
	"github.com/caesium-cloud/crucible/pkg/log"
	_ "github.com/jackc/pgx/v4"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	conn     *gorm.DB
	connOnce sync.Once
)

// Connection returns the process-wide database handle, opening it on first
// use from the environment configuration.
func Connection() *gorm.DB {
	connOnce.Do(func() {
		gdb, err := Open(env.Variables())
		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
		conn = gdb
	})
	return conn
}

// Use installs gdb as the process-wide handle returned by Connection.
func Use(gdb *gorm.DB) {
	connOnce.Do(func() {})
	conn = gdb
}

// Open opens a new connection pool for the configured database type.
func Open(vars env.Environment) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch vars.DatabaseType {
	case "sqlite":
		dialector = sqlite.Open(vars.DatabaseDSN)
	case "postgres":
		fallthrough
	default:
		dialector = postgres.Open(vars.DatabaseDSN)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", vars.DatabaseType, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(vars.DatabaseMaxOpenConns)
	sqlDB.SetMaxIdleConns(vars.DatabaseMaxIdleConns)
	sqlDB.SetConnMaxLifetime(vars.DatabaseConnMaxLifetime)

	return gdb, nil
}

// Migrate brings the schema up to date and reseeds the status catalog.
func Migrate(ctx context.Context, gdb *gorm.DB) error {
	if err := models.Migrate(gdb.WithContext(ctx)); err != nil {
		return err
	}
	if err := status.Seed(ctx, gdb); err != nil {
		return fmt.Errorf("seed status catalog: %w", err)
	}
	return nil
}
