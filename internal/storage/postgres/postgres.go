// Package postgres is the PostgreSQL storage backend, built on GORM.
// GORM stays confined here; the domain packages see only the storage
// interfaces and plain structs.
package postgres

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/neurovexon/axon/internal/storage"
)

// Config holds the connection string and pool tuning. Zero values fall
// back to the defaults noted per field.
type Config struct {
	DSN             string
	MaxOpenConns    int           // 25
	MaxIdleConns    int           // 5
	ConnMaxLifetime time.Duration // 30m
	ConnMaxIdleTime time.Duration // 10m
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	return c
}

// Open connects to PostgreSQL and sizes the connection pool.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	cfg = cfg.withDefaults()

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:      gormLogger,
		NowFunc:     func() time.Time { return time.Now().UTC() },
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	slogger.Info("postgres connected",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
	)

	return newStore(db, slogger, storage.DriverPostgres), nil
}

// SqlDB exposes the underlying *sql.DB for health pings and raw queries.
func (s *Store) SqlDB() (*sql.DB, error) {
	return s.db.DB()
}

// slogAdapter satisfies GORM's logger.Writer with slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
