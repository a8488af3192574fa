// Package sqlite opens the store on SQLite for single-node and dev
// deployments. It rides the glebarez/sqlite GORM driver (modernc.org
// underneath, no CGO) and reuses the postgres package's repositories:
// the GORM models are shared and the SQLite dialect absorbs the SQL
// differences.
//
// Compared to the PostgreSQL backend: WAL journaling is on by default
// so reads don't block behind the writer, JSONB columns degrade to
// TEXT, and there is no pool to tune.
package sqlite

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/neurovexon/axon/internal/storage"
	pgstore "github.com/neurovexon/axon/internal/storage/postgres"
)

// Config holds the file path and journal mode.
type Config struct {
	Path        string
	JournalMode string // "wal" when empty
}

// Open creates or opens the database file, applying the pragmas the
// engine relies on (busy timeout, foreign keys, journal mode).
func Open(cfg Config, slogger *slog.Logger) (*pgstore.Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journal := cfg.JournalMode
	if journal == "" {
		journal = "wal"
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journal)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	slogger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journal))
	return pgstore.NewStore(db, slogger, storage.DriverSQLite), nil
}

// slogAdapter satisfies GORM's logger.Writer with slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
