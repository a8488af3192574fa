package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/neurovexon/axon/internal/agent"
	"github.com/neurovexon/axon/internal/audit"
	"github.com/neurovexon/axon/internal/storage"
	"github.com/neurovexon/axon/internal/tools/memory"
)

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Store is the GORM-backed implementation of storage.Store. It is shared
// by the postgres and sqlite backends; only the dialector differs.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	driver string

	mu       sync.Mutex
	sessions *SessionRepository
	trail    *AuditRepository
	memories *MemoryRepository
}

func newStore(db *gorm.DB, logger *slog.Logger, driver string) *Store {
	return &Store{db: db, logger: logger, driver: driver}
}

// NewStore wraps an existing GORM connection. Used by the sqlite backend,
// which shares this package's models and repositories.
func NewStore(db *gorm.DB, logger *slog.Logger, driver string) *Store {
	return newStore(db, logger, driver)
}

// DB exposes the underlying GORM handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Sessions returns the session store.
func (s *Store) Sessions() agent.SessionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = NewSessionRepository(s.db)
	}
	return s.sessions
}

// Audit returns the audit record store.
func (s *Store) Audit() audit.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trail == nil {
		s.trail = NewAuditRepository(s.db)
	}
	return s.trail
}

// Memories returns the long-term memory store.
func (s *Store) Memories() memory.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memories == nil {
		s.memories = NewMemoryRepository(s.db)
	}
	return s.memories
}

// Migrate runs GORM auto-migration for all models.
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Running database migrations", slog.String("driver", s.driver))

	err := s.db.WithContext(ctx).AutoMigrate(
		&SessionModel{},
		&SessionMessageModel{},
		&AuditRecordModel{},
		&MemoryModel{},
	)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.InfoContext(ctx, "Database migrations completed")
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Driver returns the storage driver name.
func (s *Store) Driver() string { return s.driver }
