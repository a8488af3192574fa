package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/neurovexon/axon/internal/tools/memory"
)

// Compile-time interface check.
var _ memory.Store = (*MemoryRepository)(nil)

// MemoryRepository implements memory.Store with GORM.
type MemoryRepository struct {
	db *gorm.DB
}

// NewMemoryRepository creates a MemoryRepository.
func NewMemoryRepository(db *gorm.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

// Save inserts or overwrites the entry under its key.
func (r *MemoryRepository) Save(ctx context.Context, e memory.Entry) error {
	model := toMemoryModel(e)
	model.UpdatedAt = time.Now().UTC()

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "source", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("saving memory %q: %w", e.Key, err)
	}
	return nil
}

// Search returns entries whose key or content contains the query
// (case-insensitive), most recently updated first.
func (r *MemoryRepository) Search(ctx context.Context, query string, limit int) ([]memory.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"

	var models []MemoryModel
	err := r.db.WithContext(ctx).
		Where("LOWER(key) LIKE LOWER(?) OR LOWER(content) LIKE LOWER(?)", pattern, pattern).
		Order("updated_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}

	entries := make([]memory.Entry, len(models))
	for i := range models {
		entries[i] = toMemoryEntry(&models[i])
	}
	return entries, nil
}

// Delete removes the entry under key. Returns false if no entry existed.
func (r *MemoryRepository) Delete(ctx context.Context, key string) (bool, error) {
	result := r.db.WithContext(ctx).Where("key = ?", key).Delete(&MemoryModel{})
	if result.Error != nil {
		return false, fmt.Errorf("deleting memory %q: %w", key, result.Error)
	}
	return result.RowsAffected > 0, nil
}
