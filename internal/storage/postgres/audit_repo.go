package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/neurovexon/axon/internal/audit"
)

// Compile-time interface check.
var _ audit.Store = (*AuditRepository)(nil)

const defaultQueryLimit = 100

// AuditRepository implements audit.Store with GORM. Records are
// append-only: no update or delete is ever issued against the table.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an AuditRepository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append persists a single record.
func (r *AuditRepository) Append(ctx context.Context, rec audit.Record) error {
	model := toAuditModel(rec)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// Query returns matching records in insertion order, capped at the
// filter limit (default 100).
func (r *AuditRepository) Query(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var models []AuditRecordModel
	err := r.filtered(ctx, f).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}

	records := make([]audit.Record, len(models))
	for i := range models {
		records[i] = toAuditDomain(&models[i])
	}
	return records, nil
}

// Stats aggregates counts by event type and tool over matching records.
// Average elapsed time covers executed and failed records only.
func (r *AuditRepository) Stats(ctx context.Context, f audit.Filter) (*audit.Stats, error) {
	stats := &audit.Stats{
		ByType: make(map[string]int64),
		ByTool: make(map[string]int64),
	}

	if err := r.filtered(ctx, f).Model(&AuditRecordModel{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("counting audit records: %w", err)
	}

	type bucket struct {
		Key   string
		Count int64
	}

	var byType []bucket
	err := r.filtered(ctx, f).Model(&AuditRecordModel{}).
		Select("event_type AS key, COUNT(*) AS count").
		Group("event_type").
		Scan(&byType).Error
	if err != nil {
		return nil, fmt.Errorf("aggregating by event type: %w", err)
	}
	for _, b := range byType {
		stats.ByType[b.Key] = b.Count
	}

	var byTool []bucket
	err = r.filtered(ctx, f).Model(&AuditRecordModel{}).
		Where("tool <> ''").
		Select("tool AS key, COUNT(*) AS count").
		Group("tool").
		Scan(&byTool).Error
	if err != nil {
		return nil, fmt.Errorf("aggregating by tool: %w", err)
	}
	for _, b := range byTool {
		stats.ByTool[b.Key] = b.Count
	}

	var avg *float64
	err = r.filtered(ctx, f).Model(&AuditRecordModel{}).
		Where("event_type IN ?", []string{string(audit.EventExecuted), string(audit.EventFailed)}).
		Select("AVG(elapsed_ms)").
		Scan(&avg).Error
	if err != nil {
		return nil, fmt.Errorf("averaging elapsed time: %w", err)
	}
	if avg != nil {
		stats.AvgElapsedMS = *avg
	}

	return stats, nil
}

func (r *AuditRepository) filtered(ctx context.Context, f audit.Filter) *gorm.DB {
	q := r.db.WithContext(ctx)
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.RequestID != uuid.Nil {
		q = q.Where("request_id = ?", f.RequestID)
	}
	if f.Tool != "" {
		q = q.Where("tool = ?", f.Tool)
	}
	if f.Type != "" {
		q = q.Where("event_type = ?", string(f.Type))
	}
	return q
}
