package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used in tests and ephemeral deployments.
// Append-only: records are copied in insertion order and never modified.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a record.
func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Query returns records matching the filter in insertion order.
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []Record
	for _, rec := range s.records {
		if !matches(rec, f) {
			continue
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Stats computes aggregates over all matching records (no limit applied).
func (s *MemoryStore) Stats(_ context.Context, f Filter) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ByType: make(map[string]int64),
		ByTool: make(map[string]int64),
	}
	var elapsedSum int64
	var elapsedCount int64

	for _, rec := range s.records {
		if !matches(rec, f) {
			continue
		}
		stats.Total++
		stats.ByType[string(rec.Type)]++
		if rec.Tool != "" {
			stats.ByTool[rec.Tool]++
		}
		if rec.Type == EventExecuted || rec.Type == EventFailed {
			elapsedSum += rec.ElapsedMS
			elapsedCount++
		}
	}
	if elapsedCount > 0 {
		stats.AvgElapsedMS = float64(elapsedSum) / float64(elapsedCount)
	}
	return stats, nil
}

func matches(rec Record, f Filter) bool {
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.RequestID != uuid.Nil && rec.RequestID != f.RequestID {
		return false
	}
	if f.Tool != "" && rec.Tool != f.Tool {
		return false
	}
	if f.Type != "" && rec.Type != f.Type {
		return false
	}
	return true
}
