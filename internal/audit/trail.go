package audit

import (
	"context"
	"fmt"
	"log/slog"
)

// Trail is the write-side facade the orchestrator logs through.
// Every record goes to the primary store; when a file mirror is attached the
// record is additionally appended there as JSONL. A primary append failure is
// returned to the caller — auditability is a hard requirement for a control
// plane, and the caller decides whether to abort the turn.
type Trail struct {
	store  Store
	mirror *FileLog // nil = no file mirror
	logger *slog.Logger
}

// NewTrail creates a trail writing to the given store.
func NewTrail(store Store, logger *slog.Logger) *Trail {
	return &Trail{store: store, logger: logger}
}

// WithMirror attaches an append-only JSONL file mirror.
func (t *Trail) WithMirror(m *FileLog) *Trail {
	t.mirror = m
	return t
}

// Append writes a record. The mirror is best-effort; the store is not.
func (t *Trail) Append(ctx context.Context, rec Record) error {
	if err := t.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}

	if t.mirror != nil {
		if err := t.mirror.Append(rec); err != nil {
			t.logger.ErrorContext(ctx, "audit file mirror write failed",
				slog.String("record_id", rec.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	t.logger.InfoContext(ctx, "audit",
		slog.String("event", string(rec.Type)),
		slog.String("tool", rec.Tool),
		slog.String("request_id", rec.RequestID.String()),
		slog.String("session_id", rec.SessionID),
	)
	return nil
}

// Query reads records through to the store.
func (t *Trail) Query(ctx context.Context, f Filter) ([]Record, error) {
	return t.store.Query(ctx, f)
}

// Stats reads aggregates through to the store.
func (t *Trail) Stats(ctx context.Context, f Filter) (*Stats, error) {
	return t.store.Stats(ctx, f)
}
