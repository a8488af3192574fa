// Package audit implements the append-only trail recording every lifecycle
// transition of every proposed tool action. Records are never mutated or
// deleted by this subsystem.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a single state transition of an action request.
type EventType string

const (
	EventRequested  EventType = "requested"
	EventAuthorized EventType = "authorized"
	EventRejected   EventType = "rejected"
	EventBlocked    EventType = "blocked"
	EventExecuted   EventType = "executed"
	EventFailed     EventType = "failed"
)

// maxResultBytes caps the stored result payload per record.
const maxResultBytes = 1000

// Record is a single immutable entry in the audit trail.
type Record struct {
	ID        uuid.UUID      `json:"id"`
	RequestID uuid.UUID      `json:"request_id"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params,omitempty"`
	Type      EventType      `json:"event_type"`
	Decision  string         `json:"decision,omitempty"` // Scope of the authorization: once, session, auto.
	Result    string         `json:"result,omitempty"`   // Truncated tool output (executed only).
	Error     string         `json:"error,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter narrows Query and Stats results. Zero values match everything.
type Filter struct {
	SessionID string
	RequestID uuid.UUID
	Tool      string
	Type      EventType
	Limit     int // 0 = store default (100).
}

// Stats are aggregates derived purely from the trail.
type Stats struct {
	Total        int64            `json:"total"`
	ByType       map[string]int64 `json:"by_type"`
	ByTool       map[string]int64 `json:"by_tool"`
	AvgElapsedMS float64          `json:"avg_elapsed_ms"` // Over executed/failed records only.
}

// Store is the persistence sink for audit records.
// Append is the only write — no update or delete methods exist, and an
// Append failure must surface to the caller (fail closed), never be dropped.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
	Stats(ctx context.Context, f Filter) (*Stats, error)
}

// NewRecord builds a record with a fresh ID and UTC timestamp,
// truncating the result payload.
func NewRecord(requestID uuid.UUID, sessionID, agentID, tool string, params map[string]any, typ EventType) Record {
	return Record{
		ID:        uuid.New(),
		RequestID: requestID,
		SessionID: sessionID,
		AgentID:   agentID,
		Tool:      tool,
		Params:    params,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}
}

// WithDecision returns a copy carrying the authorization scope.
func (r Record) WithDecision(decision string) Record {
	r.Decision = decision
	return r
}

// WithResult returns a copy carrying the (truncated) execution result and elapsed time.
func (r Record) WithResult(result string, elapsed time.Duration) Record {
	if len(result) > maxResultBytes {
		result = result[:maxResultBytes]
	}
	r.Result = result
	r.ElapsedMS = elapsed.Milliseconds()
	return r
}

// WithError returns a copy carrying an error message.
func (r Record) WithError(err error) Record {
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// WithElapsed returns a copy carrying only the elapsed time.
func (r Record) WithElapsed(elapsed time.Duration) Record {
	r.ElapsedMS = elapsed.Milliseconds()
	return r
}

// Terminal reports whether the event type ends an action request's lifecycle.
func (t EventType) Terminal() bool {
	switch t {
	case EventExecuted, EventFailed, EventRejected, EventBlocked:
		return true
	}
	return false
}
