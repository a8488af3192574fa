// Package permission implements the per-session ledger of standing
// authorization decisions. The ledger is the policy cache that lets
// previously-approved actions skip the approval gateway entirely.
//
// The ledger is transient by design: it is reconstructable as empty on
// restart, which conservatively re-requires approval for everything.
package permission

import (
	"log/slog"
	"sync"
)

// Decision is the scope of an authorization recorded for a session.
type Decision string

const (
	// DecisionOnce authorizes a single action request. It is consumed by
	// exactly one Check and then reverts to unknown.
	DecisionOnce Decision = "once"
	// DecisionSession authorizes the action name for the remainder of the session.
	DecisionSession Decision = "session"
	// DecisionNever permanently blocks the action name for the session.
	DecisionNever Decision = "never"
)

// Valid reports whether the decision is one of the recognized scopes.
func (d Decision) Valid() bool {
	switch d {
	case DecisionOnce, DecisionSession, DecisionNever:
		return true
	}
	return false
}

// Ledger maps (session, action name) to a standing decision.
// Entries for a session are mutated only by the orchestrator instance
// processing that session's current turn; cross-session access is isolated
// by session key. Safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Decision
	logger   *slog.Logger
}

// NewLedger creates an empty ledger.
func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{
		sessions: make(map[string]map[string]Decision),
		logger:   logger,
	}
}

// Record stores a decision for the action name within the session.
// A later Record for the same key overwrites the earlier one.
func (l *Ledger) Record(sessionID, tool string, decision Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()

	grants, ok := l.sessions[sessionID]
	if !ok {
		grants = make(map[string]Decision)
		l.sessions[sessionID] = grants
	}
	grants[tool] = decision

	l.logger.Info("permission recorded",
		slog.String("session_id", sessionID),
		slog.String("tool", tool),
		slog.String("decision", string(decision)),
	)
}

// Check returns the standing decision for the action name, consuming
// once-grants: a DecisionOnce result is removed before returning, so the
// next identical call reports unknown and must ask again.
// DecisionSession and DecisionNever persist for the session's lifetime.
func (l *Ledger) Check(sessionID, tool string) (Decision, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	grants, ok := l.sessions[sessionID]
	if !ok {
		return "", false
	}
	d, ok := grants[tool]
	if !ok {
		return "", false
	}
	if d == DecisionOnce {
		delete(grants, tool)
	}
	return d, true
}

// Peek returns the standing decision without consuming once-grants.
// Used by read-only status paths.
func (l *Ledger) Peek(sessionID, tool string) (Decision, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.sessions[sessionID][tool]
	return d, ok
}

// Grants returns a copy of all standing grants for a session.
func (l *Ledger) Grants(sessionID string) map[string]Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Decision, len(l.sessions[sessionID]))
	for tool, d := range l.sessions[sessionID] {
		out[tool] = d
	}
	return out
}

// Clear removes every entry for the session. Invoked when a session is discarded.
func (l *Ledger) Clear(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sessions[sessionID]; ok {
		delete(l.sessions, sessionID)
		l.logger.Info("permissions cleared", slog.String("session_id", sessionID))
	}
}
