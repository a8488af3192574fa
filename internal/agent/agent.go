// Package agent implements the controlled-execution loop: it drives a
// multi-round exchange with an LLM provider, intercepts every proposed
// action, runs it through the authorization pipeline (risk ceiling,
// allow-list, permission ledger, approval gateway), executes authorized
// actions, and emits an ordered event stream describing everything it does.
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/neurovexon/axon/internal/security"
)

// DefaultMaxIterations is the safety guard against infinite tool-use loops.
const DefaultMaxIterations = 25

// DefaultMaxHistoryMessages bounds the conversation window sent to the provider.
const DefaultMaxHistoryMessages = 50

// DefaultApprovalTimeout is how long a suspended action waits for a decision.
const DefaultApprovalTimeout = 120 * time.Second

// TurnInput is one user request entering the engine.
type TurnInput struct {
	SessionID     string
	AgentID       string // empty = default profile
	Message       string
	CorrelationID string
}

// EventType tags an entry in the live turn event stream.
type EventType string

const (
	// EventText carries assistant text.
	EventText EventType = "text"
	// EventToolRequest announces a suspended action awaiting a decision.
	EventToolRequest EventType = "tool_request"
	// EventToolResult carries a successful execution result.
	EventToolResult EventType = "tool_result"
	// EventToolRejected reports a decision of never or an explicit rejection.
	EventToolRejected EventType = "tool_rejected"
	// EventToolBlocked reports an action outside the profile's entitlement.
	EventToolBlocked EventType = "tool_blocked"
	// EventToolError reports a validation, execution, or timeout failure.
	EventToolError EventType = "tool_error"
	// EventWarning reports a non-fatal condition such as the iteration cap.
	EventWarning EventType = "warning"
	// EventDone terminates a successful turn.
	EventDone EventType = "done"
	// EventError terminates a failed turn.
	EventError EventType = "error"
)

// Event is one entry in a turn's ordered event stream. Only the fields
// relevant to its Type are populated.
type Event struct {
	Type        EventType      `json:"type"`
	Content     string         `json:"content,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	RiskLevel   string         `json:"risk_level,omitempty"`
	Description string         `json:"description,omitempty"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	ElapsedMS   int64          `json:"elapsed_ms,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
}

// ActionState tracks an ActionRequest through its lifecycle.
type ActionState string

const (
	StateProposed   ActionState = "proposed"
	StateAuthorized ActionState = "authorized"
	StateRejected   ActionState = "rejected"
	StateBlocked    ActionState = "blocked"
	StateExecuted   ActionState = "executed"
	StateFailed     ActionState = "failed"
)

// ActionRequest is one concrete proposal to run a tool with specific
// parameters. The risk level is copied from the tool definition at proposal
// time so catalog edits never retroactively change in-flight requests.
type ActionRequest struct {
	ID        uuid.UUID
	Tool      string
	Params    map[string]any
	SessionID string
	AgentID   string
	Risk      security.RiskLevel
	State     ActionState
	CreatedAt time.Time
}

// newActionRequest builds a proposed ActionRequest for the given tool call.
func newActionRequest(tool string, params map[string]any, sessionID, agentID string, risk security.RiskLevel) *ActionRequest {
	return &ActionRequest{
		ID:        uuid.New(),
		Tool:      tool,
		Params:    params,
		SessionID: sessionID,
		AgentID:   agentID,
		Risk:      risk,
		State:     StateProposed,
		CreatedAt: time.Now().UTC(),
	}
}
