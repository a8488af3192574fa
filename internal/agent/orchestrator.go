package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/neurovexon/axon/internal/approval"
	"github.com/neurovexon/axon/internal/audit"
	"github.com/neurovexon/axon/internal/llm"
	"github.com/neurovexon/axon/internal/observability"
	"github.com/neurovexon/axon/internal/permission"
	"github.com/neurovexon/axon/internal/security"
	"github.com/neurovexon/axon/internal/tools"
)

// eventBuffer sizes the per-turn event channel. A slow consumer only delays
// its own turn; unrelated sessions are unaffected.
const eventBuffer = 64

// Orchestrator drives controlled-execution turns. It delegates planning to
// an LLM provider and enforces the authorization pipeline on every proposed
// action before anything side-effecting runs.
type Orchestrator struct {
	provider     llm.Provider
	systemPrompt string
	logger       *slog.Logger

	registry *tools.Registry  // nil = no tools available
	profiles Profiles         // nil = built-in defaults
	sessions SessionStore     // nil = in-memory
	ledger   *permission.Ledger
	gateway  *approval.Gateway // nil = approvals disabled: gated actions are rejected
	trail    *audit.Trail      // nil = audit disabled
	obs      *observability.Observability

	approvalTimeout time.Duration
	maxIterations   int
	maxHistory      int
}

// NewOrchestrator creates an orchestrator backed by the given provider.
// Sessions and profiles default to in-memory implementations; attach the
// remaining collaborators with the With* builders.
func NewOrchestrator(provider llm.Provider, systemPrompt string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		provider:     provider,
		systemPrompt: systemPrompt,
		logger:       logger,
		profiles:     NewStaticProfiles(DefaultProfiles()),
		sessions:     NewMemorySessionStore(),
		ledger:       permission.NewLedger(logger),
	}
}

// WithTools attaches the tool registry.
func (o *Orchestrator) WithTools(registry *tools.Registry) *Orchestrator {
	o.registry = registry
	return o
}

// WithProfiles replaces the profile source.
func (o *Orchestrator) WithProfiles(p Profiles) *Orchestrator {
	o.profiles = p
	return o
}

// WithSessions replaces the session store.
func (o *Orchestrator) WithSessions(s SessionStore) *Orchestrator {
	o.sessions = s
	return o
}

// WithLedger replaces the permission ledger.
func (o *Orchestrator) WithLedger(l *permission.Ledger) *Orchestrator {
	o.ledger = l
	return o
}

// WithGateway attaches the approval gateway. Without one, actions that need
// a decision are rejected instead of suspended.
func (o *Orchestrator) WithGateway(g *approval.Gateway) *Orchestrator {
	o.gateway = g
	return o
}

// WithAudit attaches the audit trail. Append failures abort the turn.
func (o *Orchestrator) WithAudit(t *audit.Trail) *Orchestrator {
	o.trail = t
	return o
}

// WithObservability attaches metrics and tracing.
func (o *Orchestrator) WithObservability(obs *observability.Observability) *Orchestrator {
	o.obs = obs
	return o
}

// WithApprovalTimeout sets how long a suspended action waits for a decision.
func (o *Orchestrator) WithApprovalTimeout(d time.Duration) *Orchestrator {
	o.approvalTimeout = d
	return o
}

// WithMaxIterations sets the tool-use loop bound.
func (o *Orchestrator) WithMaxIterations(n int) *Orchestrator {
	o.maxIterations = n
	return o
}

// WithMaxHistory sets the conversation window sent to the provider.
func (o *Orchestrator) WithMaxHistory(n int) *Orchestrator {
	o.maxHistory = n
	return o
}

// Ledger exposes the permission ledger for session cleanup paths.
func (o *Orchestrator) Ledger() *permission.Ledger { return o.ledger }

// Sessions exposes the session store for the management surface.
func (o *Orchestrator) Sessions() SessionStore { return o.sessions }

// Profiles exposes the profile source for the management surface.
func (o *Orchestrator) Profiles() Profiles { return o.profiles }

// Run starts one turn and returns its ordered event stream. The channel is
// closed after a terminal done or error event. The turn runs until it
// completes, ctx is cancelled, or the provider fails.
func (o *Orchestrator) Run(ctx context.Context, input *TurnInput) (<-chan Event, error) {
	if input.SessionID == "" {
		return nil, fmt.Errorf("session id must not be empty")
	}
	if input.Message == "" {
		return nil, fmt.Errorf("message must not be empty")
	}

	profile, err := o.profiles.Get(ctx, input.AgentID)
	if err != nil {
		return nil, fmt.Errorf("resolving agent profile %q: %w", input.AgentID, err)
	}

	if err := o.sessions.Ensure(ctx, input.SessionID, profile.ID, DeriveTitle(input.Message)); err != nil {
		return nil, fmt.Errorf("ensuring session: %w", err)
	}

	events := make(chan Event, eventBuffer)
	go o.runTurn(ctx, input, profile, events)
	return events, nil
}

// turn carries the mutable state of one running turn.
type turn struct {
	input   *TurnInput
	profile *Profile
	events  chan Event
	history []llm.Message
	// registered tracks gateway slots this turn opened and has not yet seen
	// concluded, so cleanup can cancel them if the turn aborts mid-wait.
	registered map[string]struct{}
}

func (o *Orchestrator) runTurn(ctx context.Context, input *TurnInput, profile *Profile, events chan Event) {
	defer close(events)

	if o.obs != nil && o.obs.Tracer != nil {
		var span trace.Span
		ctx, span = o.obs.Tracer.Tracer().Start(ctx, "agent.turn",
			trace.WithAttributes(
				attribute.String("session_id", input.SessionID),
				attribute.String("agent_id", profile.ID),
				attribute.String("correlation_id", input.CorrelationID),
			))
		defer span.End()
	}

	t := &turn{
		input:      input,
		profile:    profile,
		events:     events,
		registered: make(map[string]struct{}),
	}
	defer func() {
		for id := range t.registered {
			o.gateway.Cancel(id)
		}
	}()

	o.logger.InfoContext(ctx, "turn started",
		slog.String("session_id", input.SessionID),
		slog.String("agent_id", profile.ID),
		slog.String("correlation_id", input.CorrelationID),
	)

	maxHist := o.maxHistory
	if maxHist <= 0 {
		maxHist = DefaultMaxHistoryMessages
	}
	history, err := o.sessions.History(ctx, input.SessionID, maxHist)
	if err != nil {
		o.emit(ctx, t, Event{Type: EventError, Error: fmt.Sprintf("loading history: %s", err)})
		return
	}
	t.history = history

	userMsg := llm.Message{Role: llm.RoleUser, Content: input.Message}
	t.history = append(t.history, userMsg)
	o.persist(ctx, input.SessionID, userMsg)

	var toolDefs []llm.ToolDefinition
	if o.registry != nil {
		toolDefs = tools.Definitions(o.registry, profile.Allows)
	}

	systemPrompt := o.systemPrompt
	if profile.SystemPrompt != "" {
		systemPrompt = profile.SystemPrompt
	}

	maxIter := o.maxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	for iter := 0; iter < maxIter; iter++ {
		resp, err := o.provider.SendMessage(ctx, &llm.Request{
			SystemPrompt: systemPrompt,
			Messages:     t.history,
			Tools:        toolDefs,
		})
		if err != nil {
			// Provider failure is fatal for the turn; partial history is
			// already persisted.
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			o.logger.ErrorContext(ctx, "provider request failed",
				slog.String("session_id", input.SessionID),
				slog.String("error", err.Error()),
			)
			o.emit(ctx, t, Event{Type: EventError, Error: fmt.Sprintf("provider: %s", err)})
			return
		}

		assistantMsg := llm.Message{Role: llm.RoleAssistant, ContentBlocks: resp.ContentBlocks}
		if len(resp.ContentBlocks) == 0 {
			assistantMsg.Content = resp.Content
		}
		t.history = append(t.history, assistantMsg)
		o.persist(ctx, input.SessionID, assistantMsg)

		if resp.Content != "" {
			if !o.emit(ctx, t, Event{Type: EventText, Content: resp.Content}) {
				return
			}
		}

		if !resp.HasToolUse() {
			o.emit(ctx, t, Event{Type: EventDone, SessionID: input.SessionID})
			return
		}

		// Actions in one round run strictly in proposal order; later actions
		// may depend on context injected by earlier ones.
		var resultBlocks []llm.ContentBlock
		for _, block := range resp.ToolUseBlocks() {
			result, ok := o.processAction(ctx, t, block)
			if !ok {
				return
			}
			resultBlocks = append(resultBlocks, result)
		}

		resultMsg := llm.Message{Role: llm.RoleUser, ContentBlocks: resultBlocks}
		t.history = append(t.history, resultMsg)
		o.persist(ctx, input.SessionID, resultMsg)
	}

	o.logger.WarnContext(ctx, "max tool-use iterations reached",
		slog.Int("max_iterations", maxIter),
		slog.String("session_id", input.SessionID),
	)
	if !o.emit(ctx, t, Event{Type: EventWarning, Content: fmt.Sprintf("maximum of %d tool-use rounds reached; partial progress preserved", maxIter)}) {
		return
	}
	o.emit(ctx, t, Event{Type: EventDone, SessionID: input.SessionID})
}

// processAction takes one proposed tool call through the full pipeline:
// validate, authorize (ceiling, allow-list, auto-approve, ledger, gateway),
// execute, audit. It returns the tool_result block to feed back to the
// provider, and false if the turn must abort (audit sink failure or
// cancelled consumer).
func (o *Orchestrator) processAction(ctx context.Context, t *turn, block llm.ContentBlock) (llm.ContentBlock, bool) {
	if o.obs != nil && o.obs.Tracer != nil {
		var span trace.Span
		ctx, span = o.obs.Tracer.Tracer().Start(ctx, "agent.action",
			trace.WithAttributes(
				attribute.String("tool", block.Name),
				attribute.String("session_id", t.input.SessionID),
			))
		defer span.End()
	}

	name := block.Name
	params := block.Input

	var tool tools.Tool
	if o.registry != nil {
		tool = o.registry.Get(name)
	}

	risk := security.RiskCritical // unknown tools fail closed
	if tool != nil {
		risk = tool.RiskLevel()
	}
	req := newActionRequest(name, params, t.input.SessionID, t.profile.ID, risk)

	if !o.audit(ctx, t, audit.NewRecord(req.ID, req.SessionID, req.AgentID, name, params, audit.EventRequested)) {
		return llm.ContentBlock{}, false
	}

	if tool == nil {
		return o.failAction(ctx, t, req, block, fmt.Errorf("unknown tool: %s", name))
	}

	if err := tool.Validate(params); err != nil {
		return o.failAction(ctx, t, req, block, fmt.Errorf("validation: %w", err))
	}

	// Authorization precedence: entitlement first, then approval exemptions,
	// then standing grants, then the gateway.
	if !t.profile.Allows(name) || !security.Permitted(risk, t.profile.MaxRisk) {
		req.State = StateBlocked
		o.logger.InfoContext(ctx, "action blocked",
			slog.String("tool", name),
			slog.String("risk", risk.String()),
			slog.String("agent_id", t.profile.ID),
		)
		if !o.audit(ctx, t, audit.NewRecord(req.ID, req.SessionID, req.AgentID, name, params, audit.EventBlocked)) {
			return llm.ContentBlock{}, false
		}
		if !o.emit(ctx, t, Event{Type: EventToolBlocked, RequestID: req.ID.String(), Tool: name}) {
			return llm.ContentBlock{}, false
		}
		return llm.ToolResultBlock(block.ID, fmt.Sprintf("Tool %s is not permitted for this agent.", name), true), true
	}

	decision, authorized, aborted := o.authorize(ctx, t, req, tool)
	if aborted {
		return llm.ContentBlock{}, false
	}
	if !authorized {
		return llm.ToolResultBlock(block.ID, fmt.Sprintf("Tool %s was not authorized.", name), true), true
	}

	req.State = StateAuthorized
	if !o.audit(ctx, t, audit.NewRecord(req.ID, req.SessionID, req.AgentID, name, params, audit.EventAuthorized).WithDecision(decision)) {
		return llm.ContentBlock{}, false
	}

	start := time.Now()
	result, execErr := tool.Execute(tools.ContextWithSessionID(ctx, t.input.SessionID), params)
	elapsed := time.Since(start)

	if o.obs != nil && o.obs.Metrics != nil {
		status := "success"
		if execErr != nil {
			status = "error"
		}
		o.obs.Metrics.ToolExecutionsTotal.WithLabelValues(name, status).Inc()
		o.obs.Metrics.ToolExecutionDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	}

	if execErr != nil {
		req.State = StateFailed
		if !o.audit(ctx, t, audit.NewRecord(req.ID, req.SessionID, req.AgentID, name, params, audit.EventFailed).WithError(execErr).WithElapsed(elapsed)) {
			return llm.ContentBlock{}, false
		}
		if !o.emit(ctx, t, Event{Type: EventToolError, RequestID: req.ID.String(), Tool: name, Error: execErr.Error(), ElapsedMS: elapsed.Milliseconds()}) {
			return llm.ContentBlock{}, false
		}
		return llm.ToolResultBlock(block.ID, fmt.Sprintf("Error: %s", execErr), true), true
	}

	req.State = StateExecuted
	output := tools.TruncateOutput(result.Output, tools.MaxOutputBytes)
	if !o.audit(ctx, t, audit.NewRecord(req.ID, req.SessionID, req.AgentID, name, params, audit.EventExecuted).WithDecision(decision).WithResult(output, elapsed)) {
		return llm.ContentBlock{}, false
	}
	if !o.emit(ctx, t, Event{Type: EventToolResult, RequestID: req.ID.String(), Tool: name, Result: output, ElapsedMS: elapsed.Milliseconds()}) {
		return llm.ContentBlock{}, false
	}
	return llm.ToolResultBlock(block.ID, output, false), true
}

// authorize resolves whether the request may execute. It returns the
// decision scope that applied ("" for approval-exempt paths), whether the
// request is authorized, and whether the turn must abort.
func (o *Orchestrator) authorize(ctx context.Context, t *turn, req *ActionRequest, tool tools.Tool) (decision string, authorized, aborted bool) {
	name := req.Tool

	if t.profile.AutoApproves(name) || !tool.RequiresApproval() {
		return "", true, false
	}

	if d, ok := o.ledger.Check(t.input.SessionID, name); ok {
		switch d {
		case permission.DecisionNever:
			return "", false, !o.reject(ctx, t, req, string(d))
		default:
			// A standing session grant, or a once grant consumed by this
			// exact check.
			return string(d), true, false
		}
	}

	if o.gateway == nil {
		o.logger.WarnContext(ctx, "approval required but no gateway configured",
			slog.String("tool", name),
			slog.String("session_id", t.input.SessionID),
		)
		return "", false, !o.rejectWithError(ctx, t, req, errors.New("approval required but approvals are disabled"))
	}

	waiter, err := o.gateway.Register(approval.Request{
		ID:          req.ID.String(),
		SessionID:   t.input.SessionID,
		Tool:        name,
		Params:      req.Params,
		RiskLevel:   req.Risk.String(),
		Description: tool.Description(),
	})
	if err != nil {
		// Duplicate registration is a programming error, fatal for the turn.
		o.emit(ctx, t, Event{Type: EventError, Error: fmt.Sprintf("registering approval request: %s", err)})
		return "", false, true
	}
	t.registered[req.ID.String()] = struct{}{}

	if !o.emit(ctx, t, Event{
		Type:        EventToolRequest,
		RequestID:   req.ID.String(),
		Tool:        name,
		Params:      req.Params,
		RiskLevel:   req.Risk.String(),
		Description: tool.Description(),
	}) {
		return "", false, true
	}

	timeout := o.approvalTimeout
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	d, resolvedBy, err := waiter.Await(ctx, timeout)
	delete(t.registered, req.ID.String())

	if err != nil {
		switch {
		case errors.Is(err, approval.ErrTimedOut):
			// Timeout rejects this specific request; the tool name is not
			// blocked for the session.
			return "", false, !o.rejectWithError(ctx, t, req, fmt.Errorf("no decision within %s", timeout))
		case errors.Is(err, approval.ErrCancelled):
			return "", false, !o.rejectWithError(ctx, t, req, errors.New("approval cancelled"))
		default:
			o.emit(ctx, t, Event{Type: EventError, Error: fmt.Sprintf("awaiting approval: %s", err)})
			return "", false, true
		}
	}

	o.logger.InfoContext(ctx, "decision received",
		slog.String("request_id", req.ID.String()),
		slog.String("tool", name),
		slog.String("decision", string(d)),
		slog.String("resolved_by", resolvedBy),
	)

	switch d {
	case permission.DecisionNever:
		o.ledger.Record(t.input.SessionID, name, permission.DecisionNever)
		return "", false, !o.reject(ctx, t, req, string(d))
	case permission.DecisionSession:
		o.ledger.Record(t.input.SessionID, name, permission.DecisionSession)
		return string(d), true, false
	default:
		// A once grant covers exactly this request: record it, then consume
		// it immediately so a retried identical proposal must ask again.
		o.ledger.Record(t.input.SessionID, name, permission.DecisionOnce)
		o.ledger.Check(t.input.SessionID, name)
		return string(permission.DecisionOnce), true, false
	}
}

// reject marks the request rejected with a tool_rejected event.
// Returns false if the turn must abort.
func (o *Orchestrator) reject(ctx context.Context, t *turn, req *ActionRequest, decision string) bool {
	req.State = StateRejected
	rec := audit.NewRecord(req.ID, req.SessionID, req.AgentID, req.Tool, req.Params, audit.EventRejected)
	if decision != "" {
		rec = rec.WithDecision(decision)
	}
	if !o.audit(ctx, t, rec) {
		return false
	}
	return o.emit(ctx, t, Event{Type: EventToolRejected, RequestID: req.ID.String(), Tool: req.Tool})
}

// rejectWithError marks the request rejected for a timeout or cancellation,
// surfacing the reason as a tool_error event.
func (o *Orchestrator) rejectWithError(ctx context.Context, t *turn, req *ActionRequest, cause error) bool {
	req.State = StateRejected
	rec := audit.NewRecord(req.ID, req.SessionID, req.AgentID, req.Tool, req.Params, audit.EventRejected).WithError(cause)
	if !o.audit(ctx, t, rec) {
		return false
	}
	return o.emit(ctx, t, Event{Type: EventToolError, RequestID: req.ID.String(), Tool: req.Tool, Error: cause.Error()})
}

// failAction marks the request failed (validation or unknown tool) and
// reports the error to both the stream and the provider.
func (o *Orchestrator) failAction(ctx context.Context, t *turn, req *ActionRequest, block llm.ContentBlock, cause error) (llm.ContentBlock, bool) {
	req.State = StateFailed
	if !o.audit(ctx, t, audit.NewRecord(req.ID, req.SessionID, req.AgentID, req.Tool, req.Params, audit.EventFailed).WithError(cause)) {
		return llm.ContentBlock{}, false
	}
	if !o.emit(ctx, t, Event{Type: EventToolError, RequestID: req.ID.String(), Tool: req.Tool, Error: cause.Error()}) {
		return llm.ContentBlock{}, false
	}
	return llm.ToolResultBlock(block.ID, fmt.Sprintf("Error: %s", cause), true), true
}

// audit appends a record, failing the turn on sink errors. Auditability is
// a hard requirement for a control plane, not best-effort logging.
func (o *Orchestrator) audit(ctx context.Context, t *turn, rec audit.Record) bool {
	if o.trail == nil {
		return true
	}
	if err := o.trail.Append(ctx, rec); err != nil {
		o.logger.ErrorContext(ctx, "audit append failed, aborting turn",
			slog.String("session_id", t.input.SessionID),
			slog.String("error", err.Error()),
		)
		o.emit(ctx, t, Event{Type: EventError, Error: fmt.Sprintf("audit trail unavailable: %s", err)})
		return false
	}
	return true
}

// emit delivers an event, giving up when the turn's context is cancelled.
// Returns false when the turn must stop.
func (o *Orchestrator) emit(ctx context.Context, t *turn, ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// persist appends a message to the session history. Persistence failures
// do not abort the turn.
func (o *Orchestrator) persist(ctx context.Context, sessionID string, msg llm.Message) {
	if err := o.sessions.Append(ctx, sessionID, []llm.Message{msg}); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist message",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}
