// Package tools defines the tool interface and registry for Axon.
// Each tool declares its risk level and whether it needs an explicit
// approval, so the agent can run authorization checks before execution.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/neurovexon/axon/internal/llm"
	"github.com/neurovexon/axon/internal/security"
)

// Tool is the interface all Axon tools must implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "shell_execute").
	Name() string

	// Description returns a human-readable description.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's parameters.
	// This is sent to the LLM as the tool's input_schema for function calling.
	InputSchema() map[string]any

	// RiskLevel classifies the worst-case blast radius of running this tool.
	// The agent compares it against the profile's risk ceiling before anything
	// else happens.
	RiskLevel() security.RiskLevel

	// RequiresApproval reports whether execution must be gated on an explicit
	// decision when no standing grant covers the tool.
	RequiresApproval() bool

	// Validate checks that params are well-formed before any authorization
	// checks run, so malformed requests fail fast without suspending the turn.
	Validate(params map[string]any) error

	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of a tool execution.
type Result struct {
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Success  bool           `json:"success"`
}

// MaxOutputBytes is the default cap for tool output to prevent OOM.
const MaxOutputBytes = 1 << 20 // 1 MB

// contextKey is an unexported type for context keys defined in this package.
type contextKey int

const sessionIDKey contextKey = iota

// ContextWithSessionID returns a new context carrying the session ID.
// Used by the agent to pass session identity to tool Execute methods.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext extracts the session ID from context, or "" if not set.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// TruncateOutput caps a string at maxBytes, appending a truncation notice if cut.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:maxBytes]
	}
	return s[:maxBytes-len(suffix)] + suffix
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tools.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	return result
}

// Definitions converts registered tools into LLM tool definitions,
// keeping only those for which allow returns true. A nil allow keeps
// everything. The planner only ever sees the tools the active profile
// is entitled to propose.
func Definitions(reg *Registry, allow func(name string) bool) []llm.ToolDefinition {
	all := reg.All()
	defs := make([]llm.ToolDefinition, 0, len(all))
	for _, t := range all {
		if allow != nil && !allow(t.Name()) {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
