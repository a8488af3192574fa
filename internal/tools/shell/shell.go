// Package shell implements the sandboxed shell execution tool.
// All commands run through the sandbox — never directly on the host.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neurovexon/axon/internal/sandbox"
	"github.com/neurovexon/axon/internal/security"
	"github.com/neurovexon/axon/internal/tools"
)

// Config configures shell tool restrictions.
type Config struct {
	// Whitelist is the set of allowed command prefixes. A command passes if
	// it starts with an entry or its first word matches an entry's first
	// word. Empty = deny all.
	Whitelist []string
}

// Tool executes whitelisted shell commands inside a sandbox.
type Tool struct {
	config  Config
	sandbox sandbox.Sandbox
	logger  *slog.Logger
}

// NewTool creates a shell tool that delegates all execution to the given sandbox.
func NewTool(cfg Config, sbx sandbox.Sandbox, logger *slog.Logger) *Tool {
	return &Tool{
		config:  cfg,
		sandbox: sbx,
		logger:  logger,
	}
}

func (t *Tool) Name() string        { return "shell_execute" }
func (t *Tool) Description() string { return "Execute a whitelisted shell command in a sandbox" }
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":     map[string]any{"type": "string", "description": "The shell command to execute"},
			"timeout":     map[string]any{"type": "string", "description": "Duration string (e.g. '10s', '1m'), overrides default timeout"},
			"working_dir": map[string]any{"type": "string", "description": "Working directory override"},
		},
		"required": []string{"command"},
	}
}
func (t *Tool) RiskLevel() security.RiskLevel { return security.RiskHigh }
func (t *Tool) RequiresApproval() bool        { return true }

// Validate checks that required params are present and the command is whitelisted.
func (t *Tool) Validate(params map[string]any) error {
	command, err := requireString(params, "command")
	if err != nil {
		return err
	}
	if !t.whitelisted(command) {
		base := strings.Fields(command)
		return fmt.Errorf("command %q is not in the whitelist", base[0])
	}
	if timeout, ok := params["timeout"].(string); ok && timeout != "" {
		if _, err := time.ParseDuration(timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", timeout, err)
		}
	}
	return nil
}

// whitelisted reports whether the command matches an allowed prefix or its
// first word matches an entry's first word.
func (t *Tool) whitelisted(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	base := fields[0]
	for _, allowed := range t.config.Whitelist {
		if strings.HasPrefix(command, allowed) {
			return true
		}
		if af := strings.Fields(allowed); len(af) > 0 && af[0] == base {
			return true
		}
	}
	return false
}

// Execute runs the command through the sandbox.
//
// Required params:
//
//	"command" (string) — the shell command to execute
//
// Optional params:
//
//	"timeout" (string) — duration string (e.g. "10s", "1m"), overrides default
//	"working_dir" (string) — working directory override
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	command, err := requireString(params, "command")
	if err != nil {
		return nil, err
	}
	if !t.whitelisted(command) {
		return nil, fmt.Errorf("command is not in the whitelist")
	}

	req := sandbox.ExecutionRequest{
		// The command runs inside sh -c, which the sandbox further wraps
		// with ulimit enforcement. This double-wrapping is intentional:
		// the outer sh applies resource limits, the inner sh interprets
		// the user's command string (pipes, redirects, etc.).
		Command: []string{"sh", "-c", command},
	}

	if timeout, ok := params["timeout"].(string); ok && timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", timeout, err)
		}
		req.Timeout = d
	}

	if dir, ok := params["working_dir"].(string); ok {
		req.WorkingDir = dir
	}

	t.logger.InfoContext(ctx, "shell tool executing",
		slog.String("command", command),
	)

	result, err := t.sandbox.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sandbox execution: %w", err)
	}

	output := result.Stdout
	if result.Stderr != "" {
		if output != "" {
			output += "\n[stderr]\n"
		}
		output += result.Stderr
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(output, tools.MaxOutputBytes),
		Success: result.ExitCode == 0,
		Metadata: map[string]any{
			"exit_code": result.ExitCode,
			"duration":  result.Duration.String(),
		},
	}, nil
}

// requireString extracts a required string parameter.
func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}
