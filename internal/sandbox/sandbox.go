// Package sandbox isolates external command execution. The shell tool
// never touches the host directly; everything it runs goes through a
// Sandbox implementation.
package sandbox

import (
	"context"
	"time"
)

// Sandbox runs a command in isolation and reports its outcome.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest names the argv to run and its constraints. Zero-valued
// fields fall back to the sandbox's defaults.
type ExecutionRequest struct {
	// Command is the argv, e.g. ["ls", "-la"]. Never shell-interpolated.
	Command []string

	// WorkingDir overrides the per-execution scratch directory.
	WorkingDir string

	// Env entries merge on top of the sandbox's minimal base environment.
	Env map[string]string

	Timeout time.Duration
	Limits  ResourceLimits
}

// ResourceLimits bounds a sandboxed process.
type ResourceLimits struct {
	MaxCPUSeconds int // ulimit -t
	MaxMemoryMB   int // ulimit -v, in MB
}

// ExecutionResult is the captured outcome of one command.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}
