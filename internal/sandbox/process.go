package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// Stdout/stderr are capped so a chatty command cannot exhaust memory.
	maxOutputBytes = 1 << 20 // 1 MB

	defaultTimeout    = 30 * time.Second
	defaultCPUSeconds = 60
	defaultMemoryMB   = 512
)

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	DefaultTimeout time.Duration
	DefaultLimits  ResourceLimits
}

// ProcessSandbox runs each command as an isolated OS process: its own
// scratch directory (removed afterwards), its own process group so the
// whole tree dies on timeout, a minimal environment with nothing
// inherited from the host, ulimit-enforced CPU and memory caps, and
// size-capped output capture.
type ProcessSandbox struct {
	defaultTimeout time.Duration
	defaultLimits  ResourceLimits
	logger         *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox with defaults filled in.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	limits := cfg.DefaultLimits
	if limits.MaxCPUSeconds == 0 {
		limits.MaxCPUSeconds = defaultCPUSeconds
	}
	if limits.MaxMemoryMB == 0 {
		limits.MaxMemoryMB = defaultMemoryMB
	}
	return &ProcessSandbox{
		defaultTimeout: timeout,
		defaultLimits:  limits,
		logger:         logger,
	}
}

// Execute runs one command to completion inside the sandbox. A non-zero
// exit code is a result, not an error; errors mean the command could not
// be run or was killed by the deadline.
func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scratch, err := os.MkdirTemp("", "axon-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			s.logger.Warn("failed to remove sandbox scratch dir",
				slog.String("dir", scratch),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	limits := s.resolveLimits(req.Limits)
	cmd := s.buildCommand(ctx, req, scratch, limits)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &cappedWriter{w: &stdout, remaining: maxOutputBytes}
	cmd.Stderr = &cappedWriter{w: &stderr, remaining: maxOutputBytes}

	s.logger.Info("sandbox executing",
		slog.Any("command", req.Command),
		slog.String("dir", cmd.Dir),
		slog.Int("memory_limit_mb", limits.MaxMemoryMB),
		slog.Int("cpu_limit_sec", limits.MaxCPUSeconds),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			s.logger.Warn("sandbox execution timed out",
				slog.Duration("timeout", timeout),
				slog.Duration("elapsed", elapsed),
			)
			return nil, fmt.Errorf("execution timed out after %s", timeout)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	s.logger.Info("sandbox execution completed",
		slog.Int("exit_code", exitCode),
		slog.Duration("elapsed", elapsed),
		slog.Int("stdout_bytes", stdout.Len()),
		slog.Int("stderr_bytes", stderr.Len()),
	)

	return &ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: elapsed,
	}, nil
}

// buildCommand wraps the request's argv in a shell that installs ulimits
// and then exec's. The argv rides in as positional parameters via "$@",
// never interpolated into the shell string, so no injection is possible.
func (s *ProcessSandbox) buildCommand(ctx context.Context, req ExecutionRequest, scratch string, limits ResourceLimits) *exec.Cmd {
	script := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		limits.MaxMemoryMB*1024, limits.MaxCPUSeconds,
	)
	args := make([]string, 0, 3+len(req.Command))
	args = append(args, "-c", script, "_") // "_" fills $0
	args = append(args, req.Command...)

	cmd := exec.CommandContext(ctx, "/bin/sh", args...)

	cmd.Dir = scratch
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}

	// Own process group; kill the whole group on cancel so children of the
	// command cannot outlive it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	cmd.Env = sandboxEnv(scratch, req.Env)
	return cmd
}

func (s *ProcessSandbox) resolveLimits(req ResourceLimits) ResourceLimits {
	limits := s.defaultLimits
	if req.MaxCPUSeconds > 0 {
		limits.MaxCPUSeconds = req.MaxCPUSeconds
	}
	if req.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = req.MaxMemoryMB
	}
	return limits
}

// sandboxEnv builds the child environment from scratch. The host
// environment, with its API keys and credentials, is never inherited.
func sandboxEnv(scratch string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + scratch,
		"TMPDIR=" + scratch,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// cappedWriter discards everything past its byte budget without
// reporting an error to the writing process.
type cappedWriter struct {
	w         io.Writer
	remaining int
}

func (cw *cappedWriter) Write(p []byte) (int, error) {
	if cw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > cw.remaining {
		p = p[:cw.remaining]
	}
	n, err := cw.w.Write(p)
	cw.remaining -= n
	return n, err
}
