package sandbox

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestSandbox() *ProcessSandbox {
	return NewProcessSandbox(ProcessConfig{}, slog.New(slog.DiscardHandler))
}

func TestProcessSandbox_Echo(t *testing.T) {
	s := newTestSandbox()

	result, err := s.Execute(context.Background(), ExecutionRequest{
		Command: []string{"echo", "hello"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Errorf("stdout = %q, want hello", result.Stdout)
	}
}

func TestProcessSandbox_NonZeroExit(t *testing.T) {
	s := newTestSandbox()

	result, err := s.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestProcessSandbox_EmptyCommand(t *testing.T) {
	s := newTestSandbox()

	if _, err := s.Execute(context.Background(), ExecutionRequest{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestProcessSandbox_EnvironmentNotInherited(t *testing.T) {
	t.Setenv("AXON_SECRET_MARKER", "leaked")
	s := newTestSandbox()

	result, err := s.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "echo ${AXON_SECRET_MARKER:-clean}"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "clean" {
		t.Errorf("host environment leaked into sandbox: %q", result.Stdout)
	}
}

func TestProcessSandbox_ExtraEnv(t *testing.T) {
	s := newTestSandbox()

	result, err := s.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "echo $EXTRA_VAR"},
		Env:     map[string]string{"EXTRA_VAR": "present"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "present" {
		t.Errorf("stdout = %q, want present", result.Stdout)
	}
}

func TestProcessSandbox_Timeout(t *testing.T) {
	s := newTestSandbox()

	start := time.Now()
	_, err := s.Execute(context.Background(), ExecutionRequest{
		Command: []string{"sleep", "10"},
		Timeout: 100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, process group not killed", elapsed)
	}
}
