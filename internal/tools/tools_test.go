package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/neurovexon/axon/internal/security"
)

type stubTool struct {
	name             string
	risk             security.RiskLevel
	requiresApproval bool
}

func (s *stubTool) Name() string                  { return s.name }
func (s *stubTool) Description() string           { return "stub " + s.name }
func (s *stubTool) InputSchema() map[string]any   { return map[string]any{"type": "object"} }
func (s *stubTool) RiskLevel() security.RiskLevel { return s.risk }
func (s *stubTool) RequiresApproval() bool        { return s.requiresApproval }
func (s *stubTool) Validate(map[string]any) error { return nil }

func (s *stubTool) Execute(context.Context, map[string]any) (*Result, error) {
	return &Result{Output: "ok", Success: true}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	tool := &stubTool{name: "alpha"}
	reg.Register(tool)

	if got := reg.Get("alpha"); got != tool {
		t.Errorf("Get(alpha) = %v, want the registered tool", got)
	}
	if got := reg.Get("missing"); got != nil {
		t.Errorf("Get(missing) = %v, want nil", got)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "alpha"})

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	reg.Register(&stubTool{name: "alpha"})
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		reg.Register(&stubTool{name: name})
	}

	names := reg.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("List() = %v, want %v", names, want)
		}
	}
}

func TestDefinitions_AllowFilter(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubTool{name: "web_search"})
	reg.Register(&stubTool{name: "shell_execute"})
	reg.Register(&stubTool{name: "file_read"})

	defs := Definitions(reg, func(name string) bool { return name != "shell_execute" })
	if len(defs) != 2 {
		t.Fatalf("Definitions() returned %d, want 2", len(defs))
	}
	if defs[0].Name != "file_read" || defs[1].Name != "web_search" {
		t.Errorf("Definitions() order = %s, %s", defs[0].Name, defs[1].Name)
	}

	all := Definitions(reg, nil)
	if len(all) != 3 {
		t.Errorf("Definitions(nil) returned %d, want 3", len(all))
	}
}

func TestTruncateOutput(t *testing.T) {
	short := "small output"
	if got := TruncateOutput(short, MaxOutputBytes); got != short {
		t.Errorf("short output modified: %q", got)
	}

	long := strings.Repeat("x", 100)
	got := TruncateOutput(long, 50)
	if len(got) > 50 {
		t.Errorf("truncated output is %d bytes, want <= 50", len(got))
	}
	if !strings.HasPrefix(got, "xxxx") {
		t.Errorf("truncated output lost prefix: %q", got)
	}
	if !strings.Contains(got, "truncated") {
		t.Errorf("truncated output carries no marker: %q", got)
	}
}

func TestSessionIDContext(t *testing.T) {
	ctx := context.Background()
	if id := SessionIDFromContext(ctx); id != "" {
		t.Errorf("empty context returned session id %q", id)
	}

	ctx = ContextWithSessionID(ctx, "s42")
	if id := SessionIDFromContext(ctx); id != "s42" {
		t.Errorf("SessionIDFromContext = %q, want s42", id)
	}
}
