package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/neurovexon/axon/internal/agent"
	"github.com/neurovexon/axon/internal/approval"
	"github.com/neurovexon/axon/internal/llm"
	"github.com/neurovexon/axon/internal/security"
	"github.com/neurovexon/axon/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// gatedProvider proposes one gated tool call, then finishes with text.
type gatedProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *gatedProvider) Name() string { return "scripted" }

func (p *gatedProvider) SendMessage(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls == 1 {
		return &llm.Response{
			ContentBlocks: []llm.ContentBlock{
				llm.ToolUseBlock("tu1", "shell_execute", map[string]any{"command": "ls"}),
			},
			StopReason: llm.BlockToolUse,
		}, nil
	}
	return &llm.Response{Content: "finished"}, nil
}

type gatedTool struct{}

func (gatedTool) Name() string                  { return "shell_execute" }
func (gatedTool) Description() string           { return "run a shell command" }
func (gatedTool) InputSchema() map[string]any   { return map[string]any{"type": "object"} }
func (gatedTool) RiskLevel() security.RiskLevel { return security.RiskHigh }
func (gatedTool) RequiresApproval() bool        { return true }
func (gatedTool) Validate(map[string]any) error { return nil }

func (gatedTool) Execute(context.Context, map[string]any) (*tools.Result, error) {
	return &tools.Result{Output: "ok", Success: true}, nil
}

func TestServer_ClientDisconnectAbortsSuspendedTurn(t *testing.T) {
	logger := discardLogger()
	registry := tools.NewRegistry()
	registry.Register(gatedTool{})
	gateway := approval.NewGateway(time.Minute, logger)

	orch := agent.NewOrchestrator(&gatedProvider{}, "", logger).
		WithTools(registry).
		WithGateway(gateway).
		WithApprovalTimeout(time.Minute)

	srv := NewServer(orch, gateway, "", logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancelDial := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDial()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	chat, err := json.Marshal(ClientFrame{Type: "chat", SessionID: "s1", Message: "run it"})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageText, chat); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Read frames until the turn suspends on an approval.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var frame ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if frame.Type == string(agent.EventToolRequest) {
			break
		}
		if frame.Type == "error" || frame.Type == string(agent.EventError) {
			t.Fatalf("unexpected error frame: %s", frame.Error)
		}
	}
	if got := len(gateway.Pending()); got != 1 {
		t.Fatalf("pending slots = %d, want 1", got)
	}

	// Disconnect while suspended. The server must abort the turn and release
	// its slot promptly rather than waiting out the decision window.
	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(3 * time.Second)
	for len(gateway.Pending()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("approval slot still pending after client disconnect")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServer_ApproveFrameResolvesSuspendedTurn(t *testing.T) {
	logger := discardLogger()
	registry := tools.NewRegistry()
	registry.Register(gatedTool{})
	gateway := approval.NewGateway(time.Minute, logger)

	orch := agent.NewOrchestrator(&gatedProvider{}, "", logger).
		WithTools(registry).
		WithGateway(gateway).
		WithApprovalTimeout(time.Minute)

	srv := NewServer(orch, gateway, "", logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancelDial := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDial()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	chat, _ := json.Marshal(ClientFrame{Type: "chat", SessionID: "s1", Message: "run it"})
	if err := conn.Write(ctx, websocket.MessageText, chat); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Answer the tool_request in-band on the same connection, then expect the
	// execution result and a terminal done.
	var sawResult, sawDone bool
	for !sawDone {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var frame ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		switch frame.Type {
		case string(agent.EventToolRequest):
			approve, _ := json.Marshal(ClientFrame{
				Type:      "approve",
				RequestID: frame.Event.RequestID,
				Decision:  "once",
			})
			if err := conn.Write(ctx, websocket.MessageText, approve); err != nil {
				t.Fatalf("write approve: %v", err)
			}
		case string(agent.EventToolResult):
			sawResult = true
		case string(agent.EventDone):
			sawDone = true
		case string(agent.EventError):
			t.Fatalf("unexpected error frame: %s", frame.Error)
		}
	}
	if !sawResult {
		t.Error("no tool_result frame before done")
	}
}
