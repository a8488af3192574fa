// Package mcp bridges external Model Context Protocol servers into the
// tool registry. Discovered tools become ordinary tools.Tool values, so
// everything an MCP server offers passes through the same risk
// classification, approval, and audit pipeline as the built-ins.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/neurovexon/axon/internal/config"
	"github.com/neurovexon/axon/internal/security"
	"github.com/neurovexon/axon/internal/tools"
)

// MCPTool adapts one remote tool. Names are namespaced as
// "mcp__<server>__<tool>" so two servers exporting the same tool name
// never collide in the registry.
type MCPTool struct {
	name             string
	description      string
	schema           map[string]any
	risk             security.RiskLevel
	requiresApproval bool
	client           mcpclient.MCPClient
	remoteName       string // name the server knows the tool by
	server           string
	logger           *slog.Logger
}

func (t *MCPTool) Name() string                  { return t.name }
func (t *MCPTool) Description() string           { return t.description }
func (t *MCPTool) InputSchema() map[string]any   { return t.schema }
func (t *MCPTool) RiskLevel() security.RiskLevel { return t.risk }
func (t *MCPTool) RequiresApproval() bool        { return t.requiresApproval }

// Validate checks required keys against the schema the server declared.
// Deeper validation is the server's job.
func (t *MCPTool) Validate(params map[string]any) error {
	required, _ := t.schema["required"].([]any)
	for _, r := range required {
		key, ok := r.(string)
		if !ok {
			continue
		}
		if _, exists := params[key]; !exists {
			return fmt.Errorf("missing required parameter: %s", key)
		}
	}
	return nil
}

func (t *MCPTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	t.logger.InfoContext(ctx, "mcp tool executing",
		slog.String("server", t.server),
		slog.String("tool", t.remoteName),
	)

	var call mcp.CallToolRequest
	call.Params.Name = t.remoteName
	call.Params.Arguments = params

	res, err := t.client.CallTool(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("MCP call to %s/%s failed: %w", t.server, t.remoteName, err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(flattenContent(res.Content), tools.MaxOutputBytes),
		Success: !res.IsError,
		Metadata: map[string]any{
			"mcp_server":    t.server,
			"mcp_tool":      t.remoteName,
			"content_items": len(res.Content),
		},
	}, nil
}

// flattenContent joins the server's content items into one string. Text
// passes through; anything else (image, audio, resource) is serialized
// as JSON so nothing is silently dropped.
func flattenContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
			continue
		}
		data, _ := json.Marshal(c)
		sb.Write(data)
	}
	return sb.String()
}

// Bridge owns the MCP client connections and turns discovered tools
// into registry-ready adapters.
type Bridge struct {
	clients []mcpclient.MCPClient
	logger  *slog.Logger
}

func NewBridge(logger *slog.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// ConnectAndDiscover dials one server, runs the initialize handshake,
// lists its tools, and returns adapters for each. The connection stays
// open for the life of the bridge.
func (b *Bridge) ConnectAndDiscover(ctx context.Context, cfg config.MCPServerConfig) ([]*MCPTool, error) {
	c, err := b.dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating MCP client for %q: %w", cfg.Name, err)
	}

	var init mcp.InitializeRequest
	init.Params.ClientInfo = mcp.Implementation{Name: "axon", Version: "0.0.1"}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, init); err != nil {
		return nil, fmt.Errorf("MCP initialize for %q: %w", cfg.Name, err)
	}
	b.clients = append(b.clients, c)

	listing, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("MCP list tools for %q: %w", cfg.Name, err)
	}

	// A server without an explicit classification gets medium risk and a
	// mandatory approval gate.
	risk := security.RiskMedium
	if cfg.RiskLevel != "" {
		risk = security.ParseRiskLevel(cfg.RiskLevel)
	}

	adapters := make([]*MCPTool, 0, len(listing.Tools))
	for _, t := range listing.Tools {
		adapters = append(adapters, &MCPTool{
			name:             fmt.Sprintf("mcp__%s__%s", cfg.Name, t.Name),
			description:      fmt.Sprintf("[MCP:%s] %s", cfg.Name, t.Description),
			schema:           schemaToMap(t.InputSchema),
			risk:             risk,
			requiresApproval: !cfg.AutoApprove,
			client:           c,
			remoteName:       t.Name,
			server:           cfg.Name,
			logger:           b.logger,
		})
	}

	b.logger.Info("MCP server connected",
		slog.String("server", cfg.Name),
		slog.String("transport", cfg.Transport),
		slog.Int("tools_discovered", len(adapters)),
		slog.String("risk_level", risk.String()),
		slog.Bool("requires_approval", !cfg.AutoApprove),
	)

	return adapters, nil
}

// Close tears down every client connection.
func (b *Bridge) Close() {
	for _, c := range b.clients {
		if err := c.Close(); err != nil {
			b.logger.Error("closing MCP client", slog.String("error", err.Error()))
		}
	}
}

func (b *Bridge) dial(cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(cfg.Command, expandEnvList(cfg.Env), cfg.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(expandEnvValues(cfg.Headers)))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandEnvValues(cfg.Headers)))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// schemaToMap converts the typed MCP schema into the map form the tool
// interface exposes.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}
	if schema.Properties != nil {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		required := make([]any, len(schema.Required))
		for i, r := range schema.Required {
			required[i] = r
		}
		out["required"] = required
	}
	return out
}

// expandEnvList renders a key→value map as "KEY=value" pairs with
// ${VAR} references resolved, for stdio child processes.
func expandEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

// expandEnvValues resolves ${VAR} references in header values.
func expandEnvValues(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
