// Package anthropic speaks the Anthropic Messages API.
//
// Only the subset the orchestrator needs is implemented: synchronous
// message calls with tool definitions and structured content blocks.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/neurovexon/axon/internal/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	messagesPath     = "/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Client calls the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint, typically a test server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an Anthropic provider for the given model.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return "anthropic" }

// SendMessage runs one Messages API call and maps the result back to
// provider-agnostic content blocks.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(c.encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	resp := decodeResponse(&wire)
	c.logger.DebugContext(ctx, "model call completed",
		slog.String("provider", "anthropic"),
		slog.String("model", c.model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
	return resp, nil
}

// encodeRequest maps the provider-agnostic request onto the wire format.
func (c *Client) encodeRequest(req *llm.Request) wireRequest {
	messages := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		if len(m.ContentBlocks) > 0 {
			blocks := make([]wireBlock, len(m.ContentBlocks))
			for j, b := range m.ContentBlocks {
				blocks[j] = encodeBlock(b)
			}
			messages[i] = wireMessage{Role: string(m.Role), Content: blocks}
			continue
		}
		messages[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	out := wireRequest{
		Model:     c.model,
		System:    req.SystemPrompt,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

func encodeBlock(b llm.ContentBlock) wireBlock {
	block := wireBlock{Type: b.Type}
	switch b.Type {
	case llm.BlockText:
		block.Text = b.Text
	case llm.BlockToolUse:
		block.ID = b.ID
		block.Name = b.Name
		block.Input = b.Input
	case llm.BlockToolResult:
		block.ToolUseID = b.ToolUseID
		block.Content = b.Text
		block.IsError = b.IsError
	}
	return block
}

func decodeResponse(wire *wireResponse) *llm.Response {
	var text string
	var blocks []llm.ContentBlock
	for _, block := range wire.Content {
		switch block.Type {
		case llm.BlockText:
			text += block.Text
			blocks = append(blocks, llm.TextBlock(block.Text))
		case llm.BlockToolUse:
			blocks = append(blocks, llm.ToolUseBlock(block.ID, block.Name, block.Input))
		}
	}
	return &llm.Response{
		Content:       text,
		ContentBlocks: blocks,
		StopReason:    wire.StopReason,
		Usage: llm.Usage{
			InputTokens:  wire.Usage.InputTokens,
			OutputTokens: wire.Usage.OutputTokens,
		},
	}
}

// --- wire types ---

type wireRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

type wireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// wireMessage carries either a plain string or []wireBlock in Content.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type wireBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type wireResponse struct {
	Content    []wireBlock `json:"content"`
	StopReason string      `json:"stop_reason"`
	Usage      wireUsage   `json:"usage"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
