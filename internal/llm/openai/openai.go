// Package openai speaks the OpenAI Chat Completions API. Ollama exposes
// the same wire format, so the Ollama provider is this client with a
// different base URL and name.
//
// The mapping between content blocks and the chat format is not 1:1:
// assistant tool_use blocks become tool_calls on one assistant message,
// while user tool_result blocks each become their own "tool" role message.
package openai

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
	defaultBaseURL   = "https://api.openai.com"
	completionsPath  = "/v1/chat/completions"
	defaultMaxTokens = 4096
)

// Client calls an OpenAI-compatible Chat Completions endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithName overrides the reported provider name (e.g. "ollama").
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// NewClient creates an OpenAI-compatible provider. For Ollama, pass an
// empty API key with WithBaseURL("http://localhost:11434") and WithName("ollama").
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		name:       "openai",
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// SendMessage runs one chat completion call.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(c.encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

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
		return nil, fmt.Errorf("%s API error (status %d): %s", c.name, httpResp.StatusCode, string(respBody))
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	resp := decodeResponse(&wire)
	c.logger.DebugContext(ctx, "model call completed",
		slog.String("provider", c.name),
		slog.String("model", c.model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
	return resp, nil
}

func (c *Client) encodeRequest(req *llm.Request) wireRequest {
	var messages []wireMessage

	// The chat format has no separate system field.
	if req.SystemPrompt != "" {
		messages = append(messages, wireMessage{Role: "system", Content: req.SystemPrompt})
	}

	for _, m := range req.Messages {
		if len(m.ContentBlocks) > 0 {
			messages = append(messages, encodeStructured(m)...)
			continue
		}
		messages = append(messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	out := wireRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

// encodeStructured flattens a block-structured message into chat messages.
func encodeStructured(m llm.Message) []wireMessage {
	if m.Role == llm.RoleAssistant {
		var text string
		var toolCalls []wireToolCall
		for _, b := range m.ContentBlocks {
			switch b.Type {
			case llm.BlockText:
				text += b.Text
			case llm.BlockToolUse:
				inputJSON, _ := json.Marshal(b.Input)
				toolCalls = append(toolCalls, wireToolCall{
					ID:   b.ID,
					Type: "function",
					Function: wireToolCallFunction{
						Name:      b.Name,
						Arguments: string(inputJSON),
					},
				})
			}
		}
		msg := wireMessage{Role: "assistant", Content: text}
		if len(toolCalls) > 0 {
			msg.ToolCalls = toolCalls
		}
		return []wireMessage{msg}
	}

	// User side: each tool_result becomes its own "tool" message; any text
	// blocks collapse into one user message that precedes them.
	var msgs []wireMessage
	var text string
	for _, b := range m.ContentBlocks {
		switch b.Type {
		case llm.BlockText:
			text += b.Text
		case llm.BlockToolResult:
			msgs = append(msgs, wireMessage{
				Role:       "tool",
				Content:    b.Text,
				ToolCallID: b.ToolUseID,
			})
		}
	}
	if text != "" {
		msgs = append([]wireMessage{{Role: "user", Content: text}}, msgs...)
	}
	return msgs
}

func decodeResponse(wire *wireResponse) *llm.Response {
	usage := llm.Usage{
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
	}
	if len(wire.Choices) == 0 {
		return &llm.Response{Usage: usage}
	}

	choice := wire.Choices[0]
	var text string
	var blocks []llm.ContentBlock

	if choice.Message.Content != "" {
		text = choice.Message.Content
		blocks = append(blocks, llm.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		blocks = append(blocks, llm.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}

	return &llm.Response{
		Content:       text,
		ContentBlocks: blocks,
		StopReason:    canonicalStopReason(choice.FinishReason),
		Usage:         usage,
	}
}

// canonicalStopReason maps finish_reason values onto the vocabulary the
// orchestrator branches on.
func canonicalStopReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return reason
	}
}

// --- wire types ---

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Tools     []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function wireToolCallFunction `json:"function"`
}

type wireToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireChoice struct {
	Message      wireChoiceMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type wireChoiceMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
