// Package llm abstracts the model backends the orchestrator plans with.
// A Provider turns a conversation plus tool definitions into a response
// that either finishes the turn or proposes tool calls. Vendor specifics
// stay inside the subpackages; everything above this interface speaks in
// content blocks.
package llm

import "context"

// Provider is implemented by each model backend.
type Provider interface {
	// SendMessage runs one model call for the given conversation.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name identifies the backend, e.g. "anthropic".
	Name() string
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block kinds carried in ContentBlock.Type.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Request is one model call: the conversation so far plus the tools the
// model may propose. Proposing is all it can do; execution happens
// elsewhere, after gating.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Tools        []ToolDefinition // nil = tool use disabled
}

// ToolDefinition advertises a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Message is a single conversation turn. Plain text lives in Content;
// structured turns (tool calls, tool results) use ContentBlocks. Set one
// or the other, not both.
type Message struct {
	Role          Role
	Content       string
	ContentBlocks []ContentBlock
}

// TextContent flattens the message to text, concatenating text blocks
// when the structured form is in use.
func (m *Message) TextContent() string {
	if len(m.ContentBlocks) == 0 {
		return m.Content
	}
	var s string
	for _, b := range m.ContentBlocks {
		if b.Type == BlockText {
			s += b.Text
		}
	}
	return s
}

// ContentBlock is a tagged union. Type selects which fields apply.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result block. The result text rides in the
// Text field; IsError marks failed executions so the model can react.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Text: content, IsError: isError}
}

// Response is a completed model call.
type Response struct {
	Content       string         // Flattened text, for callers that ignore blocks.
	ContentBlocks []ContentBlock // Full structured content including tool_use blocks.
	Usage         Usage
	StopReason    string // "end_turn", "tool_use", "max_tokens"
}

// HasToolUse reports whether the model stopped to propose tool calls.
func (r *Response) HasToolUse() bool {
	return r.StopReason == BlockToolUse
}

// ToolUseBlocks returns the proposed tool calls, in response order.
func (r *Response) ToolUseBlocks() []ContentBlock {
	var blocks []ContentBlock
	for _, b := range r.ContentBlocks {
		if b.Type == BlockToolUse {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// Usage counts tokens for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
