// Package memory implements long-term memory tools backed by a pluggable
// store. Entries are keyed; saving an existing key overwrites it. All three
// tools are low risk and exempt from approval.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/neurovexon/axon/internal/security"
	"github.com/neurovexon/axon/internal/tools"
)

// Entry is a stored memory.
type Entry struct {
	Key     string `json:"key"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// Store persists memory entries.
type Store interface {
	// Save inserts or overwrites the entry under its key.
	Save(ctx context.Context, e Entry) error
	// Search returns entries whose key or content matches the query
	// (case-insensitive substring), newest first, capped at limit.
	Search(ctx context.Context, query string, limit int) ([]Entry, error)
	// Delete removes the entry under key. Returns false if absent.
	Delete(ctx context.Context, key string) (bool, error)
}

const defaultSearchLimit = 10

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

// ---- SaveTool ----

// SaveTool writes a memory entry.
type SaveTool struct {
	store  Store
	logger *slog.Logger
}

// NewSaveTool creates a memory save tool.
func NewSaveTool(store Store, logger *slog.Logger) *SaveTool {
	return &SaveTool{store: store, logger: logger}
}

func (t *SaveTool) Name() string        { return "memory_save" }
func (t *SaveTool) Description() string { return "Save a fact to long-term memory under a key" }
func (t *SaveTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":     map[string]any{"type": "string", "description": "Unique key for the memory (overwrites an existing entry)"},
			"content": map[string]any{"type": "string", "description": "The fact to remember"},
		},
		"required": []string{"key", "content"},
	}
}
func (t *SaveTool) RiskLevel() security.RiskLevel { return security.RiskLow }
func (t *SaveTool) RequiresApproval() bool        { return false }

func (t *SaveTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "key"); err != nil {
		return err
	}
	if _, err := requireString(params, "content"); err != nil {
		return err
	}
	return nil
}

func (t *SaveTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	key, _ := requireString(params, "key")
	content, _ := requireString(params, "content")

	e := Entry{
		Key:     key,
		Content: content,
		Source:  tools.SessionIDFromContext(ctx),
	}
	if err := t.store.Save(ctx, e); err != nil {
		return nil, fmt.Errorf("saving memory: %w", err)
	}

	t.logger.InfoContext(ctx, "memory_save executing", slog.String("key", key))

	return &tools.Result{
		Output:  fmt.Sprintf("remembered %q", key),
		Success: true,
		Metadata: map[string]any{
			"key": key,
		},
	}, nil
}

// ---- SearchTool ----

// SearchTool finds memory entries matching a query.
type SearchTool struct {
	store  Store
	logger *slog.Logger
}

// NewSearchTool creates a memory search tool.
func NewSearchTool(store Store, logger *slog.Logger) *SearchTool {
	return &SearchTool{store: store, logger: logger}
}

func (t *SearchTool) Name() string        { return "memory_search" }
func (t *SearchTool) Description() string { return "Search long-term memory by keyword" }
func (t *SearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Keyword to search for in keys and contents"},
			"limit": map[string]any{"type": "integer", "description": "Maximum number of entries to return. Defaults to 10"},
		},
		"required": []string{"query"},
	}
}
func (t *SearchTool) RiskLevel() security.RiskLevel { return security.RiskLow }
func (t *SearchTool) RequiresApproval() bool        { return false }

func (t *SearchTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "query"); err != nil {
		return err
	}
	return nil
}

func (t *SearchTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	query, _ := requireString(params, "query")

	limit := defaultSearchLimit
	if v, ok := params["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	entries, err := t.store.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching memory: %w", err)
	}

	t.logger.InfoContext(ctx, "memory_search executing",
		slog.String("query", query),
		slog.Int("hits", len(entries)),
	)

	if len(entries) == 0 {
		return &tools.Result{
			Output:   "(no matching memories)",
			Success:  true,
			Metadata: map[string]any{"query": query, "count": 0},
		}, nil
	}

	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding memories: %w", err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(string(out), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"query": query,
			"count": len(entries),
		},
	}, nil
}

// ---- DeleteTool ----

// DeleteTool removes a memory entry by key.
type DeleteTool struct {
	store  Store
	logger *slog.Logger
}

// NewDeleteTool creates a memory delete tool.
func NewDeleteTool(store Store, logger *slog.Logger) *DeleteTool {
	return &DeleteTool{store: store, logger: logger}
}

func (t *DeleteTool) Name() string        { return "memory_delete" }
func (t *DeleteTool) Description() string { return "Delete a long-term memory by key" }
func (t *DeleteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key": map[string]any{"type": "string", "description": "Key of the memory to delete"},
		},
		"required": []string{"key"},
	}
}
func (t *DeleteTool) RiskLevel() security.RiskLevel { return security.RiskLow }
func (t *DeleteTool) RequiresApproval() bool        { return false }

func (t *DeleteTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "key"); err != nil {
		return err
	}
	return nil
}

func (t *DeleteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	key, _ := requireString(params, "key")

	removed, err := t.store.Delete(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("deleting memory: %w", err)
	}

	t.logger.InfoContext(ctx, "memory_delete executing",
		slog.String("key", key),
		slog.Bool("removed", removed),
	)

	if !removed {
		return &tools.Result{
			Output:   fmt.Sprintf("no memory under %q", key),
			Success:  false,
			Metadata: map[string]any{"key": key},
		}, nil
	}
	return &tools.Result{
		Output:   fmt.Sprintf("forgot %q", key),
		Success:  true,
		Metadata: map[string]any{"key": key},
	}, nil
}
