// Package file implements file access tools with path restriction and symlink protection.
//
// Three tools are registered:
//   - file_read: read file contents within allowed paths (RiskMedium)
//   - file_write: write to the outputs directory only (RiskMedium)
//   - file_list: list a directory within allowed paths (RiskLow)
//
// Security: every read path is resolved to its absolute, symlink-free form
// and checked against the configured allowlist before any I/O occurs. Writes
// are confined to the outputs directory and filenames are stripped of any
// path components.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/neurovexon/axon/internal/security"
	"github.com/neurovexon/axon/internal/tools"
)

// Config configures file tool restrictions.
type Config struct {
	AllowedPaths     []string // Path prefixes readable/listable. Empty = deny all.
	OutputsDir       string   // Directory file_write is confined to.
	MaxFileSizeBytes int64    // Maximum file size for read/write. 0 = 10 MB default.
}

const defaultMaxFileSize = 10 << 20 // 10 MB

// --- Shared path validation ---

// safePath resolves a user-supplied path to its absolute, symlink-free form
// and verifies it falls within one of the allowed prefixes.
//
// This prevents:
//   - Path traversal via ../ sequences
//   - Symlink-based escapes (symlink pointing outside allowed dirs)
//   - Relative path tricks
func safePath(raw string, allowed []string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	// Resolve symlinks to get the real filesystem path.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// If the path doesn't exist yet, resolve the parent.
		parentResolved, parentErr := filepath.EvalSymlinks(filepath.Dir(abs))
		if parentErr != nil {
			return "", fmt.Errorf("path does not exist and parent is invalid: %w", err)
		}
		resolved = filepath.Join(parentResolved, filepath.Base(abs))
	}

	for _, prefix := range allowed {
		absPrefix, err := filepath.Abs(prefix)
		if err != nil {
			continue
		}
		// "/tmp" should match "/tmp/foo" but NOT "/tmpevil".
		if strings.HasPrefix(resolved, absPrefix+string(filepath.Separator)) || resolved == absPrefix {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("path %q resolves to %q which is outside allowed directories", raw, resolved)
}

func maxSize(cfg Config) int64 {
	if cfg.MaxFileSizeBytes > 0 {
		return cfg.MaxFileSizeBytes
	}
	return defaultMaxFileSize
}

// requireString extracts a required non-empty string param.
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

// ---- ReadTool ----

// ReadTool reads files within allowed paths.
type ReadTool struct {
	config Config
	logger *slog.Logger
}

// NewReadTool creates a file read tool restricted to the given paths.
func NewReadTool(cfg Config, logger *slog.Logger) *ReadTool {
	return &ReadTool{config: cfg, logger: logger}
}

func (t *ReadTool) Name() string { return "file_read" }
func (t *ReadTool) Description() string {
	return "Read file contents within allowed paths"
}
func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Absolute path to the file to read"},
		},
		"required": []string{"path"},
	}
}
func (t *ReadTool) RiskLevel() security.RiskLevel { return security.RiskMedium }
func (t *ReadTool) RequiresApproval() bool        { return true }

func (t *ReadTool) Validate(params map[string]any) error {
	path, err := requireString(params, "path")
	if err != nil {
		return err
	}
	if _, err := safePath(path, t.config.AllowedPaths); err != nil {
		return err
	}
	return nil
}

func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	resolved, err := safePath(path, t.config.AllowedPaths)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "file_read executing", slog.String("path", resolved))

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", resolved, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, use file_list", resolved)
	}
	if info.Size() > maxSize(t.config) {
		return nil, fmt.Errorf("file size %d exceeds limit %d bytes", info.Size(), maxSize(t.config))
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", resolved, err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(string(data), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"path":       resolved,
			"size_bytes": info.Size(),
		},
	}, nil
}

// ---- WriteTool ----

// WriteTool writes files into the outputs directory only.
type WriteTool struct {
	config Config
	logger *slog.Logger
}

// NewWriteTool creates a file write tool confined to cfg.OutputsDir.
func NewWriteTool(cfg Config, logger *slog.Logger) *WriteTool {
	return &WriteTool{config: cfg, logger: logger}
}

func (t *WriteTool) Name() string { return "file_write" }
func (t *WriteTool) Description() string {
	return "Write content to a file in the outputs directory"
}
func (t *WriteTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filename": map[string]any{"type": "string", "description": "Name of the output file (path components are stripped)"},
			"content":  map[string]any{"type": "string", "description": "Content to write to the file"},
		},
		"required": []string{"filename", "content"},
	}
}
func (t *WriteTool) RiskLevel() security.RiskLevel { return security.RiskMedium }
func (t *WriteTool) RequiresApproval() bool        { return true }

func (t *WriteTool) Validate(params map[string]any) error {
	if _, err := requireString(params, "filename"); err != nil {
		return err
	}
	content, ok := params["content"].(string)
	if !ok {
		return fmt.Errorf("missing required parameter: content")
	}
	if int64(len(content)) > maxSize(t.config) {
		return fmt.Errorf("content size %d exceeds limit %d bytes", len(content), maxSize(t.config))
	}
	if t.config.OutputsDir == "" {
		return fmt.Errorf("outputs directory not configured")
	}
	return nil
}

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	filename, _ := requireString(params, "filename")
	content, _ := params["content"].(string)

	// Strip any path components so "../../etc/passwd" becomes "passwd".
	safe := filepath.Base(filepath.Clean(filename))
	if safe == "." || safe == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid filename %q", filename)
	}

	if err := os.MkdirAll(t.config.OutputsDir, 0750); err != nil {
		return nil, fmt.Errorf("creating outputs directory: %w", err)
	}
	target := filepath.Join(t.config.OutputsDir, safe)

	t.logger.InfoContext(ctx, "file_write executing",
		slog.String("path", target),
		slog.Int("content_size", len(content)),
	)

	if err := os.WriteFile(target, []byte(content), fs.FileMode(0640)); err != nil {
		return nil, fmt.Errorf("writing %s: %w", target, err)
	}

	return &tools.Result{
		Output:  fmt.Sprintf("wrote %d bytes to %s", len(content), target),
		Success: true,
		Metadata: map[string]any{
			"path":       target,
			"size_bytes": len(content),
		},
	}, nil
}

// ---- ListTool ----

// maxListEntries caps recursive listings.
const maxListEntries = 100

// ListTool lists directories within allowed paths.
type ListTool struct {
	config Config
	logger *slog.Logger
}

// NewListTool creates a directory listing tool restricted to the given paths.
func NewListTool(cfg Config, logger *slog.Logger) *ListTool {
	return &ListTool{config: cfg, logger: logger}
}

func (t *ListTool) Name() string { return "file_list" }
func (t *ListTool) Description() string {
	return "List directory contents within allowed paths"
}
func (t *ListTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string", "description": "Absolute path to the directory"},
			"recursive": map[string]any{"type": "boolean", "description": "Recurse into subdirectories (capped at 100 entries)"},
		},
		"required": []string{"path"},
	}
}
func (t *ListTool) RiskLevel() security.RiskLevel { return security.RiskLow }
func (t *ListTool) RequiresApproval() bool        { return true }

func (t *ListTool) Validate(params map[string]any) error {
	path, err := requireString(params, "path")
	if err != nil {
		return err
	}
	if _, err := safePath(path, t.config.AllowedPaths); err != nil {
		return err
	}
	return nil
}

func (t *ListTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, _ := requireString(params, "path")
	resolved, err := safePath(path, t.config.AllowedPaths)
	if err != nil {
		return nil, err
	}
	recursive, _ := params["recursive"].(bool)

	t.logger.InfoContext(ctx, "file_list executing",
		slog.String("path", resolved),
		slog.Bool("recursive", recursive),
	)

	var b strings.Builder
	count := 0

	if recursive {
		err = filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == resolved {
				return nil
			}
			if count >= maxListEntries {
				return fs.SkipAll
			}
			rel, _ := filepath.Rel(resolved, p)
			writeEntry(&b, rel, d)
			count++
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", resolved, err)
		}
	} else {
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", resolved, err)
		}
		for _, e := range entries {
			writeEntry(&b, e.Name(), e)
			count++
		}
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(b.String(), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"path":  resolved,
			"count": count,
		},
	}, nil
}

func writeEntry(b *strings.Builder, name string, d fs.DirEntry) {
	kind := "file"
	size := int64(0)
	if d.IsDir() {
		kind = "dir"
	} else if info, err := d.Info(); err == nil {
		size = info.Size()
	}
	fmt.Fprintf(b, "%-4s %8d %s\n", kind, size, name)
}
