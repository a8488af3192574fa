// Package workspace manages the Axon runtime directory structure.
// All runtime state (database, audit log, agent working files, MCP server
// state) is consolidated under a single root, making an installation
// portable and easy to back up or wipe.
//
// Default root: ~/.axon (configurable via config or the AXON_DATA_DIR env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default root location relative to user home directory.
const defaultRelativePath = ".axon"

// Workspace manages all Axon runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.axon.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Top-level directory accessors ---

// DataDir returns <root>/data/. Holds the SQLite database and audit log.
func (w *Workspace) DataDir() string {
	return w.dir("data")
}

// WorkDir returns <root>/workspace/. The default sandbox for the file and
// shell tools; tool paths are confined here unless configured otherwise.
func (w *Workspace) WorkDir() string {
	return w.dir("workspace")
}

// MCPDir returns <root>/mcp/. MCP server state and logs.
func (w *Workspace) MCPDir() string {
	return w.dir("mcp")
}

// SecretsDir returns <root>/secrets/ with 0700 permissions.
func (w *Workspace) SecretsDir() string {
	return w.restrictedDir("secrets")
}

// LogsDir returns <root>/logs/. Application log files.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// --- Derived paths ---

// ConfigPath returns <root>/config.json.
func (w *Workspace) ConfigPath() string {
	return filepath.Join(w.Root, "config.json")
}

// DatabasePath returns <root>/data/axon.db.
func (w *Workspace) DatabasePath() string {
	return filepath.Join(w.DataDir(), "axon.db")
}

// AuditLogPath returns <root>/data/audit.jsonl, the file mirror of the
// audit trail.
func (w *Workspace) AuditLogPath() string {
	return filepath.Join(w.DataDir(), "audit.jsonl")
}

// --- Session-scoped paths ---

// SessionWorkDir returns <root>/workspace/<sessionID>/, a per-session
// scratch directory.
func (w *Workspace) SessionWorkDir(sessionID string) string {
	p := filepath.Join(w.WorkDir(), sanitizeName(sessionID))
	_ = w.ensureDir(p, 0750)
	return p
}

// --- Cleanup ---

// CleanWork removes all contents of the workspace scratch directory.
func (w *Workspace) CleanWork() error {
	dir := filepath.Join(w.Root, "workspace")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading workspace dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing workspace entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// EnsureAll creates all standard runtime directories.
// Call this during first startup.
func (w *Workspace) EnsureAll() error {
	// Regular directories (0750).
	dirs := []string{
		w.DataDir(),
		w.WorkDir(),
		w.MCPDir(),
		w.LogsDir(),
	}
	for _, d := range dirs {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	// Restricted directories (0700).
	_ = w.SecretsDir()
	return nil
}

// --- Internal helpers ---

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// restrictedDir is like dir but uses 0700 permissions.
func (w *Workspace) restrictedDir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0700)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
