package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "axon")

	ws, err := New(root)
	if err != nil {
		t.Fatalf("New(%q): %v", root, err)
	}
	if ws.Root != root {
		t.Errorf("Root = %q, want %q", ws.Root, root)
	}

	// Root directory should exist.
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root dir not created: %v", err)
	}
}

func TestDirectoryAccessors(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "axon"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fn   func() string
		want string
	}{
		{"DataDir", ws.DataDir, "data"},
		{"WorkDir", ws.WorkDir, "workspace"},
		{"MCPDir", ws.MCPDir, "mcp"},
		{"SecretsDir", ws.SecretsDir, "secrets"},
		{"LogsDir", ws.LogsDir, "logs"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.fn()
			expected := filepath.Join(ws.Root, tc.want)
			if got != expected {
				t.Errorf("%s() = %q, want %q", tc.name, got, expected)
			}
			// Directory should exist.
			if _, err := os.Stat(got); err != nil {
				t.Errorf("directory not created: %v", err)
			}
		})
	}
}

func TestSecretsDirPermissions(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "axon"))
	if err != nil {
		t.Fatal(err)
	}

	dir := ws.SecretsDir()
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0700 {
		t.Errorf("secrets dir permissions = %o, want 0700", perm)
	}
}

func TestDerivedPaths(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "axon"))
	if err != nil {
		t.Fatal(err)
	}

	if got, want := ws.ConfigPath(), filepath.Join(ws.Root, "config.json"); got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
	if got, want := ws.DatabasePath(), filepath.Join(ws.Root, "data", "axon.db"); got != want {
		t.Errorf("DatabasePath() = %q, want %q", got, want)
	}
	if got, want := ws.AuditLogPath(), filepath.Join(ws.Root, "data", "audit.jsonl"); got != want {
		t.Errorf("AuditLogPath() = %q, want %q", got, want)
	}
}

func TestSessionWorkDir(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "axon"))
	if err != nil {
		t.Fatal(err)
	}

	dir := ws.SessionWorkDir("sess-1")
	expected := filepath.Join(ws.Root, "workspace", "sess-1")
	if dir != expected {
		t.Errorf("SessionWorkDir = %q, want %q", dir, expected)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("session work dir not created: %v", err)
	}

	// Session IDs must not escape the workspace root.
	escaped := ws.SessionWorkDir("../outside")
	if filepath.Dir(escaped) != ws.WorkDir() {
		t.Errorf("SessionWorkDir escaped root: %q", escaped)
	}
}

func TestCleanWork(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "axon"))
	if err != nil {
		t.Fatal(err)
	}

	// Create some scratch entries.
	workDir := ws.WorkDir()
	os.MkdirAll(filepath.Join(workDir, "sess-1"), 0750)
	os.MkdirAll(filepath.Join(workDir, "sess-2"), 0750)
	os.WriteFile(filepath.Join(workDir, "sess-1", "output.txt"), []byte("hello"), 0644)

	if err := ws.CleanWork(); err != nil {
		t.Fatalf("CleanWork: %v", err)
	}

	entries, _ := os.ReadDir(workDir)
	if len(entries) != 0 {
		t.Errorf("work dir not empty after clean: %d entries", len(entries))
	}
}

func TestCleanWorkNoop(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "axon"))
	if err != nil {
		t.Fatal(err)
	}
	// Don't create the scratch dir — CleanWork should be a no-op.
	os.RemoveAll(filepath.Join(ws.Root, "workspace"))
	if err := ws.CleanWork(); err != nil {
		t.Fatalf("CleanWork on missing dir: %v", err)
	}
}

func TestEnsureAll(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "axon"))
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.EnsureAll(); err != nil {
		t.Fatal(err)
	}

	for _, sub := range []string{"data", "workspace", "mcp", "secrets", "logs"} {
		p := filepath.Join(ws.Root, sub)
		if _, err := os.Stat(p); err != nil {
			t.Errorf("directory %q not created: %v", sub, err)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"normal", "normal"},
		{"a/b", "a_b"},
		{"a\\b", "a_b"},
		{"../etc/passwd", "__etc_passwd"},
		{"", "_"},
	}
	for _, tc := range tests {
		if got := sanitizeName(tc.input); got != tc.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
