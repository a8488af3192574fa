package file

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSafePath_WithinAllowed(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(target, []byte("hi"), 0640); err != nil {
		t.Fatal(err)
	}

	resolved, err := safePath(target, []string{dir})
	if err != nil {
		t.Fatalf("safePath: %v", err)
	}
	if !strings.HasSuffix(resolved, "notes.txt") {
		t.Errorf("resolved = %q", resolved)
	}
}

func TestSafePath_TraversalBlocked(t *testing.T) {
	dir := t.TempDir()

	if _, err := safePath(filepath.Join(dir, "..", "escape"), []string{dir}); err == nil {
		t.Error("traversal out of the allowed dir accepted")
	}
	if _, err := safePath("/etc/passwd", []string{dir}); err == nil {
		t.Error("path outside allowlist accepted")
	}
	if _, err := safePath("", []string{dir}); err == nil {
		t.Error("empty path accepted")
	}
}

func TestSafePath_PrefixNotFooled(t *testing.T) {
	dir := t.TempDir()
	sibling := dir + "evil"
	if err := os.MkdirAll(sibling, 0750); err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(sibling)

	if _, err := safePath(filepath.Join(sibling, "x"), []string{dir}); err == nil {
		t.Error("sibling directory sharing the prefix accepted")
	}
}

func TestSafePath_SymlinkEscapeBlocked(t *testing.T) {
	allowed := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(allowed, "link")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := safePath(link, []string{allowed}); err == nil {
		t.Error("symlink pointing outside the allowed dir accepted")
	}
}

func TestReadTool_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(target, []byte("hello world"), 0640); err != nil {
		t.Fatal(err)
	}

	tool := NewReadTool(Config{AllowedPaths: []string{dir}}, testLogger())
	res, err := tool.Execute(context.Background(), map[string]any{"path": target})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "hello world" {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestReadTool_RejectsOversizeFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "big.txt")
	if err := os.WriteFile(target, []byte(strings.Repeat("x", 100)), 0640); err != nil {
		t.Fatal(err)
	}

	tool := NewReadTool(Config{AllowedPaths: []string{dir}, MaxFileSizeBytes: 10}, testLogger())
	if _, err := tool.Execute(context.Background(), map[string]any{"path": target}); err == nil {
		t.Error("oversize file read accepted")
	}
}

func TestReadTool_RejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	tool := NewReadTool(Config{AllowedPaths: []string{dir}}, testLogger())
	_, err := tool.Execute(context.Background(), map[string]any{"path": dir})
	if err == nil || !strings.Contains(err.Error(), "file_list") {
		t.Errorf("directory read: got %v, want hint to use file_list", err)
	}
}

func TestWriteTool_StripsPathComponents(t *testing.T) {
	out := t.TempDir()
	tool := NewWriteTool(Config{OutputsDir: out}, testLogger())

	res, err := tool.Execute(context.Background(), map[string]any{
		"filename": "../../etc/passwd",
		"content":  "owned",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := filepath.Join(out, "passwd")
	if res.Metadata["path"] != want {
		t.Errorf("wrote to %v, want %v", res.Metadata["path"], want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "owned" {
		t.Errorf("file content = %q, err = %v", data, err)
	}
}

func TestWriteTool_ValidateLimits(t *testing.T) {
	tool := NewWriteTool(Config{OutputsDir: t.TempDir(), MaxFileSizeBytes: 5}, testLogger())

	err := tool.Validate(map[string]any{"filename": "a.txt", "content": "too long"})
	if err == nil {
		t.Error("oversize content accepted")
	}
	err = tool.Validate(map[string]any{"filename": "a.txt"})
	if err == nil {
		t.Error("missing content accepted")
	}
}

func TestListTool_ListsEntries(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0750); err != nil {
		t.Fatal(err)
	}

	tool := NewListTool(Config{AllowedPaths: []string{dir}}, testLogger())
	res, err := tool.Execute(context.Background(), map[string]any{"path": dir})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Output, "a.txt") || !strings.Contains(res.Output, "sub") {
		t.Errorf("Output missing entries:\n%s", res.Output)
	}
	if res.Metadata["count"] != 2 {
		t.Errorf("count = %v, want 2", res.Metadata["count"])
	}
}

func TestRiskClassification(t *testing.T) {
	cfg := Config{AllowedPaths: []string{"/tmp"}, OutputsDir: "/tmp/out"}
	read := NewReadTool(cfg, testLogger())
	write := NewWriteTool(cfg, testLogger())
	list := NewListTool(cfg, testLogger())

	if read.RiskLevel() >= write.RiskLevel() && read.RiskLevel() != write.RiskLevel() {
		t.Error("read risk should not exceed write risk")
	}
	if !read.RequiresApproval() || !write.RequiresApproval() || !list.RequiresApproval() {
		t.Error("file tools must require approval")
	}
}
