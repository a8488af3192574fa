package database

import (
	"strings"
	"testing"
	"time"
)

func TestCheckReadOnly_AllowsReadStatements(t *testing.T) {
	queries := []string{
		"SELECT 1",
		"select id, name from users where id = 1",
		"EXPLAIN SELECT * FROM orders",
		"SHOW server_version",
		"WITH recent AS (SELECT * FROM events) SELECT count(*) FROM recent",
		"-- a comment\nSELECT 1",
		"/* block comment */ SELECT 1",
		"SELECT 1;",
	}
	for _, q := range queries {
		if err := checkReadOnly(q); err != nil {
			t.Errorf("checkReadOnly(%q) = %v, want nil", q, err)
		}
	}
}

func TestCheckReadOnly_BlocksWrites(t *testing.T) {
	cases := []struct {
		query   string
		keyword string
	}{
		{"INSERT INTO users VALUES (1)", "INSERT"},
		{"update users set name = 'x'", "UPDATE"},
		{"DELETE FROM users", "DELETE"},
		{"DROP TABLE users", "DROP"},
		{"TRUNCATE users", "TRUNCATE"},
		{"SET role admin", "SET"},
		{"BEGIN", "BEGIN"},
		{"-- sneaky\nDROP TABLE users", "DROP"},
	}
	for _, tc := range cases {
		err := checkReadOnly(tc.query)
		if err == nil {
			t.Errorf("checkReadOnly(%q) = nil, want blocked", tc.query)
			continue
		}
		if !strings.Contains(err.Error(), tc.keyword) {
			t.Errorf("checkReadOnly(%q) error %q does not name %s", tc.query, err, tc.keyword)
		}
	}
}

func TestCheckReadOnly_RejectsStackedStatements(t *testing.T) {
	err := checkReadOnly("SELECT 1; DROP TABLE users")
	if err == nil || !strings.Contains(err.Error(), "multiple statements") {
		t.Errorf("stacked statements: got %v, want multiple-statements error", err)
	}
}

func TestCheckReadOnly_RejectsEmptyAndUnknown(t *testing.T) {
	if err := checkReadOnly("   "); err == nil {
		t.Error("blank query accepted")
	}
	if err := checkReadOnly("-- only a comment"); err == nil {
		t.Error("comment-only query accepted")
	}
	if err := checkReadOnly("FROBNICATE users"); err == nil {
		t.Error("unknown statement accepted")
	}
}

func TestLeadingKeyword(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":        "SELECT",
		"select(1)":       "SELECT",
		"SET role admin":  "SET",
		"SETTINGS":        "SETTINGS",
		"WITH x AS (...)": "WITH",
	}
	for stmt, want := range cases {
		if got := leadingKeyword(stmt); got != want {
			t.Errorf("leadingKeyword(%q) = %q, want %q", stmt, got, want)
		}
	}
}

func TestCellString(t *testing.T) {
	if got := cellString(nil); got != "NULL" {
		t.Errorf("nil = %q, want NULL", got)
	}
	if got := cellString([]byte("hello")); got != "hello" {
		t.Errorf("bytes = %q, want hello", got)
	}
	long := cellString([]byte(strings.Repeat("x", 600)))
	if len(long) != 503 || !strings.HasSuffix(long, "...") {
		t.Errorf("long bytes not truncated: len=%d", len(long))
	}
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := cellString(ts); got != "2025-03-01T12:00:00Z" {
		t.Errorf("time = %q", got)
	}
	if got := cellString(int64(42)); got != "42" {
		t.Errorf("int = %q", got)
	}
}

func TestNewTool_Defaults(t *testing.T) {
	tool := NewTool(Config{DSN: "postgres://localhost/test"}, nil)
	if tool.config.MaxRows != defaultMaxRows {
		t.Errorf("MaxRows = %d, want %d", tool.config.MaxRows, defaultMaxRows)
	}
	if tool.config.TimeoutSeconds != defaultTimeoutSec {
		t.Errorf("TimeoutSeconds = %d, want %d", tool.config.TimeoutSeconds, defaultTimeoutSec)
	}
	if tool.Name() != "database_read" {
		t.Errorf("Name = %q", tool.Name())
	}
	if !tool.RequiresApproval() {
		t.Error("database_read should require approval")
	}
}
