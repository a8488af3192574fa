package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryStore_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	reqID := uuid.New()
	recs := []Record{
		NewRecord(reqID, "s1", "default", "web_search", nil, EventRequested),
		NewRecord(reqID, "s1", "default", "web_search", nil, EventAuthorized),
		NewRecord(reqID, "s1", "default", "web_search", nil, EventExecuted).WithElapsed(20 * time.Millisecond),
		NewRecord(uuid.New(), "s2", "default", "shell_execute", nil, EventRequested),
	}
	for _, rec := range recs {
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.Query(ctx, Filter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records for s1, got %d", len(got))
	}
	// Insertion order preserved.
	if got[0].Type != EventRequested || got[2].Type != EventExecuted {
		t.Errorf("records out of order: %v %v", got[0].Type, got[2].Type)
	}

	got, err = store.Query(ctx, Filter{RequestID: reqID, Type: EventExecuted})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ElapsedMS != 20 {
		t.Errorf("executed record = %+v", got)
	}
}

func TestMemoryStore_QueryLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 10; i++ {
		_ = store.Append(ctx, NewRecord(uuid.New(), "s1", "", "t", nil, EventRequested))
	}
	got, _ := store.Query(ctx, Filter{Limit: 4})
	if len(got) != 4 {
		t.Errorf("limit not applied, got %d records", len(got))
	}
}

func TestMemoryStore_Stats(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id := uuid.New()
	_ = store.Append(ctx, NewRecord(id, "s1", "", "web_search", nil, EventRequested))
	_ = store.Append(ctx, NewRecord(id, "s1", "", "web_search", nil, EventExecuted).WithElapsed(10*time.Millisecond))
	_ = store.Append(ctx, NewRecord(uuid.New(), "s1", "", "shell_execute", nil, EventFailed).WithElapsed(30*time.Millisecond))

	stats, err := store.Stats(ctx, Filter{SessionID: "s1"})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByType["requested"] != 1 || stats.ByType["executed"] != 1 || stats.ByType["failed"] != 1 {
		t.Errorf("by_type = %v", stats.ByType)
	}
	if stats.ByTool["web_search"] != 2 {
		t.Errorf("by_tool = %v", stats.ByTool)
	}
	if stats.AvgElapsedMS != 20 {
		t.Errorf("avg elapsed = %v, want 20", stats.AvgElapsedMS)
	}
}

func TestRecord_ResultTruncation(t *testing.T) {
	long := strings.Repeat("x", 5000)
	rec := NewRecord(uuid.New(), "s1", "", "t", nil, EventExecuted).WithResult(long, time.Second)
	if len(rec.Result) != maxResultBytes {
		t.Errorf("result length = %d, want %d", len(rec.Result), maxResultBytes)
	}
	if rec.ElapsedMS != 1000 {
		t.Errorf("elapsed = %d", rec.ElapsedMS)
	}
}

func TestEventType_Terminal(t *testing.T) {
	for _, typ := range []EventType{EventExecuted, EventFailed, EventRejected, EventBlocked} {
		if !typ.Terminal() {
			t.Errorf("%s should be terminal", typ)
		}
	}
	for _, typ := range []EventType{EventRequested, EventAuthorized} {
		if typ.Terminal() {
			t.Errorf("%s should not be terminal", typ)
		}
	}
}

// failingStore always errors on Append.
type failingStore struct{ MemoryStore }

func (f *failingStore) Append(context.Context, Record) error {
	return errors.New("sink unavailable")
}

func TestTrail_AppendFailClosed(t *testing.T) {
	trail := NewTrail(&failingStore{}, slog.New(slog.DiscardHandler))
	err := trail.Append(context.Background(), NewRecord(uuid.New(), "s1", "", "t", nil, EventRequested))
	if err == nil {
		t.Fatal("append failure must propagate to the caller")
	}
}

func TestFileLog_Append(t *testing.T) {
	path := t.TempDir() + "/audit.jsonl"
	fl, err := NewFileLog(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fl.Close()

	rec := NewRecord(uuid.New(), "s1", "", "web_search", map[string]any{"query": "go"}, EventRequested)
	if err := fl.Append(rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	trail := NewTrail(NewMemoryStore(), slog.New(slog.DiscardHandler)).WithMirror(fl)
	if err := trail.Append(context.Background(), rec); err != nil {
		t.Fatalf("trail append: %v", err)
	}
}
