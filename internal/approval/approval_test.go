package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/neurovexon/axon/internal/permission"
)

func newTestGateway(expiry time.Duration) *Gateway {
	return NewGateway(expiry, slog.New(slog.DiscardHandler))
}

func TestGateway_RegisterDuplicate(t *testing.T) {
	g := newTestGateway(time.Minute)

	if _, err := g.Register(Request{ID: "req-1", Tool: "shell_execute"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := g.Register(Request{ID: "req-1", Tool: "shell_execute"}); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestGateway_ResolveDeliversDecision(t *testing.T) {
	g := newTestGateway(time.Minute)

	w, err := g.Register(Request{ID: "req-1", SessionID: "s1", Tool: "file_write"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		if err := g.Resolve("req-1", permission.DecisionSession, "operator"); err != nil {
			t.Errorf("resolve: %v", err)
		}
	}()

	decision, by, err := w.Await(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if decision != permission.DecisionSession {
		t.Errorf("decision = %q, want %q", decision, permission.DecisionSession)
	}
	if by != "operator" {
		t.Errorf("resolvedBy = %q, want operator", by)
	}
}

func TestGateway_ResolveUnknown(t *testing.T) {
	g := newTestGateway(time.Minute)

	if err := g.Resolve("missing", permission.DecisionOnce, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGateway_ResolveTwice(t *testing.T) {
	g := newTestGateway(time.Minute)

	w, err := g.Register(Request{ID: "req-1", Tool: "file_write"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := g.Resolve("req-1", permission.DecisionOnce, "a"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if err := g.Resolve("req-1", permission.DecisionNever, "b"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	// First decision is the one delivered.
	decision, _, err := w.Await(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if decision != permission.DecisionOnce {
		t.Errorf("decision = %q, want %q", decision, permission.DecisionOnce)
	}
}

func TestGateway_ResolveAfterConsumed(t *testing.T) {
	g := newTestGateway(time.Minute)

	w, err := g.Register(Request{ID: "req-1", Tool: "file_write"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := g.Resolve("req-1", permission.DecisionOnce, "a"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, _, err := w.Await(context.Background(), time.Second); err != nil {
		t.Fatalf("await: %v", err)
	}

	// A late duplicate still reports conflict, not absence.
	if err := g.Resolve("req-1", permission.DecisionNever, "b"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestGateway_AwaitTimeout(t *testing.T) {
	g := newTestGateway(time.Minute)

	w, err := g.Register(Request{ID: "req-1", Tool: "shell_execute"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, _, err = w.Await(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}

	// Timed-out slot is gone; a late decision finds nothing to resolve.
	if err := g.Resolve("req-1", permission.DecisionOnce, "late"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after timeout, got %v", err)
	}
}

func TestGateway_CancelUnblocksWaiter(t *testing.T) {
	g := newTestGateway(time.Minute)

	w, err := g.Register(Request{ID: "req-1", Tool: "file_write"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		g.Cancel("req-1")
	}()

	_, _, err = w.Await(context.Background(), time.Second)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestGateway_CancelRacingTimeoutReportsCancelled(t *testing.T) {
	g := newTestGateway(time.Minute)

	// Cancel removes the slot and buffers its outcome before Await runs; a
	// zero timeout forces the timer arm to race the delivery. The waiter
	// must still see the buffered cancellation, never a default timeout.
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("req-%d", i)
		w, err := g.Register(Request{ID: id, Tool: "shell_execute"})
		if err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		g.Cancel(id)

		if _, _, err := w.Await(context.Background(), 0); !errors.Is(err, ErrCancelled) {
			t.Fatalf("attempt %d: expected ErrCancelled, got %v", i, err)
		}
	}
}

func TestGateway_ExpireDrainsRacedSweep(t *testing.T) {
	g := newTestGateway(10 * time.Millisecond)

	w, err := g.Register(Request{ID: "req-1", Tool: "shell_execute"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// Sweep expires the slot (buffering ErrTimedOut and deleting it) while
	// the waiter has not yet consumed the outcome.
	time.Sleep(20 * time.Millisecond)
	g.Sweep()

	out, raced := g.expire("req-1", w.ch)
	if !raced {
		t.Fatal("expire did not drain the buffered sweep outcome")
	}
	if !errors.Is(out.err, ErrTimedOut) {
		t.Fatalf("drained outcome = %v, want ErrTimedOut", out.err)
	}
}

func TestGateway_AwaitContextCancelled(t *testing.T) {
	g := newTestGateway(time.Minute)

	w, err := g.Register(Request{ID: "req-1", Tool: "file_write"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err = w.Await(ctx, time.Second)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestGateway_Pending(t *testing.T) {
	g := newTestGateway(time.Minute)

	if _, err := g.Register(Request{ID: "req-1", SessionID: "s1", Tool: "file_write"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := g.Register(Request{ID: "req-2", SessionID: "s2", Tool: "shell_execute"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := g.Resolve("req-2", permission.DecisionOnce, "op"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	pending := g.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}
	if pending[0].ID != "req-1" {
		t.Errorf("pending[0].ID = %q, want req-1", pending[0].ID)
	}
	if pending[0].ExpiresAt.Sub(pending[0].CreatedAt) != time.Minute {
		t.Errorf("expiry window = %v, want 1m", pending[0].ExpiresAt.Sub(pending[0].CreatedAt))
	}
}

func TestGateway_CancelSession(t *testing.T) {
	g := newTestGateway(time.Minute)

	w1, _ := g.Register(Request{ID: "req-1", SessionID: "s1", Tool: "file_write"})
	w2, _ := g.Register(Request{ID: "req-2", SessionID: "s1", Tool: "shell_execute"})
	if _, err := g.Register(Request{ID: "req-3", SessionID: "s2", Tool: "file_read"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	g.CancelSession("s1")

	for _, w := range []*Waiter{w1, w2} {
		if _, _, err := w.Await(context.Background(), time.Second); !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	}
	if len(g.Pending()) != 1 {
		t.Errorf("pending count = %d, want 1", len(g.Pending()))
	}
}

func TestGateway_SweepExpiresAbandonedSlots(t *testing.T) {
	g := newTestGateway(10 * time.Millisecond)

	w, err := g.Register(Request{ID: "req-1", Tool: "shell_execute"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	g.Sweep()

	_, _, err = w.Await(context.Background(), time.Second)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut from swept slot, got %v", err)
	}
	if err := g.Resolve("req-1", permission.DecisionOnce, "late"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after sweep, got %v", err)
	}
}

func TestGateway_SweepDropsStaleResolved(t *testing.T) {
	g := newTestGateway(10 * time.Millisecond)

	if _, err := g.Register(Request{ID: "req-1", Tool: "file_write"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := g.Resolve("req-1", permission.DecisionOnce, "op"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	time.Sleep(25 * time.Millisecond)
	g.Sweep()

	if err := g.Resolve("req-1", permission.DecisionNever, "late"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after stale sweep, got %v", err)
	}
}

func TestGateway_ConcurrentResolvers(t *testing.T) {
	g := newTestGateway(time.Minute)

	w, err := g.Register(Request{ID: "req-1", Tool: "shell_execute"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			results <- g.Resolve("req-1", permission.DecisionOnce, "racer")
		}()
	}

	var wins, conflicts int
	for i := 0; i < 10; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyResolved):
			conflicts++
		default:
			t.Fatalf("unexpected resolve error: %v", err)
		}
	}
	if wins != 1 || conflicts != 9 {
		t.Fatalf("wins = %d conflicts = %d, want 1/9", wins, conflicts)
	}

	if _, _, err := w.Await(context.Background(), time.Second); err != nil {
		t.Fatalf("await: %v", err)
	}
}
