package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/neurovexon/axon/internal/agent"
	"github.com/neurovexon/axon/internal/approval"
	"github.com/neurovexon/axon/internal/llm"
	"github.com/neurovexon/axon/internal/permission"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubSessions is a SessionStore with controllable timestamps.
type stubSessions struct {
	agent.SessionStore
	sessions []agent.Session
	deleted  []string
}

func (s *stubSessions) List(_ context.Context) ([]agent.Session, error) {
	return s.sessions, nil
}

func (s *stubSessions) Delete(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubSessions) History(_ context.Context, _ string, _ int) ([]llm.Message, error) {
	return nil, nil
}

func TestSweep_ExpiresPendingApprovals(t *testing.T) {
	gw := approval.NewGateway(time.Millisecond, discardLogger())
	w, err := gw.Register(approval.Request{ID: "req-1", SessionID: "s1", Tool: "shell_execute"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	s := New(gw, nil, nil, nil, discardLogger())
	s.sweep(context.Background())

	_, _, err = w.Await(context.Background(), time.Second)
	if !errors.Is(err, approval.ErrTimedOut) {
		t.Errorf("Await after sweep: err = %v, want ErrTimedOut", err)
	}
	if len(gw.Pending()) != 0 {
		t.Errorf("pending slots remain after sweep")
	}
}

func TestSweep_ExpiresIdleSessions(t *testing.T) {
	now := time.Now().UTC()
	store := &stubSessions{
		sessions: []agent.Session{
			{ID: "stale", UpdatedAt: now.Add(-2 * time.Hour)},
			{ID: "fresh", UpdatedAt: now},
		},
	}
	ledger := permission.NewLedger(discardLogger())
	ledger.Record("stale", "shell_execute", permission.DecisionSession)

	s := New(nil, store, ledger, nil, discardLogger()).WithSessionTTL(time.Hour)
	s.sweep(context.Background())

	if len(store.deleted) != 1 || store.deleted[0] != "stale" {
		t.Fatalf("deleted = %v, want [stale]", store.deleted)
	}
	if grants := ledger.Grants("stale"); len(grants) != 0 {
		t.Errorf("stale session grants not cleared: %v", grants)
	}
}

func TestSweep_SessionTTLDisabled(t *testing.T) {
	store := &stubSessions{
		sessions: []agent.Session{
			{ID: "old", UpdatedAt: time.Now().UTC().Add(-24 * time.Hour)},
		},
	}

	s := New(nil, store, nil, nil, discardLogger())
	s.sweep(context.Background())

	if len(store.deleted) != 0 {
		t.Errorf("sessions deleted with TTL disabled: %v", store.deleted)
	}
}

func TestStart_InvalidSchedule(t *testing.T) {
	s := New(nil, nil, nil, nil, discardLogger()).WithSchedule("not a cron expr")
	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestStart_TickerMode(t *testing.T) {
	gw := approval.NewGateway(time.Millisecond, discardLogger())
	if _, err := gw.Register(approval.Request{ID: "req-1", SessionID: "s1", Tool: "web_fetch"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	s := New(gw, nil, nil, nil, discardLogger()).WithInterval(10 * time.Millisecond)
	stop, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	deadline := time.After(2 * time.Second)
	for len(gw.Pending()) != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never expired the pending slot")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
