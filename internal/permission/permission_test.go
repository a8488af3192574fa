package permission

import (
	"log/slog"
	"testing"
)

func newTestLedger() *Ledger {
	return NewLedger(slog.New(slog.DiscardHandler))
}

func TestLedger_Unknown(t *testing.T) {
	l := newTestLedger()
	if _, ok := l.Check("s1", "web_search"); ok {
		t.Fatal("empty ledger should report unknown")
	}
}

func TestLedger_OnceIsConsumed(t *testing.T) {
	l := newTestLedger()
	l.Record("s1", "shell_execute", DecisionOnce)

	d, ok := l.Check("s1", "shell_execute")
	if !ok || d != DecisionOnce {
		t.Fatalf("first check = %v %v, want once grant", d, ok)
	}
	// The once grant is single-use: a second identical check must ask again.
	if _, ok := l.Check("s1", "shell_execute"); ok {
		t.Fatal("once grant must be consumed by exactly one check")
	}
}

func TestLedger_SessionPersists(t *testing.T) {
	l := newTestLedger()
	l.Record("s1", "web_fetch", DecisionSession)

	for i := 0; i < 3; i++ {
		d, ok := l.Check("s1", "web_fetch")
		if !ok || d != DecisionSession {
			t.Fatalf("check %d = %v %v, want persistent session grant", i, d, ok)
		}
	}
	// Other sessions are isolated.
	if _, ok := l.Check("s2", "web_fetch"); ok {
		t.Fatal("grant leaked across sessions")
	}
}

func TestLedger_NeverPersists(t *testing.T) {
	l := newTestLedger()
	l.Record("s1", "shell_execute", DecisionNever)

	for i := 0; i < 2; i++ {
		d, ok := l.Check("s1", "shell_execute")
		if !ok || d != DecisionNever {
			t.Fatalf("check %d = %v %v, want never", i, d, ok)
		}
	}
}

func TestLedger_PeekDoesNotConsume(t *testing.T) {
	l := newTestLedger()
	l.Record("s1", "shell_execute", DecisionOnce)

	if d, ok := l.Peek("s1", "shell_execute"); !ok || d != DecisionOnce {
		t.Fatalf("peek = %v %v", d, ok)
	}
	if d, ok := l.Check("s1", "shell_execute"); !ok || d != DecisionOnce {
		t.Fatalf("check after peek = %v %v, grant should still be present", d, ok)
	}
}

func TestLedger_Clear(t *testing.T) {
	l := newTestLedger()
	l.Record("s1", "web_fetch", DecisionSession)
	l.Record("s1", "shell_execute", DecisionNever)
	l.Clear("s1")

	if _, ok := l.Check("s1", "web_fetch"); ok {
		t.Fatal("clear did not remove session grant")
	}
	if _, ok := l.Check("s1", "shell_execute"); ok {
		t.Fatal("clear did not remove never entry")
	}
	if len(l.Grants("s1")) != 0 {
		t.Fatal("grants remain after clear")
	}
}

func TestDecision_Valid(t *testing.T) {
	for _, d := range []Decision{DecisionOnce, DecisionSession, DecisionNever} {
		if !d.Valid() {
			t.Errorf("%s should be valid", d)
		}
	}
	if Decision("always").Valid() {
		t.Error("unknown decision should be invalid")
	}
}
