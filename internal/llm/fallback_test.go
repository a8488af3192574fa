package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type scriptedProvider struct {
	name  string
	resp  *Response
	err   error
	calls int
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) SendMessage(context.Context, *Request) (*Response, error) {
	s.calls++
	return s.resp, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackProvider_PrimaryAnswers(t *testing.T) {
	primary := &scriptedProvider{name: "a", resp: &Response{StopReason: "end_turn"}}
	backup := &scriptedProvider{name: "b"}
	f := NewFallbackProvider([]Provider{primary, backup}, discardLogger())

	resp, err := f.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp != primary.resp {
		t.Error("response did not come from the primary")
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times, want 0", backup.calls)
	}
}

func TestFallbackProvider_WalksChainOnFailure(t *testing.T) {
	primary := &scriptedProvider{name: "a", err: errors.New("boom")}
	backup := &scriptedProvider{name: "b", resp: &Response{StopReason: "end_turn"}}
	f := NewFallbackProvider([]Provider{primary, backup}, discardLogger())

	resp, err := f.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp != backup.resp {
		t.Error("response did not come from the backup")
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, backup.calls)
	}
}

func TestFallbackProvider_AllFail(t *testing.T) {
	a := &scriptedProvider{name: "a", err: errors.New("first")}
	b := &scriptedProvider{name: "b", err: errors.New("second")}
	f := NewFallbackProvider([]Provider{a, b}, discardLogger())

	_, err := f.SendMessage(context.Background(), &Request{})
	if err == nil {
		t.Fatal("want error when every provider fails")
	}
	if !strings.Contains(err.Error(), "all 2 providers failed") {
		t.Errorf("error = %q", err)
	}
	if !errors.Is(err, b.err) {
		t.Error("last provider error not wrapped")
	}
}

func TestFallbackProvider_CancellationStopsWalk(t *testing.T) {
	a := &scriptedProvider{name: "a", err: context.Canceled}
	b := &scriptedProvider{name: "b", resp: &Response{}}
	f := NewFallbackProvider([]Provider{a, b}, discardLogger())

	_, err := f.SendMessage(context.Background(), &Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.calls != 0 {
		t.Errorf("backup called %d times after cancellation, want 0", b.calls)
	}
}

func TestFallbackProvider_Name(t *testing.T) {
	f := NewFallbackProvider([]Provider{&scriptedProvider{name: "anthropic"}}, discardLogger())
	if got := f.Name(); got != "anthropic+fallback" {
		t.Errorf("Name = %q", got)
	}
}

func TestNewFallbackProvider_EmptyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("empty chain did not panic")
		}
	}()
	NewFallbackProvider(nil, discardLogger())
}
