package ratelimit

import (
	"errors"
	"testing"
)

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("client"); err != nil {
			t.Fatalf("unlimited limiter rejected request %d: %v", i, err)
		}
	}
}

func TestLimiter_BurstExhaustion(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("client"); err != nil {
			t.Fatalf("request %d within burst rejected: %v", i, err)
		}
	}
	if err := l.Allow("client"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("request past burst: err = %v, want ErrRateLimited", err)
	}
}

func TestLimiter_IndependentClients(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("a"); err != nil {
		t.Fatalf("first request for a: %v", err)
	}
	if err := l.Allow("a"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("a should be exhausted, got %v", err)
	}
	// b has its own bucket.
	if err := l.Allow("b"); err != nil {
		t.Errorf("b should be unaffected by a's quota: %v", err)
	}
}

func TestLimiter_DefaultBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 2})

	if err := l.Allow("c"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow("c"); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if err := l.Allow("c"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third request: err = %v, want ErrRateLimited", err)
	}
}
