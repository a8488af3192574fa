// Package ratelimit implements a per-client token bucket rate limiter for
// the HTTP gateway. Thread-safe. No background goroutines — tokens are
// refilled lazily on each Allow call, and idle buckets are pruned inline.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a client has exhausted its token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Idle buckets older than this are dropped during the periodic inline prune.
const idleBucketTTL = 10 * time.Minute

// Config configures the token bucket rate limiter.
type Config struct {
	RequestsPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize         int // Maximum tokens in bucket. 0 = defaults to RequestsPerMinute.
}

// Limiter is a per-client token bucket rate limiter. Clients are keyed by
// API key or remote address; each key gets an independent bucket, so one
// client cannot exhaust another's quota.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64 // tokens per second
	burst     float64 // max bucket capacity
	lastPrune time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a rate limiter with the given configuration.
// If RequestsPerMinute is 0, Allow always succeeds (unlimited).
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1 // safety floor
	}
	return &Limiter{
		buckets:   make(map[string]*bucket),
		rate:      float64(cfg.RequestsPerMinute) / 60.0,
		burst:     float64(burst),
		lastPrune: time.Now(),
	}
}

// Allow checks whether the client has tokens remaining.
// Consumes one token on success. Returns ErrRateLimited if the bucket is empty.
func (l *Limiter) Allow(key string) error {
	// Unlimited mode.
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.pruneLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		// First request: start with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	// Refill tokens based on elapsed time.
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now

	// Try to consume one token.
	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// pruneLocked drops buckets idle past the TTL. Runs at most once per TTL,
// so steady traffic pays a map sweep only occasionally.
func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < idleBucketTTL {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > idleBucketTTL {
			delete(l.buckets, key)
		}
	}
	l.lastPrune = now
}
