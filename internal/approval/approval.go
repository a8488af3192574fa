// Package approval implements the in-memory rendezvous between an execution
// turn that suspends on a proposed action and the decision that arrives
// through an independent request, possibly on a different transport
// connection than the one streaming the turn.
//
// Each pending action owns a single-resolution slot. The suspended turn
// blocks on Waiter.Await without holding any lock; the decision side calls
// Resolve from its own goroutine. The two communicate solely through the
// slot's buffered channel.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/neurovexon/axon/internal/permission"
)

var (
	ErrDuplicateRequest = errors.New("approval request already registered")
	ErrNotFound         = errors.New("approval request not found")
	ErrAlreadyResolved  = errors.New("approval request already resolved")
	ErrTimedOut         = errors.New("approval request timed out")
	ErrCancelled        = errors.New("approval request cancelled")
)

// Request carries the context shown to whoever decides on the pending action.
type Request struct {
	ID          string
	SessionID   string
	Tool        string
	Params      map[string]any
	RiskLevel   string
	Description string
}

// Pending is a snapshot of an unresolved slot, for listing in UIs.
type Pending struct {
	Request
	CreatedAt time.Time
	ExpiresAt time.Time
}

// outcome is what a waiter receives: either a decision or a lifecycle error.
type outcome struct {
	decision   permission.Decision
	resolvedBy string
	err        error
}

type slot struct {
	req       Request
	createdAt time.Time
	ch        chan outcome // buffered(1): resolution never blocks the decider
	done      bool         // resolution delivered (resolve, cancel, or sweep)
}

// Gateway owns the slot table. Safe for concurrent registration, resolution,
// and cancellation; the table lock is never held across a wait.
type Gateway struct {
	mu     sync.Mutex
	slots  map[string]*slot
	expiry time.Duration
	logger *slog.Logger
}

// NewGateway creates a gateway whose slots expire after the given duration
// when swept. Expiry bounds steady-state memory for abandoned turns.
func NewGateway(expiry time.Duration, logger *slog.Logger) *Gateway {
	return &Gateway{
		slots:  make(map[string]*slot),
		expiry: expiry,
		logger: logger,
	}
}

// Waiter is the suspended side's handle on a registered slot.
type Waiter struct {
	g  *Gateway
	id string
	ch chan outcome
}

// Register creates a single-resolution slot for the request ID.
// Returns ErrDuplicateRequest if the ID is already registered — a programming
// error, not a user condition.
func (g *Gateway) Register(req Request) (*Waiter, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.slots[req.ID]; exists {
		return nil, ErrDuplicateRequest
	}

	s := &slot{
		req:       req,
		createdAt: time.Now().UTC(),
		ch:        make(chan outcome, 1),
	}
	g.slots[req.ID] = s

	g.logger.Info("approval slot registered",
		slog.String("request_id", req.ID),
		slog.String("session_id", req.SessionID),
		slog.String("tool", req.Tool),
		slog.String("risk", req.RiskLevel),
	)

	return &Waiter{g: g, id: req.ID, ch: s.ch}, nil
}

// Resolve delivers a decision to the slot. Resolving twice is rejected with
// ErrAlreadyResolved, never overwritten. An unknown or expired ID yields
// ErrNotFound.
func (g *Gateway) Resolve(requestID string, decision permission.Decision, resolvedBy string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.slots[requestID]
	if !ok {
		return ErrNotFound
	}
	if s.done {
		return ErrAlreadyResolved
	}

	s.done = true
	s.ch <- outcome{decision: decision, resolvedBy: resolvedBy}

	g.logger.Info("approval slot resolved",
		slog.String("request_id", requestID),
		slog.String("decision", string(decision)),
		slog.String("resolved_by", resolvedBy),
	)
	return nil
}

// Cancel removes the slot and unblocks any waiter with ErrCancelled.
// Invoked by turn cleanup when the owning caller disconnects.
func (g *Gateway) Cancel(requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.slots[requestID]
	if !ok {
		return
	}
	if !s.done {
		s.done = true
		s.ch <- outcome{err: ErrCancelled}
	}
	delete(g.slots, requestID)

	g.logger.Info("approval slot cancelled", slog.String("request_id", requestID))
}

// Await blocks until the slot is resolved, the timeout elapses, or ctx is
// cancelled. On timeout the slot is removed: the decision window for this
// specific request is closed, but the action name is not blocked.
func (w *Waiter) Await(ctx context.Context, timeout time.Duration) (permission.Decision, string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-w.ch:
		if out.err != nil {
			return "", "", out.err
		}
		// The resolved slot is retained until swept so a late duplicate
		// decision maps to ErrAlreadyResolved rather than ErrNotFound.
		return out.decision, out.resolvedBy, nil

	case <-timer.C:
		if out, raced := w.g.expire(w.id, w.ch); raced {
			if out.err != nil {
				return "", "", out.err
			}
			return out.decision, out.resolvedBy, nil
		}
		return "", "", ErrTimedOut

	case <-ctx.Done():
		if out, raced := w.g.expire(w.id, w.ch); raced {
			if out.err != nil {
				return "", "", out.err
			}
			return out.decision, out.resolvedBy, nil
		}
		return "", "", ErrCancelled
	}
}

// expire removes the slot on the waiter's timeout/cancel path. If another
// delivery raced in after the timer fired but before the lock was taken,
// its buffered outcome is drained and wins, so the waiter sees the true
// reason rather than a default.
func (g *Gateway) expire(id string, ch chan outcome) (outcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.slots[id]; ok && s.done {
		// Resolution won the race; keep the resolved slot for duplicate
		// detection and hand the decision to the waiter.
		return <-ch, true
	}

	// Cancel or Sweep may already have removed the slot and buffered its
	// outcome (ErrCancelled / ErrTimedOut) for this waiter.
	select {
	case out := <-ch:
		return out, true
	default:
	}

	delete(g.slots, id)
	return outcome{}, false
}

// Pending returns a snapshot of all unresolved slots.
func (g *Gateway) Pending() []Pending {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Pending, 0, len(g.slots))
	for _, s := range g.slots {
		if s.done {
			continue
		}
		out = append(out, Pending{
			Request:   s.req,
			CreatedAt: s.createdAt,
			ExpiresAt: s.createdAt.Add(g.expiry),
		})
	}
	return out
}

// CancelSession cancels every unresolved slot belonging to the session.
func (g *Gateway) CancelSession(sessionID string) {
	g.mu.Lock()
	var ids []string
	for id, s := range g.slots {
		if s.req.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	g.mu.Unlock()

	for _, id := range ids {
		g.Cancel(id)
	}
}

// Sweep removes slots that exceeded the expiry even if no caller is actively
// awaiting them, unblocking any waiter with ErrTimedOut. Resolved slots whose
// waiter never consumed them are dropped once stale. Returns the number of
// unresolved slots that expired.
func (g *Gateway) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	expired := 0
	now := time.Now().UTC()
	for id, s := range g.slots {
		if !s.done && now.After(s.createdAt.Add(g.expiry)) {
			s.done = true
			s.ch <- outcome{err: ErrTimedOut}
			delete(g.slots, id)
			expired++
			g.logger.Info("approval slot expired", slog.String("request_id", id))
			continue
		}
		if s.done && now.After(s.createdAt.Add(2*g.expiry)) {
			delete(g.slots, id)
		}
	}
	return expired
}

// StartSweep runs Sweep periodically until ctx is cancelled.
// Returns a cancel function to stop the goroutine.
func (g *Gateway) StartSweep(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Sweep()
			}
		}
	}()
	return cancel
}
