// Package scheduler runs background maintenance for Axon: expiring pending
// approvals that nobody answered and removing sessions that have been idle
// past their TTL. It deliberately has no execution privileges of its own —
// it only reclaims state, never fires actions.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/neurovexon/axon/internal/agent"
	"github.com/neurovexon/axon/internal/approval"
	"github.com/neurovexon/axon/internal/permission"
)

// Scheduler drives periodic maintenance sweeps.
type Scheduler struct {
	approvals *approval.Gateway
	sessions  agent.SessionStore
	ledger    *permission.Ledger
	metrics   *Metrics
	logger    *slog.Logger

	schedule   string        // cron expression; takes precedence over interval
	interval   time.Duration // fallback when no schedule is configured
	sessionTTL time.Duration // 0 = idle sessions never expire
}

// New creates a Scheduler. approvals, sessions, and ledger may each be nil,
// which disables the corresponding sweep.
func New(approvals *approval.Gateway, sessions agent.SessionStore, ledger *permission.Ledger, metrics *Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		approvals: approvals,
		sessions:  sessions,
		ledger:    ledger,
		metrics:   metrics,
		logger:    logger,
		interval:  time.Minute,
	}
}

// WithSchedule sets a cron expression for the sweep cadence.
func (s *Scheduler) WithSchedule(expr string) *Scheduler {
	s.schedule = expr
	return s
}

// WithInterval sets the sweep interval used when no cron schedule is set.
func (s *Scheduler) WithInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.interval = d
	}
	return s
}

// WithSessionTTL enables idle-session expiry.
func (s *Scheduler) WithSessionTTL(ttl time.Duration) *Scheduler {
	s.sessionTTL = ttl
	return s
}

// Start begins the sweep loop. Returns a stop function.
func (s *Scheduler) Start(ctx context.Context) (func(), error) {
	if s.schedule != "" {
		c := cron.New()
		_, err := c.AddFunc(s.schedule, func() { s.sweep(ctx) })
		if err != nil {
			return nil, err
		}
		c.Start()
		s.logger.InfoContext(ctx, "maintenance scheduler started",
			slog.String("schedule", s.schedule),
		)
		return func() { <-c.Stop().Done() }, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("maintenance scheduler stopped")
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()

	s.logger.InfoContext(ctx, "maintenance scheduler started",
		slog.String("interval", s.interval.String()),
	)
	return cancel, nil
}

// sweep runs one maintenance cycle.
func (s *Scheduler) sweep(ctx context.Context) {
	start := time.Now()

	if s.approvals != nil {
		if expired := s.approvals.Sweep(); expired > 0 {
			s.logger.InfoContext(ctx, "expired pending approvals", slog.Int("count", expired))
			if s.metrics != nil {
				s.metrics.ApprovalsExpired.Add(float64(expired))
			}
		}
	}

	if s.sessions != nil && s.sessionTTL > 0 {
		s.expireIdleSessions(ctx)
	}

	if s.metrics != nil {
		s.metrics.SweepsTotal.Inc()
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
}

// expireIdleSessions deletes sessions whose last activity is older than the
// TTL, along with their standing grants and any approvals still pending.
func (s *Scheduler) expireIdleSessions(ctx context.Context) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing sessions for expiry failed",
			slog.String("error", err.Error()),
		)
		return
	}

	cutoff := time.Now().UTC().Add(-s.sessionTTL)
	expired := 0
	for _, sess := range sessions {
		if sess.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.sessions.Delete(ctx, sess.ID); err != nil {
			s.logger.WarnContext(ctx, "deleting idle session failed",
				slog.String("session_id", sess.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.ledger != nil {
			s.ledger.Clear(sess.ID)
		}
		if s.approvals != nil {
			s.approvals.CancelSession(sess.ID)
		}
		expired++
	}

	if expired > 0 {
		s.logger.InfoContext(ctx, "expired idle sessions", slog.Int("count", expired))
		if s.metrics != nil {
			s.metrics.SessionsExpired.Add(float64(expired))
		}
	}
}
