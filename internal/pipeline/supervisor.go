package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/dispatch-alert-relay/internal/observability"
)

// Poller runs one mailbox watch cycle.
type Poller interface {
	Poll(ctx context.Context) error
	CheckReadiness(ctx context.Context) error
}

// Supervisor keeps the watcher running for the life of the process.
// Nothing a cycle does, not even a panic, stops it; only cancellation does.
type Supervisor struct {
	poller       Poller
	pollInterval time.Duration
	retryDelay   time.Duration
	clock        clockwork.Clock
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewSupervisor creates a Supervisor that idles pollInterval between cycles
// and waits retryDelay after a failed cycle.
func NewSupervisor(p Poller, pollInterval, retryDelay time.Duration, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Supervisor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Supervisor{
		poller:       p,
		pollInterval: pollInterval,
		retryDelay:   retryDelay,
		clock:        clock,
		metrics:      metrics,
		logger:       logger,
	}
}

// CheckReadiness reports ready while the mailbox session is open.
func (s *Supervisor) CheckReadiness(ctx context.Context) error {
	return s.poller.CheckReadiness(ctx)
}

// Run polls until ctx is cancelled. It always returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("watcher started", "poll_interval", s.pollInterval)
	s.metrics.WatcherRunning.Set(1)
	defer s.metrics.WatcherRunning.Set(0)

	for {
		if ctx.Err() != nil {
			s.logger.Info("watcher stopping", "reason", ctx.Err())
			return nil
		}

		if err := s.cycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("watch cycle failed", "error", err)
			if !sleepWithContext(ctx, s.clock, s.retryDelay) {
				continue
			}
		}

		sleepWithContext(ctx, s.clock, s.pollInterval)
	}
}

func (s *Supervisor) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("watch cycle panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("watch cycle panic: %v", r)
		}
	}()
	return s.poller.Poll(ctx)
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
