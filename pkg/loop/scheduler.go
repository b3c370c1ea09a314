package loop

import (
	"context"
	"sync"
	"time"
)

// Scheduler is the host's "next tick" primitive. RequestTick arranges for fn
// to run once on a later tick; ticks never overlap.
type Scheduler interface {
	RequestTick(fn func(now time.Time))
}

// TickerScheduler runs requested ticks from a fixed-rate ticker, like a
// display refresh.
type TickerScheduler struct {
	interval time.Duration

	mu      sync.Mutex
	pending func(time.Time)
}

// NewTickerScheduler creates a scheduler ticking every interval.
func NewTickerScheduler(interval time.Duration) *TickerScheduler {
	return &TickerScheduler{interval: interval}
}

// RequestTick implements Scheduler. A second request before the next tick
// replaces the first.
func (s *TickerScheduler) RequestTick(fn func(now time.Time)) {
	s.mu.Lock()
	s.pending = fn
	s.mu.Unlock()
}

// Run drives ticks until ctx is done.
func (s *TickerScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.mu.Lock()
			fn := s.pending
			s.pending = nil
			s.mu.Unlock()
			if fn != nil {
				fn(now)
			}
		}
	}
}

// ManualScheduler runs ticks only when stepped. Tests and replay use it to
// drive the loop from a synthetic clock.
type ManualScheduler struct {
	mu      sync.Mutex
	pending func(time.Time)
}

// NewManualScheduler creates an idle manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// RequestTick implements Scheduler.
func (s *ManualScheduler) RequestTick(fn func(now time.Time)) {
	s.mu.Lock()
	s.pending = fn
	s.mu.Unlock()
}

// Step runs the pending tick at now. It reports false when nothing was
// requested, which means the loop has stopped.
func (s *ManualScheduler) Step(now time.Time) bool {
	s.mu.Lock()
	fn := s.pending
	s.pending = nil
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(now)
	return true
}

// Pending reports whether a tick is requested.
func (s *ManualScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}
