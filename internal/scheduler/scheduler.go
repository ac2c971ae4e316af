// Package scheduler drives the measurement pipeline at a nominal fixed
// period and governs changes to that period. The Scheduler owns the tick
// loop; DtGuard is the only component allowed to mutate the period, and
// every accepted or refused mutation goes to the audit log.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Scheduler is a single periodic driver with a nominal period. Only
// DtGuard may call SetDt; Scheduler never changes its own period.
type Scheduler struct {
	mu        sync.Mutex
	dt        time.Duration
	lastTick  time.Time
	jitters   []time.Duration // ring buffer, oldest first
	jitterCap int
}

// New creates a Scheduler with the given nominal period and jitter
// history capacity.
func New(dt time.Duration, jitterCapacity int) *Scheduler {
	if jitterCapacity < 1 {
		jitterCapacity = 1
	}
	return &Scheduler{dt: dt, jitterCap: jitterCapacity}
}

// Dt returns the current nominal period.
func (s *Scheduler) Dt() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dt
}

// SetDt installs a new nominal period and returns the previous one. Only
// the Δt-governance component (DtGuard) may call this.
func (s *Scheduler) SetDt(newDt time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.dt
	s.dt = newDt
	return old
}

// Jitters returns a copy of the rolling jitter history (most recent
// last), for p95 computation by the smell-test engine.
func (s *Scheduler) Jitters() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.jitters...)
}

// recordTick updates the jitter history given the actual tick timestamp.
func (s *Scheduler) recordTick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastTick.IsZero() {
		actual := now.Sub(s.lastTick)
		jitter := actual - s.dt
		s.jitters = append(s.jitters, jitter)
		if len(s.jitters) > s.jitterCap {
			s.jitters = s.jitters[len(s.jitters)-s.jitterCap:]
		}
	}
	s.lastTick = now
}

// Run drives onTick once per tick until ctx is cancelled. It owns all
// per-tick pipeline calls single-threaded, the one primary driver of the
// measurement loop: a tick that overruns its period is
// recorded as jitter but its pipeline call is never pre-empted or split.
// Run re-reads Dt() every iteration so a DtGuard-issued SetDt takes effect
// on the next tick.
func (s *Scheduler) Run(ctx context.Context, onTick func(tick time.Time)) {
	for {
		d := s.Dt()
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case now := <-timer.C:
			s.recordTick(now)
			onTick(now)
		}
	}
}
