package scheduler

import (
	"sync"
	"time"

	"github.com/ldtc-labs/ldtcguard/internal/audit"
)

// dtSetter is the minimal Scheduler surface DtGuard needs, named
// separately so tests can supply a fake.
type dtSetter interface {
	SetDt(newDt time.Duration) time.Duration
}

// DtGuardConfig carries the rate-limit constraints, mirroring
// internal/config.DtGuardConfig.
type DtGuardConfig struct {
	MaxChangesPerHour        int
	MinSecondsBetweenChanges time.Duration
}

// DtGuard is the sole privileged pathway for mutating a Scheduler's
// period. It enforces an hourly change quota and a minimum spacing
// between changes, audit-logs every accepted change, and invalidates the
// run (via the audit log) on a refused attempt. The hourly quota uses a
// fixed window, not a sliding one: the count resets once an hour has
// passed since the window began, so changes on either side of a reset are
// counted in different windows.
type DtGuard struct {
	mu sync.Mutex

	audit *audit.Log
	cfg   DtGuardConfig

	lastChange      time.Time
	hasLastChange   bool
	windowStart     time.Time
	changesInWindow int
	invalidated     bool
}

// NewDtGuard creates a DtGuard writing violations and accepted changes to
// log.
func NewDtGuard(log *audit.Log, cfg DtGuardConfig) *DtGuard {
	return &DtGuard{audit: log, cfg: cfg, windowStart: time.Now()}
}

func (g *DtGuard) resetWindowIfNeeded(now time.Time) {
	if now.Sub(g.windowStart) >= time.Hour {
		g.windowStart = now
		g.changesInWindow = 0
	}
}

// CanChange reports whether a Δt change is currently permissible under
// the hourly quota and minimum-spacing constraints.
func (g *DtGuard) CanChange(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canChangeLocked(now)
}

func (g *DtGuard) canChangeLocked(now time.Time) bool {
	g.resetWindowIfNeeded(now)
	if g.changesInWindow >= g.cfg.MaxChangesPerHour {
		return false
	}
	if g.hasLastChange && now.Sub(g.lastChange) < g.cfg.MinSecondsBetweenChanges {
		return false
	}
	return true
}

// ChangeDt attempts to set sched's period to newDt. On success it audits
// a `dt_changed` record and returns true. On refusal it audits a
// `run_invalidated` record with reason `dt_change_rate_limit`, sets the
// invalidated flag, and returns false.
func (g *DtGuard) ChangeDt(sched dtSetter, newDt time.Duration, policyDigest string) bool {
	now := time.Now()

	g.mu.Lock()
	g.resetWindowIfNeeded(now)
	if !g.canChangeLocked(now) {
		changes := g.changesInWindow
		g.invalidated = true
		g.mu.Unlock()
		g.audit.Append(audit.Now(), "run_invalidated", map[string]any{
			"reason":            "dt_change_rate_limit",
			"changes_this_hour": changes,
			"min_gap_s":         g.cfg.MinSecondsBetweenChanges.Seconds(),
			"reason_human":      "Δt edit rate exceeded (limit enforced per hour and minimum spacing)",
		})
		return false
	}
	g.mu.Unlock()

	prev := sched.SetDt(newDt)

	details := map[string]any{
		"old_dt": prev.Seconds(),
		"new_dt": newDt.Seconds(),
	}
	if policyDigest != "" {
		details["policy_digest"] = policyDigest
	}
	g.audit.Append(audit.Now(), "dt_changed", details)

	g.mu.Lock()
	g.lastChange = now
	g.hasLastChange = true
	g.changesInWindow++
	g.mu.Unlock()

	return true
}

// Invalidated reports whether a Δt governance violation has invalidated
// the run.
func (g *DtGuard) Invalidated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.invalidated
}
