// Package partition maintains the C/Ex channel partition used by the
// estimators to compute loop versus exchange influence, with hysteretic
// greedy regrowth and a freeze flag for Ω perturbation windows.
//
// All Manager fields are protected by one private mutex; external access
// goes through accessor methods that return a snapshot, never the live
// struct.
package partition

import "sync"

// Partition is an immutable snapshot of the current C/Ex assignment.
type Partition struct {
	C      []int
	Ex     []int
	Frozen bool
	Flips  int
}

// FlipInfo records the provenance of the most recently accepted regrowth,
// for audit logging.
type FlipInfo struct {
	Streak   int
	DeltaMDB float64
	NewC     []int
}

// Manager owns the C/Ex partition for N channels and applies hysteresis to
// regrowth suggestions. All fields are protected by mu; do not access them
// directly.
type Manager struct {
	mu sync.Mutex

	n      int
	c      []int
	ex     []int
	frozen bool
	flips  int

	pendingC      []int
	pendingSet    bool
	pendingStreak int

	lastMDB    float64
	lastMDBSet bool

	lastFlip *FlipInfo
}

// New creates a Manager for nSignals channels, seeded with the given C
// indices (deduplicated and sorted); Ex is the complement.
func New(nSignals int, seedC []int) *Manager {
	c := sortedUniqueCopy(seedC)
	return &Manager{
		n:  nSignals,
		c:  c,
		ex: complement(nSignals, c),
	}
}

// Get returns a snapshot of the current partition.
func (m *Manager) Get() Partition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Partition{
		C:      append([]int(nil), m.c...),
		Ex:     append([]int(nil), m.ex...),
		Frozen: m.frozen,
		Flips:  m.flips,
	}
}

// Freeze sets or clears the freeze flag; while frozen, MaybeRegrow is a
// no-op, so no partition flip can occur during an Ω scenario.
func (m *Manager) Freeze(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = on
}

// IsFrozen reports the current freeze flag.
func (m *Manager) IsFrozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen
}

// UpdateCurrentM records the latest measured M_db for the current (C,Ex),
// a diagnostic value consumed by callers computing delta_M_db for the
// next regrowth suggestion.
func (m *Manager) UpdateCurrentM(mDB float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastMDB = mDB
	m.lastMDBSet = true
}

// LastMDB returns the most recently recorded M_db and whether one has ever
// been recorded.
func (m *Manager) LastMDB() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMDB, m.lastMDBSet
}

// MaybeRegrow considers adopting suggestedC under hysteresis on the
// loop-dominance gain deltaMDB: ignored while frozen; an identical
// suggestion resets the
// pending streak; a sufficient, persistent suggestion increments it; once
// the streak reaches consecutiveRequired, the new C is committed
// atomically, flips is incremented, and the accepted flip's provenance is
// recorded for the caller to audit.
//
// Returns the FlipInfo if a flip was committed this call, or nil.
func (m *Manager) MaybeRegrow(suggestedC []int, deltaMDB, deltaMMinDB float64, consecutiveRequired int) *FlipInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		return nil
	}

	newC := sortedUniqueCopy(suggestedC)
	if intsEqual(newC, m.c) {
		m.pendingC = nil
		m.pendingSet = false
		m.pendingStreak = 0
		return nil
	}

	sufficient := deltaMDB >= deltaMMinDB
	samePending := m.pendingSet && intsEqual(m.pendingC, newC)
	if sufficient && (samePending || !m.pendingSet) {
		m.pendingC = newC
		m.pendingSet = true
		m.pendingStreak++
	} else {
		m.pendingC = newC
		m.pendingSet = true
		if sufficient {
			m.pendingStreak = 1
		} else {
			m.pendingStreak = 0
		}
	}

	if m.pendingStreak >= consecutiveRequired {
		info := &FlipInfo{
			Streak:   m.pendingStreak,
			DeltaMDB: deltaMDB,
			NewC:     append([]int(nil), newC...),
		}
		m.c = newC
		m.ex = complement(m.n, newC)
		m.flips++
		m.pendingC = nil
		m.pendingSet = false
		m.pendingStreak = 0
		m.lastFlip = info
		return info
	}
	return nil
}

// LastFlip returns the provenance of the most recently accepted flip, or
// nil if none has occurred yet.
func (m *Manager) LastFlip() *FlipInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastFlip == nil {
		return nil
	}
	cp := *m.lastFlip
	cp.NewC = append([]int(nil), m.lastFlip.NewC...)
	return &cp
}

func sortedUniqueCopy(xs []int) []int {
	seen := make(map[int]struct{}, len(xs))
	out := make([]int, 0, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func complement(n int, c []int) []int {
	in := make(map[int]struct{}, len(c))
	for _, v := range c {
		in[v] = struct{}{}
	}
	out := make([]int, 0, n-len(c))
	for i := 0; i < n; i++ {
		if _, ok := in[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
