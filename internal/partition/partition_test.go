package partition_test

import (
	"testing"

	"github.com/ldtc-labs/ldtcguard/internal/partition"
)

func TestNew_ComplementIsExOfC(t *testing.T) {
	m := partition.New(5, []int{3, 1, 1})
	p := m.Get()
	if got := p.C; !equalInts(got, []int{1, 3}) {
		t.Errorf("C = %v, want [1 3] (deduped+sorted)", got)
	}
	if got := p.Ex; !equalInts(got, []int{0, 2, 4}) {
		t.Errorf("Ex = %v, want [0 2 4]", got)
	}
}

func TestMaybeRegrow_FrozenIsNoOp(t *testing.T) {
	m := partition.New(4, []int{0})
	m.Freeze(true)
	flip := m.MaybeRegrow([]int{0, 1}, 10, 0.5, 1)
	if flip != nil {
		t.Fatal("expected no flip while frozen")
	}
	if got := m.Get().C; !equalInts(got, []int{0}) {
		t.Errorf("C changed while frozen: %v", got)
	}
}

func TestMaybeRegrow_SameAsCurrentResetsPending(t *testing.T) {
	m := partition.New(4, []int{0})
	m.MaybeRegrow([]int{1}, 10, 0.5, 3) // build streak 1
	flip := m.MaybeRegrow([]int{0}, 10, 0.5, 3)
	if flip != nil {
		t.Fatal("suggesting the current C must never flip")
	}
}

func TestMaybeRegrow_RequiresConsecutiveStreak(t *testing.T) {
	m := partition.New(4, []int{0})
	if flip := m.MaybeRegrow([]int{1}, 1.0, 0.5, 3); flip != nil {
		t.Fatal("flip should not commit before reaching consecutive_required")
	}
	if flip := m.MaybeRegrow([]int{1}, 1.0, 0.5, 3); flip != nil {
		t.Fatal("flip should not commit on second consecutive suggestion (need 3)")
	}
	flip := m.MaybeRegrow([]int{1}, 1.0, 0.5, 3)
	if flip == nil {
		t.Fatal("expected flip to commit on third consecutive sufficient suggestion")
	}
	if got := m.Get().C; !equalInts(got, []int{1}) {
		t.Errorf("C after flip = %v, want [1]", got)
	}
	if m.Get().Flips != 1 {
		t.Errorf("Flips = %d, want 1", m.Get().Flips)
	}
}

func TestMaybeRegrow_InsufficientGainResetsStreak(t *testing.T) {
	m := partition.New(4, []int{0})
	m.MaybeRegrow([]int{1}, 1.0, 0.5, 3)
	// Insufficient gain on the second call resets the streak to 0.
	m.MaybeRegrow([]int{1}, 0.1, 0.5, 3)
	flip := m.MaybeRegrow([]int{1}, 1.0, 0.5, 3)
	if flip != nil {
		t.Fatal("streak should have been reset by the insufficient-gain suggestion")
	}
}

func TestMaybeRegrow_DifferentSuggestionResetsStreak(t *testing.T) {
	m := partition.New(5, []int{0})
	m.MaybeRegrow([]int{1}, 1.0, 0.5, 3)
	m.MaybeRegrow([]int{2}, 1.0, 0.5, 3) // different suggestion: streak resets to 1
	flip := m.MaybeRegrow([]int{2}, 1.0, 0.5, 3)
	if flip != nil {
		t.Fatal("expected streak 2, not enough to commit at consecutive_required=3")
	}
	flip = m.MaybeRegrow([]int{2}, 1.0, 0.5, 3)
	if flip == nil {
		t.Fatal("expected flip to commit on the third consecutive suggestion of {2}")
	}
}

func TestGreedySuggestC_AddsChannelsUntilMarginGainBelowTheta(t *testing.T) {
	// Candidate channel 1 raises M a lot; channel 2 raises it only a little.
	eval := func(c []int) float64 {
		var m float64
		for _, idx := range c {
			switch idx {
			case 0:
				m += 1.0
			case 1:
				m += 5.0
			case 2:
				m += 0.01
			}
		}
		return m
	}
	suggested, deltaM := partition.GreedySuggestC(3, []int{0}, eval, 0.1, 0.0, 0)
	if !equalInts(suggested, []int{0, 1}) {
		t.Errorf("suggested C = %v, want [0 1] (channel 2's gain is below theta)", suggested)
	}
	if deltaM <= 0 {
		t.Errorf("expected positive deltaM, got %f", deltaM)
	}
}

func TestGreedySuggestC_RespectsCap(t *testing.T) {
	eval := func(c []int) float64 { return float64(len(c)) }
	suggested, _ := partition.GreedySuggestC(5, []int{0}, eval, 0.0, 0.0, 2)
	if len(suggested) > 2 {
		t.Errorf("suggested C length %d exceeds cap 2: %v", len(suggested), suggested)
	}
}

func equalInts(a, b []int) bool {
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
