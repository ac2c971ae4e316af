package arbiter_test

import (
	"testing"

	"github.com/ldtc-labs/ldtcguard/internal/arbiter"
)

func defaultConfig() arbiter.Config {
	return arbiter.Config{MminDB: 3.0, SocFloor: 0.15, TempCeiling: 0.85}
}

func TestDecide_NoCommandAlwaysAccepts(t *testing.T) {
	a := arbiter.New(defaultConfig(), nil)
	d := a.Decide(arbiter.State{E: 0.0, T: 1.0}, -100, "")
	if !d.Accept || d.Reason != arbiter.ReasonNoCommand {
		t.Fatalf("got %+v, want accept=true reason=no_cmd", d)
	}
}

func TestDecide_RefusesBelowSoCFloor(t *testing.T) {
	a := arbiter.New(defaultConfig(), nil)
	d := a.Decide(arbiter.State{E: 0.1, T: 0.2}, 10, "actuate")
	if d.Accept || d.Reason != arbiter.ReasonSoCFloor || d.TrefuseMs != 2 {
		t.Fatalf("got %+v, want refused soc_floor trefuse_ms=2", d)
	}
}

func TestDecide_RefusesAtTempCeiling(t *testing.T) {
	a := arbiter.New(defaultConfig(), nil)
	d := a.Decide(arbiter.State{E: 0.5, T: 0.9}, 10, "actuate")
	if d.Accept || d.Reason != arbiter.ReasonOverheat {
		t.Fatalf("got %+v, want refused overheat", d)
	}
}

func TestDecide_RefusesBelowMMargin(t *testing.T) {
	a := arbiter.New(defaultConfig(), nil)
	d := a.Decide(arbiter.State{E: 0.5, T: 0.2}, 1.0, "actuate")
	if d.Accept || d.Reason != arbiter.ReasonMMargin {
		t.Fatalf("got %+v, want refused M_margin", d)
	}
}

func TestDecide_AcceptsWhenAllChecksPass(t *testing.T) {
	a := arbiter.New(defaultConfig(), nil)
	d := a.Decide(arbiter.State{E: 0.5, T: 0.2}, 10, "actuate")
	if !d.Accept || d.Reason != arbiter.ReasonOK || d.TrefuseMs != 1 {
		t.Fatalf("got %+v, want accept ok trefuse_ms=1", d)
	}
}

func TestDecide_HashChainsAcrossCalls(t *testing.T) {
	a := arbiter.New(defaultConfig(), nil)
	first := a.Decide(arbiter.State{E: 0.5, T: 0.2}, 10, "actuate")
	if first.ParentHash != "GENESIS" {
		t.Fatalf("first ParentHash = %q, want GENESIS", first.ParentHash)
	}
	second := a.Decide(arbiter.State{E: 0.5, T: 0.2}, 10, "actuate")
	if second.ParentHash != first.DecisionHash {
		t.Fatalf("second ParentHash = %q, want %q", second.ParentHash, first.DecisionHash)
	}
	if a.LastHash() != second.DecisionHash {
		t.Fatalf("LastHash() = %q, want %q", a.LastHash(), second.DecisionHash)
	}
}

func TestStats_CountsDecisionsAndRefusals(t *testing.T) {
	a := arbiter.New(defaultConfig(), nil)
	a.Decide(arbiter.State{E: 0.5, T: 0.2}, 10, "actuate")
	a.Decide(arbiter.State{E: 0.1, T: 0.2}, 10, "actuate")
	a.Decide(arbiter.State{E: 0.5, T: 0.2}, 10, "")

	st := a.Stats()
	if st.Decisions != 2 {
		t.Errorf("Decisions = %d, want 2 (no_cmd does not chain)", st.Decisions)
	}
	if st.Refusals != 1 {
		t.Errorf("Refusals = %d, want 1", st.Refusals)
	}
}
