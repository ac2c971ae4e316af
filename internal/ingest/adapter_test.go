package ingest_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ldtc-labs/ldtcguard/internal/ingest"
)

var channels = []string{"E", "T", "R", "demand", "io", "H"}

func TestReadState_NeverSeenIsNaN(t *testing.T) {
	a := ingest.New(channels, time.Second, nil)
	state := a.ReadState(time.Now())
	for _, ch := range channels {
		if !math.IsNaN(state[ch]) {
			t.Errorf("channel %s never observed should read NaN, got %v", ch, state[ch])
		}
	}
	if !ingest.HasNaN(state) {
		t.Error("HasNaN should report the untouched state")
	}
}

func TestReadState_FreshValuesSurvive(t *testing.T) {
	a := ingest.New(channels, time.Second, nil)
	now := time.Now()
	a.Update(map[string]float64{"E": 0.5, "T": 0.2, "R": 0.9, "demand": 0.1, "io": 0.3, "H": 0.8}, now)

	state := a.ReadState(now.Add(100 * time.Millisecond))
	if ingest.HasNaN(state) {
		t.Fatalf("fresh telemetry should carry no NaN: %v", state)
	}
	if state["E"] != 0.5 || state["H"] != 0.8 {
		t.Errorf("values lost: %v", state)
	}
}

func TestReadState_StaleChannelGoesNaN(t *testing.T) {
	a := ingest.New(channels, time.Second, nil)
	now := time.Now()
	a.Update(map[string]float64{"E": 0.5}, now)

	state := a.ReadState(now.Add(2 * time.Second))
	if !math.IsNaN(state["E"]) {
		t.Errorf("E older than timeout should read NaN, got %v", state["E"])
	}
}

func TestUpdate_ClampsToUnitInterval(t *testing.T) {
	a := ingest.New(channels, time.Second, nil)
	now := time.Now()
	a.Update(map[string]float64{"E": 1.7, "T": -0.4}, now)
	state := a.ReadState(now)
	if state["E"] != 1.0 {
		t.Errorf("E should clamp to 1, got %v", state["E"])
	}
	if state["T"] != 0.0 {
		t.Errorf("T should clamp to 0, got %v", state["T"])
	}
}

func TestUpdate_IgnoresUnknownChannels(t *testing.T) {
	a := ingest.New(channels, time.Second, nil)
	now := time.Now()
	a.Update(map[string]float64{"bogus": 0.5, "E": 0.3}, now)
	state := a.ReadState(now)
	if _, ok := state["bogus"]; ok {
		t.Error("unknown channel leaked into state")
	}
	if state["E"] != 0.3 {
		t.Errorf("recognized channel lost: %v", state["E"])
	}
}

func TestRunLineReader_DropsMalformedLines(t *testing.T) {
	a := ingest.New(channels, time.Minute, nil)
	input := strings.Join([]string{
		`{"E": 0.4, "T": 0.5}`,
		`this is not json`,
		``,
		`{"io": 0.6}`,
	}, "\n")
	a.RunLineReader(strings.NewReader(input))

	state := a.ReadState(time.Now())
	if state["E"] != 0.4 || state["T"] != 0.5 || state["io"] != 0.6 {
		t.Errorf("valid lines should survive malformed neighbors: %v", state)
	}
	if !math.IsNaN(state["H"]) {
		t.Error("H never sent should stay NaN")
	}
}
