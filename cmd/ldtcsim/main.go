// Package main — cmd/ldtcsim/main.go
//
// ldtcsim is a synthetic telemetry generator for exercising ldtcguard
// without a physical plant, emitting newline-delimited JSON samples over
// the same {E,T,R,demand,io,H} channel set ldtcguard reads from stdin
// (internal/ingest.Adapter.RunLineReader).
//
// The model is an internal recurrent state driven by its own history (the
// closed loop) plus a leak from independent exogenous drivers (the channel
// exchange), with a named Ω perturbation window that temporarily widens
// the exogenous leak to let an operator drive an SC1 recovery trial
// end-to-end.
//
// Usage:
//
//	ldtcsim -steps 20000 -dt 10ms | ldtcguard -config profile.yaml
//	ldtcsim -omega-name thermal_spike -omega-start 5000 -omega-stop 6000 -omega-factor 6
package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"
)

func main() {
	steps := flag.Int("steps", 20000, "Number of telemetry samples to emit")
	dt := flag.Duration("dt", 10*time.Millisecond, "Wall-clock pacing between samples (0 = no pacing)")
	loopCoupling := flag.Float64("loop-coupling", 0.85, "Self-coupling among E,T,R (closed-loop strength, higher = more dominant)")
	exchangeLeak := flag.Float64("exchange-leak", 0.05, "Baseline leak from demand/io/H into E,T,R")
	noise := flag.Float64("noise", 0.02, "Process noise standard deviation")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	format := flag.String("format", "ndjson", "Output format: ndjson (for piping to ldtcguard) or csv (for inspection)")
	omegaName := flag.String("omega-name", "", "Name of an Ω perturbation scenario to run (empty = none)")
	omegaStart := flag.Int("omega-start", -1, "Step at which the named Ω scenario begins widening exchange-leak")
	omegaStop := flag.Int("omega-stop", -1, "Step at which the named Ω scenario ends")
	omegaFactor := flag.Float64("omega-factor", 8.0, "Multiplier applied to exchange-leak during the Ω scenario")
	flag.Parse()

	if *loopCoupling < 0 || *loopCoupling > 1 {
		fmt.Fprintln(os.Stderr, "ERROR: loop-coupling must be in [0, 1]")
		os.Exit(1)
	}
	if *exchangeLeak < 0 {
		fmt.Fprintln(os.Stderr, "ERROR: exchange-leak must be >= 0")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	sim := newSimulator(*loopCoupling, *exchangeLeak, *noise, rng)

	var writeSample func(s sample) error
	switch *format {
	case "ndjson":
		enc := json.NewEncoder(os.Stdout)
		writeSample = func(s sample) error { return enc.Encode(s.toMap()) }
	case "csv":
		w := csv.NewWriter(os.Stdout)
		_ = w.Write([]string{"step", "E", "T", "R", "demand", "io", "H", "omega_active"})
		writeSample = func(s sample) error {
			defer w.Flush()
			return w.Write([]string{
				strconv.Itoa(s.step),
				strconv.FormatFloat(s.E, 'f', 6, 64),
				strconv.FormatFloat(s.T, 'f', 6, 64),
				strconv.FormatFloat(s.R, 'f', 6, 64),
				strconv.FormatFloat(s.demand, 'f', 6, 64),
				strconv.FormatFloat(s.io, 'f', 6, 64),
				strconv.FormatFloat(s.H, 'f', 6, 64),
				strconv.FormatBool(s.omegaActive),
			})
		}
	default:
		fmt.Fprintf(os.Stderr, "ERROR: unknown -format %q (want ndjson or csv)\n", *format)
		os.Exit(1)
	}

	stderr := bufio.NewWriter(os.Stderr)
	defer stderr.Flush()

	omegaActiveSteps := 0
	for t := 0; t < *steps; t++ {
		omegaActive := *omegaName != "" && *omegaStart >= 0 && t >= *omegaStart && (*omegaStop < 0 || t < *omegaStop)
		if omegaActive {
			omegaActiveSteps++
		}

		leak := *exchangeLeak
		if omegaActive {
			leak *= *omegaFactor
		}
		s := sim.step(t, leak, omegaActive)

		if err := writeSample(s); err != nil {
			fmt.Fprintf(stderr, "ldtcsim: write error at step %d: %v\n", t, err)
			os.Exit(1)
		}
		if *dt > 0 {
			time.Sleep(*dt)
		}
	}

	fmt.Fprintf(stderr, "\n=== ldtcsim run complete ===\n")
	fmt.Fprintf(stderr, "steps:              %d\n", *steps)
	fmt.Fprintf(stderr, "loop_coupling:       %.3f\n", *loopCoupling)
	fmt.Fprintf(stderr, "baseline_exchange_leak: %.3f\n", *exchangeLeak)
	if *omegaName != "" {
		fmt.Fprintf(stderr, "omega scenario %q active for %d/%d steps (factor %.1fx)\n",
			*omegaName, omegaActiveSteps, *steps, *omegaFactor)
	}
}

// sample is one synthetic telemetry observation across the fixed channel
// set {E,T,R,demand,io,H}, each in [0,1].
type sample struct {
	step        int
	E, T, R     float64
	demand      float64
	io          float64
	H           float64
	omegaActive bool
}

func (s sample) toMap() map[string]float64 {
	return map[string]float64{
		"E": s.E, "T": s.T, "R": s.R,
		"demand": s.demand, "io": s.io, "H": s.H,
	}
}

// simulator drives E, T, R as a recurrent system coupled mostly to its own
// history (the closed loop) plus a configurable leak from three
// independent exogenous drivers (demand, io, H).
type simulator struct {
	loopCoupling float64
	baseLeak     float64
	noise        float64
	rng          *rand.Rand

	E, T, R       float64
	demand, io, H float64
}

func newSimulator(loopCoupling, baseLeak, noise float64, rng *rand.Rand) *simulator {
	return &simulator{
		loopCoupling: loopCoupling,
		baseLeak:     baseLeak,
		noise:        noise,
		rng:          rng,
		E:            0.5, T: 0.5, R: 0.5,
		demand: 0.5, io: 0.5, H: 0.5,
	}
}

// step advances the exogenous drivers by an independent half-normal walk,
// then updates E, T, R from their own mutual history plus a leak-weighted
// pull toward the exogenous drivers' current values.
func (s *simulator) step(t int, leak float64, omegaActive bool) sample {
	s.demand = clamp(s.demand+s.halfNormalDelta(0.03), 0, 1)
	s.io = clamp(s.io+s.halfNormalDelta(0.03), 0, 1)
	s.H = clamp(s.H+s.halfNormalDelta(0.02), 0, 1)

	exogMean := (s.demand + s.io + s.H) / 3.0

	nextE := s.loopCoupling*(0.6*s.E+0.2*s.T+0.2*s.R) + (1-s.loopCoupling)*exogMean
	nextT := s.loopCoupling*(0.2*s.E+0.6*s.T+0.2*s.R) + (1-s.loopCoupling)*exogMean
	nextR := s.loopCoupling*(0.2*s.E+0.2*s.T+0.6*s.R) + (1-s.loopCoupling)*exogMean

	nextE = clamp(nextE+leak*(exogMean-nextE)+s.gaussian(), 0, 1)
	nextT = clamp(nextT+leak*(exogMean-nextT)+s.gaussian(), 0, 1)
	nextR = clamp(nextR+leak*(exogMean-nextR)+s.gaussian(), 0, 1)

	s.E, s.T, s.R = nextE, nextT, nextR

	return sample{
		step: t, E: s.E, T: s.T, R: s.R,
		demand: s.demand, io: s.io, H: s.H,
		omegaActive: omegaActive,
	}
}

func (s *simulator) halfNormalDelta(scale float64) float64 {
	return math.Abs(s.rng.NormFloat64()) * scale * sign(s.rng.Float64()-0.5)
}

func (s *simulator) gaussian() float64 {
	return s.rng.NormFloat64() * s.noise
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
