// Package bench — latency/main.go
//
// Estimator latency measurement tool.
//
// Measures the wall-clock time of a single internal/estimators.EstimateL
// call over a synthetic window, for the configured method and window size.
// The estimators are CPU-bound and never yield mid-computation — a window
// that overruns Δt is recorded as jitter but never split — so this tool
// answers "does a single estimation fit inside the configured Δt" offline,
// before a real run.
//
// Output CSV columns: iteration, latency_us
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/ldtc-labs/ldtcguard/internal/config"
	"github.com/ldtc-labs/ldtcguard/internal/estimators"
)

func main() {
	iterations := flag.Int("iterations", 2000, "Number of EstimateL calls to measure")
	outputFile := flag.String("output", "estimator_latency_raw.csv", "Output CSV file path")
	method := flag.String("method", "linear", "Estimator method: linear|mi|mi_kraskov|transfer_entropy|directed_information")
	windowSec := flag.Float64("window-sec", 30, "Window duration in seconds")
	dt := flag.Float64("dt", 0.1, "Nominal scheduler period in seconds (the latency budget)")
	channels := flag.Int("channels", 6, "Number of telemetry channels (N)")
	nBoot := flag.Int("n-boot", 64, "Bootstrap draws per window")
	flag.Parse()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p := config.Defaults()
	p.Method = config.Method(*method)
	p.WindowSec = *windowSec
	p.Dt = *dt
	p.NBoot = *nBoot

	t := p.WindowCapacity()
	n := *channels
	rng := rand.New(rand.NewSource(1))
	x := make([][]float64, t)
	for i := range x {
		row := make([]float64, n)
		for j := range row {
			row[j] = rng.Float64()
		}
		x[i] = row
	}
	c := []int{0, 1, 2}
	ex := []int{}
	for i := 3; i < n; i++ {
		ex = append(ex, i)
	}

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us"})

	budgetUs := int(*dt * 1e6)
	hist := make([]int, budgetUs*4+1)

	for i := 0; i < *iterations; i++ {
		start := time.Now()
		_ = estimators.EstimateL(rng, x, c, ex, p)
		latencyUs := int(time.Since(start).Microseconds())

		if latencyUs >= 0 && latencyUs < len(hist) {
			hist[latencyUs]++
		} else if latencyUs >= len(hist) {
			hist[len(hist)-1]++
		}
		_ = w.Write([]string{strconv.Itoa(i), strconv.Itoa(latencyUs)})
	}

	p50, p95, p99 := computePercentiles(hist, *iterations)

	fmt.Printf("Estimator Latency Results (%d iterations, method=%s, T=%d, N=%d)\n", *iterations, *method, t, n)
	fmt.Printf("  p50: %dµs\n", p50)
	fmt.Printf("  p95: %dµs\n", p95)
	fmt.Printf("  p99: %dµs\n", p99)
	fmt.Printf("  Δt budget: %dµs\n", budgetUs)
	fmt.Printf("  Output: %s\n", *outputFile)

	if p99 > budgetUs {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dµs exceeds Δt budget %dµs (estimator would overrun the scheduler tick)\n", p99, budgetUs)
		os.Exit(1)
	}
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
