package smelltest_test

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ldtc-labs/ldtcguard/internal/audit"
	"github.com/ldtc-labs/ldtcguard/internal/config"
	"github.com/ldtc-labs/ldtcguard/internal/lreg"
	"github.com/ldtc-labs/ldtcguard/internal/smelltest"
)

func baseCfg() config.SmellTestConfig {
	return config.Defaults().SmellTest
}

func TestCIHalfwidth(t *testing.T) {
	if got := smelltest.CIHalfwidth(lreg.CI{Lo: 0.2, Hi: 0.6}); math.Abs(got-0.2) > 1e-12 {
		t.Errorf("halfwidth = %v, want 0.2", got)
	}
	if got := smelltest.CIHalfwidth(lreg.CI{Lo: math.NaN(), Hi: 0.6}); got < 1e8 {
		t.Errorf("NaN bound should yield the large sentinel, got %v", got)
	}
}

func TestInvalidByCI(t *testing.T) {
	cfg := baseCfg()
	cfg.MaxCIHalfwidth = 0.5

	narrow := lreg.CI{Lo: 0.4, Hi: 0.6}
	wide := lreg.CI{Lo: 0.0, Hi: 1.5}
	if smelltest.InvalidByCI(narrow, narrow, cfg) {
		t.Error("narrow CIs should pass")
	}
	if !smelltest.InvalidByCI(narrow, wide, cfg) {
		t.Error("one wide CI should invalidate")
	}
}

func TestFlipsPerHour(t *testing.T) {
	if got := smelltest.FlipsPerHour(3, 1800); math.Abs(got-6) > 1e-9 {
		t.Errorf("3 flips in 30min = %v/h, want 6", got)
	}
	if got := smelltest.FlipsPerHour(1, 0); !math.IsInf(got, 1) {
		t.Errorf("flips with zero elapsed should be +Inf, got %v", got)
	}
	if got := smelltest.FlipsPerHour(0, 0); got != 0 {
		t.Errorf("no flips, no elapsed should be 0, got %v", got)
	}
}

func TestInvalidFlipDuringOmega(t *testing.T) {
	cfg := baseCfg()
	cfg.ForbidPartitionFlipDuringOmega = true
	if !smelltest.InvalidFlipDuringOmega(2, 3, cfg) {
		t.Error("flip during omega should invalidate when forbidden")
	}
	if smelltest.InvalidFlipDuringOmega(2, 2, cfg) {
		t.Error("no flip should pass")
	}
	cfg.ForbidPartitionFlipDuringOmega = false
	if smelltest.InvalidFlipDuringOmega(2, 5, cfg) {
		t.Error("flips allowed when not forbidden")
	}
}

func TestInvalidByCIHistory_MedianAndInflation(t *testing.T) {
	cfg := baseCfg()
	cfg.CILookbackWindows = 5
	cfg.MaxCIHalfwidth = 0.5
	cfg.CIInflateFactor = 3.0

	narrow := make([]lreg.CI, 5)
	for i := range narrow {
		narrow[i] = lreg.CI{Lo: 0.45, Hi: 0.55} // halfwidth 0.05
	}
	if smelltest.InvalidByCIHistory(narrow, narrow, cfg, 0, 0, false) {
		t.Error("narrow history should pass without baseline")
	}

	// Median over the absolute ceiling.
	wide := make([]lreg.CI, 5)
	for i := range wide {
		wide[i] = lreg.CI{Lo: 0, Hi: 1.2} // halfwidth 0.6
	}
	if !smelltest.InvalidByCIHistory(wide, narrow, cfg, 0, 0, false) {
		t.Error("median halfwidth over ceiling should invalidate")
	}

	// Inflation relative to baseline: 0.05 median vs 0.01 baseline is 5x.
	if !smelltest.InvalidByCIHistory(narrow, narrow, cfg, 0.01, 0.01, true) {
		t.Error("5x inflation over baseline should invalidate")
	}
	if smelltest.InvalidByCIHistory(narrow, narrow, cfg, 0.04, 0.04, true) {
		t.Error("1.25x over baseline should pass")
	}

	// Too little history is a no-op.
	if smelltest.InvalidByCIHistory(narrow[:3], narrow[:3], cfg, 0, 0, false) {
		t.Error("short history should be a no-op")
	}
}

func TestExogenousSubsidyRedFlag(t *testing.T) {
	cfg := baseCfg()
	cfg.MRiseLookbackWindows = 4
	cfg.MinMRiseDB = 3.0
	cfg.IOSuspiciousThreshold = 0.7
	cfg.MinHarvestForSOCGain = 0.2

	flat := []float64{0.5, 0.5, 0.5, 0.5}

	// M rising while io is high and climbing.
	mRise := []float64{3, 4, 5, 7}
	ioHigh := []float64{0.6, 0.7, 0.75, 0.8}
	if !smelltest.ExogenousSubsidyRedFlag(mRise, ioHigh, flat, []float64{0.5, 0.5, 0.5, 0.5}, cfg) {
		t.Error("M rise with high climbing io should red-flag")
	}

	// Same M rise but io low: no flag (and harvest high enough that the
	// SoC branch stays quiet too).
	ioLow := []float64{0.1, 0.1, 0.1, 0.1}
	if smelltest.ExogenousSubsidyRedFlag(mRise, ioLow, flat, []float64{0.5, 0.5, 0.5, 0.5}, cfg) {
		t.Error("M rise with low io should pass")
	}

	// SoC rising while harvest is essentially zero.
	socRise := []float64{0.3, 0.4, 0.5, 0.6}
	hZero := []float64{0.05, 0.05, 0.05, 0.05}
	if !smelltest.ExogenousSubsidyRedFlag(flat, ioLow, socRise, hZero, cfg) {
		t.Error("SoC rise without harvest should red-flag")
	}

	// SoC rising with ample harvest: fine.
	hAmple := []float64{0.6, 0.6, 0.6, 0.6}
	if smelltest.ExogenousSubsidyRedFlag(flat, ioLow, socRise, hAmple, cfg) {
		t.Error("SoC rise with ample harvest should pass")
	}
}

func TestInvalidByJitter(t *testing.T) {
	cfg := baseCfg()
	cfg.JitterP95RelMax = 0.5

	// 100 jitters of 10ms against dt=100ms: p95/dt = 0.1, passes.
	small := make([]float64, 100)
	for i := range small {
		small[i] = 0.010
	}
	if smelltest.InvalidByJitter(small, 0.1, cfg) {
		t.Error("10% relative jitter should pass a 50% ceiling")
	}

	// Tail of large jitters pushes p95 over the ceiling.
	large := append([]float64(nil), small...)
	for i := 90; i < 100; i++ {
		large[i] = 0.080
	}
	if !smelltest.InvalidByJitter(large, 0.1, cfg) {
		t.Error("80% relative jitter tail should invalidate")
	}

	if smelltest.InvalidByJitter(nil, 0.1, cfg) {
		t.Error("no jitter history is a no-op")
	}
}

func TestAuditIntegrityChecks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	log, err := audit.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := log.Append(float64(i), "window_measured", map[string]any{"m_db": 9.0}); err != nil {
			t.Fatal(err)
		}
	}

	if smelltest.AuditChainBroken(path) {
		t.Error("freshly written chain should not be broken")
	}
	if smelltest.AuditContainsRawLREGValues(path) {
		t.Error("clean log should carry no raw LREG values")
	}

	// Prefix an extra character to the hash field of the first two records.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"hash":"`, `"hash":"f`, 2)
	tamperedPath := filepath.Join(dir, "tampered.jsonl")
	if err := os.WriteFile(tamperedPath, []byte(tampered), 0o600); err != nil {
		t.Fatal(err)
	}
	if !smelltest.AuditChainBroken(tamperedPath) {
		t.Error("tampered chain should be reported broken")
	}

	if !smelltest.AuditChainBroken(filepath.Join(dir, "missing.jsonl")) {
		t.Error("missing audit file counts as broken")
	}
}
