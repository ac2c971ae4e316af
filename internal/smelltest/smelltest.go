// Package smelltest implements the invalidation heuristics that decide
// when a run's indicators can no longer be trusted: CI width guards,
// partition flip-rate limits, Δt jitter thresholds, exogenous-subsidy red
// flags, and audit-chain integrity checks. Every check is a pure function
// of its inputs; the caller owns the resulting LREG invalidation and
// audit record.
package smelltest

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/ldtc-labs/ldtcguard/internal/config"
	"github.com/ldtc-labs/ldtcguard/internal/lreg"
)

// CIHalfwidth returns (Hi-Lo)/2, or a very large sentinel if either bound
// is NaN.
func CIHalfwidth(ci lreg.CI) float64 {
	if math.IsNaN(ci.Lo) || math.IsNaN(ci.Hi) {
		return 1e9
	}
	return 0.5 * math.Abs(ci.Hi-ci.Lo)
}

// InvalidByCI reports whether either CI's half-width exceeds the
// configured absolute maximum.
func InvalidByCI(ciLoop, ciEx lreg.CI, cfg config.SmellTestConfig) bool {
	return CIHalfwidth(ciLoop) > cfg.MaxCIHalfwidth || CIHalfwidth(ciEx) > cfg.MaxCIHalfwidth
}

// FlipsPerHour converts a flip count observed over elapsedSec into an
// hourly rate. Zero elapsed time with zero flips is rate 0; with any
// flips it is +Inf (instantly over any finite limit).
func FlipsPerHour(flips int, elapsedSec float64) float64 {
	if elapsedSec <= 0 {
		if flips > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return 3600.0 * (float64(flips) / elapsedSec)
}

// InvalidByPartitionFlips reports whether the observed flip rate exceeds
// the configured hourly limit.
func InvalidByPartitionFlips(flips int, elapsedSec float64, cfg config.SmellTestConfig) bool {
	return FlipsPerHour(flips, elapsedSec) > float64(cfg.MaxPartitionFlipsPerHour)
}

// InvalidFlipDuringOmega reports whether any partition flip occurred
// between flipsBefore and flipsAfter while flips are forbidden during Ω.
func InvalidFlipDuringOmega(flipsBefore, flipsAfter int, cfg config.SmellTestConfig) bool {
	if !cfg.ForbidPartitionFlipDuringOmega {
		return false
	}
	return flipsAfter-flipsBefore > 0
}

// InvalidByCIHistory evaluates CI health over the configured look-back
// window: invalid if either median half-width exceeds the absolute
// maximum, or — when baseline medians are supplied — if the recent
// median has inflated by more than the configured factor relative to
// baseline. Returns false (rather than erroring) on any malformed input.
func InvalidByCIHistory(ciLoopHist, ciExHist []lreg.CI, cfg config.SmellTestConfig, baselineLoop, baselineEx float64, haveBaseline bool) bool {
	n := cfg.CILookbackWindows
	if n <= 0 || len(ciLoopHist) < n || len(ciExHist) < n {
		return false
	}
	recentLoop := ciLoopHist[len(ciLoopHist)-n:]
	recentEx := ciExHist[len(ciExHist)-n:]

	hwLoop := make([]float64, n)
	hwEx := make([]float64, n)
	for i := 0; i < n; i++ {
		hwLoop[i] = CIHalfwidth(recentLoop[i])
		hwEx[i] = CIHalfwidth(recentEx[i])
	}
	sort.Float64s(hwLoop)
	sort.Float64s(hwEx)
	medLoop := hwLoop[n/2]
	medEx := hwEx[n/2]

	if medLoop > cfg.MaxCIHalfwidth || medEx > cfg.MaxCIHalfwidth {
		return true
	}
	if haveBaseline {
		if baselineLoop > 0 && medLoop >= cfg.CIInflateFactor*baselineLoop {
			return true
		}
		if baselineEx > 0 && medEx >= cfg.CIInflateFactor*baselineEx {
			return true
		}
	}
	return false
}

// ExogenousSubsidyRedFlag flags two heuristic conditions over the
// configured look-back window: M rising while I/O is high and climbing,
// or state-of-charge rising while harvest is essentially zero. All four
// series must share the same indexing (most recent last) and be at least
// cfg.MRiseLookbackWindows long, else the check is a no-op.
func ExogenousSubsidyRedFlag(mDb, io, soc, harvest []float64, cfg config.SmellTestConfig) bool {
	n := cfg.MRiseLookbackWindows
	if n <= 0 || len(mDb) < n || len(io) < n || len(soc) < n || len(harvest) < n {
		return false
	}
	recentM := mDb[len(mDb)-n:]
	recentIO := io[len(io)-n:]
	recentSoC := soc[len(soc)-n:]
	recentH := harvest[len(harvest)-n:]

	mRise := recentM[n-1] - recentM[0]
	ioRise := recentIO[n-1] - recentIO[0]
	if mRise >= cfg.MinMRiseDB && recentIO[n-1] >= cfg.IOSuspiciousThreshold && ioRise > 0 {
		return true
	}

	socRise := recentSoC[n-1] - recentSoC[0]
	var avgH float64
	for _, h := range recentH {
		avgH += h
	}
	avgH /= float64(n)
	if socRise > 0 && avgH <= cfg.MinHarvestForSOCGain {
		return true
	}
	return false
}

// InvalidByJitter reports whether the p95 of |jitter| relative to the
// nominal period exceeds the configured maximum, flagging a scheduler
// that can no longer be trusted to sample at the declared Δt.
func InvalidByJitter(absJitterSec []float64, dtSec float64, cfg config.SmellTestConfig) bool {
	if dtSec <= 0 || len(absJitterSec) == 0 {
		return false
	}
	sorted := append([]float64(nil), absJitterSec...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	p95 := sorted[idx]
	return (p95 / dtSec) > cfg.JitterP95RelMax
}

// auditLine mirrors the on-disk shape of one audit.Record for the
// purposes of these checks, tolerating any valid JSON in details.
type auditLine struct {
	Counter  uint64         `json:"counter"`
	Ts       float64        `json:"ts"`
	PrevHash string         `json:"prev_hash"`
	Hash     string         `json:"hash"`
	Details  map[string]any `json:"details"`
}

// AuditContainsRawLREGValues scans every record's details for any of the
// banned raw-LREG keys at the top level, a conservative independent check
// against internal/audit's own write-time guard. Returns false if the
// file does not exist or cannot be parsed (the chain-integrity check
// catches a corrupted log separately).
func AuditContainsRawLREGValues(auditPath string) bool {
	f, err := os.Open(auditPath)
	if err != nil {
		return false
	}
	defer f.Close()

	banned := [...]string{"L_loop", "L_ex", "ci_loop", "ci_ex"}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec auditLine
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		for _, k := range banned {
			if _, ok := rec.Details[k]; ok {
				return true
			}
		}
	}
	return false
}

// AuditChainBroken independently re-validates the hash chain's counter
// sequence, prev_hash linkage, and timestamp monotonicity. A missing file
// counts as broken, and so does any unparseable line: this check fails
// closed.
func AuditChainBroken(auditPath string) bool {
	f, err := os.Open(auditPath)
	if err != nil {
		return true
	}
	defer f.Close()

	prevHash := "GENESIS"
	var prevCounter uint64
	prevTs := -1.0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec auditLine
		if err := json.Unmarshal(line, &rec); err != nil {
			return true
		}
		if rec.Counter != prevCounter+1 {
			return true
		}
		if rec.PrevHash != prevHash {
			return true
		}
		if prevTs >= 0 && rec.Ts < prevTs {
			return true
		}
		prevCounter = rec.Counter
		prevHash = rec.Hash
		prevTs = rec.Ts
	}
	return false
}
