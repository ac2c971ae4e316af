// Package estimators computes the loop-influence and exchange-influence
// predictive-dependence estimates (L_loop, L_ex) over a C/Ex partition,
// with circular block-bootstrap confidence intervals.
package estimators

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ldtc-labs/ldtcguard/internal/bootstrap"
	"github.com/ldtc-labs/ldtcguard/internal/config"
	"github.com/ldtc-labs/ldtcguard/internal/diagnostics"
)

// CI is a percentile confidence interval; NaN bounds mean "undetermined"
// (too few samples for a meaningful bootstrap).
type CI struct{ Lo, Hi float64 }

// LResult is the point estimate and CI pair for one estimation window.
type LResult struct {
	LLoop   float64
	LEx     float64
	CILoop  CI
	CIEx    CI
	Fell    bool // true if method was transfer_entropy/directed_information and no backend was registered (proxy used)
	Marginal bool // true if the VAR N/T ratio triggered CI widening
}

// influenceFn computes a scalar influence score given a (possibly
// bootstrap-resampled) window.
type influenceFn func(x [][]float64) float64

// EstimateL computes LResult for the given window matrix X (T×N), using
// the channel index sets C (loop) and Ex (exchange) and the profile's
// configured method and parameters.
func EstimateL(rng *rand.Rand, x [][]float64, c, ex []int, p config.Profile) LResult {
	var lLoopFn, lExFn influenceFn
	fellBack := false

	switch p.Method {
	case config.MethodLinear:
		lLoopFn = func(arr [][]float64) float64 {
			return dirInfluenceLinearConditional(arr, p.PLag, c, ex, c)
		}
		lExFn = func(arr [][]float64) float64 {
			return dirInfluenceLinearConditional(arr, p.PLag, ex, c, c)
		}
	case config.MethodMI:
		lLoopFn = func(arr [][]float64) float64 { return dirInfluenceMI(arr, c, c, p.MILag) }
		lExFn = func(arr [][]float64) float64 { return dirInfluenceMI(arr, ex, c, p.MILag) }
	case config.MethodMIKraskov:
		lLoopFn = func(arr [][]float64) float64 { return dirInfluenceMIKraskov(arr, c, c, p.MILag, p.MIK) }
		lExFn = func(arr [][]float64) float64 { return dirInfluenceMIKraskov(arr, ex, c, p.MILag, p.MIK) }
	case config.MethodTransferEntropy, config.MethodDirectedInformation:
		te, di := currentBackends()
		lag := p.MILag
		if lag < 1 {
			lag = 1
		}
		var backend Backend
		if p.Method == config.MethodTransferEntropy {
			backend = te
		} else {
			backend = di
		}
		if backend == nil {
			fellBack = true
			backend = func(arr [][]float64, sources, targets []int, lag int) float64 {
				return dirInfluenceMIKraskov(arr, sources, targets, lag, p.MIK)
			}
		}
		lLoopFn = func(arr [][]float64) float64 { return backend(arr, c, c, lag) }
		lExFn = func(arr [][]float64) float64 { return backend(arr, ex, c, lag) }
	default:
		lLoopFn = func(arr [][]float64) float64 { return 0 }
		lExFn = func(arr [][]float64) float64 { return 0 }
	}

	marginal := false
	if p.Method == config.MethodLinear {
		ratio := diagnostics.VarNTRatio(len(x), len(x[0]), p.PLag)
		marginal = ratio < 1.5
	}

	lLoop := lLoopFn(x)
	lEx := lExFn(x)
	ciLoop := bootstrapCI(rng, x, lLoopFn, p.NBoot)
	ciEx := bootstrapCI(rng, x, lExFn, p.NBoot)

	if marginal {
		ciLoop = widen(ciLoop)
		ciEx = widen(ciEx)
	}

	return LResult{
		LLoop: lLoop, LEx: lEx,
		CILoop: ciLoop, CIEx: ciEx,
		Fell: fellBack, Marginal: marginal,
	}
}

// bootstrapCI computes the 2.5/97.5 percentile CI via circular
// block-bootstrap resampling of the window's time axis.
func bootstrapCI(rng *rand.Rand, x [][]float64, fn influenceFn, nBoot int) CI {
	t := len(x)
	if t < 12 {
		return CI{Lo: math.NaN(), Hi: math.NaN()}
	}
	block := bootstrap.Block(t)
	draws := bootstrap.Indices(rng, t, block, nBoot)
	vals := make([]float64, 0, len(draws))
	for _, idx := range draws {
		resampled := make([][]float64, len(idx))
		for i, ti := range idx {
			resampled[i] = x[ti]
		}
		vals = append(vals, fn(resampled))
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	lo := stat.Quantile(0.025, stat.Empirical, sorted, nil)
	hi := stat.Quantile(0.975, stat.Empirical, sorted, nil)
	return CI{Lo: lo, Hi: hi}
}

// widen doubles each CI's half-width, signaling estimator uncertainty when
// the VAR's N/T ratio is marginal.
func widen(c CI) CI {
	if math.IsNaN(c.Lo) || math.IsNaN(c.Hi) {
		return c
	}
	h := math.Abs(c.Hi-c.Lo) / 2
	return CI{Lo: c.Lo - h, Hi: c.Hi + h}
}
