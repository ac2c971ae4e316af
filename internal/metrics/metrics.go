// Package metrics computes the loop-dominance decibel margin M_db and
// evaluates the SC1 sufficiency criterion.
package metrics

import "math"

// DefaultEpsilonFloor is the numerical floor applied to L_loop/L_ex before
// taking their ratio.
const DefaultEpsilonFloor = 1e-12

// MDb computes M = 10*log10(L_loop/L_ex), flooring both operands at eps to
// avoid division by zero or log(0). This is the sole consumer of
// L_loop/L_ex for the margin; no additive sigma term is applied here.
// Sigma exists only as a config.Profile field; no audit record, indicator
// or manifest carries it.
func MDb(lLoop, lEx, eps float64) float64 {
	if eps <= 0 {
		eps = DefaultEpsilonFloor
	}
	num := math.Max(eps, lLoop)
	den := math.Max(eps, lEx)
	return 10.0 * math.Log10(num/den)
}

// SC1Stats summarizes the quantities an SC1 pass/fail decision is made
// from.
type SC1Stats struct {
	Delta  float64 // fractional drop in L_loop during Ω
	TauRec float64 // seconds to recover
	MPost  float64 // M after the recovery gate
}

// SC1Evaluate decides SC1 pass/fail: the fractional L_loop drop during Ω
// must not exceed epsilon, the measured recovery time must not exceed
// tauMax, and the post-recovery margin must be at least mMin. A
// non-positive baseline is a degenerate measurement and always fails.
func SC1Evaluate(lLoopBaseline, lLoopTrough, mPost, epsilon, tauRecMeasured, mMin, tauMax float64) (bool, SC1Stats) {
	if lLoopBaseline <= 0 {
		return false, SC1Stats{Delta: 1.0, TauRec: math.Inf(1), MPost: mPost}
	}
	delta := math.Max(0, (lLoopBaseline-lLoopTrough)/lLoopBaseline)
	ok := delta <= epsilon && tauRecMeasured <= tauMax && mPost >= mMin
	return ok, SC1Stats{Delta: delta, TauRec: tauRecMeasured, MPost: mPost}
}
