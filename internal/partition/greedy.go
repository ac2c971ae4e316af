package partition

import "math"

// EvalFn scores a candidate C against its complement Ex, returning the
// loop-dominance margin M_db that candidate would produce. Callers wire
// this to the configured estimator, usually with a reduced bootstrap
// budget; keeping it as a callback avoids a dependency from
// internal/partition on internal/estimators.
type EvalFn func(c []int) (mDB float64)

// GreedySuggestC proposes a new C by iteratively adding the single Ex
// index whose inclusion maximizes ΔM_db − λ·penalty.
// Ties are broken by smaller index.
// Termination occurs when the marginal gain falls below theta or |C|
// reaches the optional cap (cap<=0 means uncapped). Returns the suggested
// C and ΔM_db relative to the baseline (current C) evaluation.
func GreedySuggestC(n int, currentC []int, eval EvalFn, theta, lambda float64, cap int) (suggestedC []int, deltaMDB float64) {
	c := sortedUniqueCopy(currentC)
	baseline := eval(c)
	best := append([]int(nil), c...)
	bestM := baseline

	for cap <= 0 || len(best) < cap {
		candidates := complement(n, best)
		if len(candidates) == 0 {
			break
		}
		bestGain := math.Inf(-1)
		bestIdx := -1
		bestCandM := bestM
		for _, idx := range candidates {
			trial := append(append([]int(nil), best...), idx)
			trialM := eval(trial)
			penalty := lambda * float64(len(trial))
			gain := (trialM - bestM) - penalty
			if gain > bestGain || (gain == bestGain && (bestIdx == -1 || idx < bestIdx)) {
				bestGain = gain
				bestIdx = idx
				bestCandM = trialM
			}
		}
		if bestIdx == -1 || bestGain < theta {
			break
		}
		best = sortedUniqueCopy(append(best, bestIdx))
		bestM = bestCandM
	}

	return best, bestM - baseline
}
