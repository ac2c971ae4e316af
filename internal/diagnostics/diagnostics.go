// Package diagnostics implements the stationarity checks and VAR N/T ratio
// consumed by the estimators' CI-widening decision and by audit
// annotations. The two classical tests — a Dickey-Fuller regression
// (Δx_t = α + β·x_{t-1} + ε) and a KPSS partial-sum statistic — are
// computed directly against fixed 5% critical values, with conservative
// defaults on any numerical failure: ADF errors mark the column
// non-stationary, KPSS errors mark it stationary, so one bad column is
// never penalized by both tests at once.
package diagnostics

import "math"

// ColumnResult holds the per-column (adf_nonstat, kpss_nonstat) verdicts.
type ColumnResult struct {
	ADFNonStationary  bool
	KPSSNonStationary bool
}

// adfCritical5 is the 5% critical value for the ADF t-statistic (constant,
// no trend), the standard Dickey-Fuller table entry.
const adfCritical5 = -2.86

// kpssCritical5 is the 5% critical value for the KPSS LM statistic (level
// stationarity, no trend).
const kpssCritical5 = 0.463

// StationarityChecks runs ADF and KPSS per column of X (T×N). ADF is "fail
// to reject unit root at 5%"; KPSS is "reject stationarity at 5%". Errors
// in ADF conservatively mark non-stationary; errors in KPSS mark
// stationary, to avoid double-penalizing the same column under both tests.
func StationarityChecks(x [][]float64) []ColumnResult {
	if len(x) == 0 {
		return nil
	}
	n := len(x[0])
	out := make([]ColumnResult, n)
	for c := 0; c < n; c++ {
		col := column(x, c)
		out[c] = ColumnResult{
			ADFNonStationary:  safeADF(col),
			KPSSNonStationary: safeKPSS(col),
		}
	}
	return out
}

func column(x [][]float64, c int) []float64 {
	out := make([]float64, len(x))
	for t := range x {
		out[t] = x[t][c]
	}
	return out
}

// safeADF reports whether x fails to reject the unit-root null at 5%
// (true == non-stationary). Any numerical failure (too few points,
// singular design, degenerate statistic) conservatively returns true.
func safeADF(x []float64) (nonStationary bool) {
	defer func() {
		if recover() != nil {
			nonStationary = true
		}
	}()

	n := len(x)
	if n < 8 {
		return true
	}

	// Build Δx_t = α + β·x_{t-1} + ε for t=1..n-1. No augmentation lags:
	// the conservative error default covers the cases a fuller augmented
	// specification would otherwise catch.
	rows := n - 1
	design := make([][]float64, rows)
	dy := make([]float64, rows)
	for t := 1; t < n; t++ {
		design[t-1] = []float64{1.0, x[t-1]}
		dy[t-1] = x[t] - x[t-1]
	}
	beta := solveNormalEquations(design, dy)
	if beta == nil {
		return true
	}

	// Residual variance and standard error of beta[1] (the x_{t-1}
	// coefficient) via the usual OLS sandwich for a 2-parameter design.
	var rss, tss float64
	var sumXc, sumXc2 float64
	meanX := mean(colOf(design, 1))
	for t := range design {
		pred := beta[0] + beta[1]*design[t][1]
		resid := dy[t] - pred
		rss += resid * resid
		tss += dy[t] * dy[t]
		xc := design[t][1] - meanX
		sumXc += xc
		sumXc2 += xc * xc
	}
	_ = sumXc
	// A numerically exact fit (e.g. a pure linear trend, whose differences
	// are constant) leaves only rounding noise in the residual, so the
	// t-statistic is degenerate.
	if rows <= 2 || sumXc2 <= 0 || rss <= 1e-12*tss {
		return true
	}
	sigma2 := rss / float64(rows-2)
	seBeta := math.Sqrt(sigma2 / sumXc2)
	if seBeta == 0 {
		return true
	}
	tstat := beta[1] / seBeta

	// Fail to reject unit root ⇒ non-stationary ⇒ tstat is not more
	// negative than the critical value.
	return tstat > adfCritical5
}

// safeKPSS reports whether x rejects the stationarity null at 5% (true ==
// non-stationary by KPSS's convention). Any numerical failure
// conservatively returns false (stationary), to avoid double-penalizing a
// column that ADF already flagged.
func safeKPSS(x []float64) (nonStationary bool) {
	defer func() {
		if recover() != nil {
			nonStationary = false
		}
	}()

	n := len(x)
	if n < 8 {
		return false
	}

	mu := mean(x)
	resid := make([]float64, n)
	for i, v := range x {
		resid[i] = v - mu
	}

	// Partial sums S_t = Σ_{i<=t} e_i; KPSS statistic = (1/n^2) Σ S_t^2 / s2
	// where s2 is the long-run variance estimate (the simple sample
	// variance of residuals, no Newey-West bandwidth correction).
	var s float64
	var sumSq float64
	for _, e := range resid {
		s += e
		sumSq += s * s
	}
	var varResid float64
	for _, e := range resid {
		varResid += e * e
	}
	varResid /= float64(n)
	if varResid <= 0 {
		return false
	}
	stat := sumSq / (float64(n) * float64(n) * varResid)
	return stat > kpssCritical5
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, v := range xs {
		s += v
	}
	return s / float64(len(xs))
}

func colOf(rows [][]float64, c int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r[c]
	}
	return out
}

// VarNTRatio computes (T-p)/(N*p), the VAR degrees-of-freedom ratio
// consumed by the linear estimator's CI-widening decision.
func VarNTRatio(t, n, p int) float64 {
	if n <= 0 || p <= 0 {
		return 0
	}
	num := float64(t - p)
	if num < 0 {
		num = 0
	}
	return num / float64(n*p)
}
