// mi.go implements the k-nearest-neighbor mutual-information estimators
// (`mi`, `mi_kraskov`). Window lengths in this domain are small (tens to
// low hundreds of samples), so the neighbor search is a direct O(T²) scan
// rather than a k-d tree.
package estimators

import (
	"math"
	"sort"
)

// metric is the distance function used by the KSG neighbor search.
type metric func(a, b [2]float64) float64

func chebyshev(a, b [2]float64) float64 {
	dx := math.Abs(a[0] - b[0])
	dy := math.Abs(a[1] - b[1])
	if dx > dy {
		return dx
	}
	return dy
}

func euclidean(a, b [2]float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	return math.Sqrt(dx*dx + dy*dy)
}

// miKSG estimates mutual information between x and y (equal length) via the
// Kraskov-Stögbauer-Grassberger KSG-I estimator, using the given joint
// metric for the k-th-neighbor search and the Chebyshev (max-norm) marginal
// ball counts that the KSG-I estimator is defined with.
func miKSG(x, y []float64, k int, jointMetric metric) float64 {
	n := len(x)
	if n != len(y) || n <= k {
		return 0
	}
	pts := make([][2]float64, n)
	for i := range pts {
		pts[i] = [2]float64{x[i], y[i]}
	}

	const eps = 1e-10
	nx := make([]int, n)
	ny := make([]int, n)
	var sumDigamma float64

	for i := 0; i < n; i++ {
		dists := make([]float64, 0, n-1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			dists = append(dists, jointMetric(pts[i], pts[j]))
		}
		sort.Float64s(dists)
		rk := math.Max(dists[k-1]-eps, 0)

		var cx, cy int
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			if math.Abs(x[j]-x[i]) <= rk {
				cx++
			}
			if math.Abs(y[j]-y[i]) <= rk {
				cy++
			}
		}
		nx[i] = cx
		ny[i] = cy
		sumDigamma += digamma(float64(cx+1)) + digamma(float64(cy+1))
	}

	val := digamma(float64(k)) + digamma(float64(n)) - sumDigamma/float64(n)
	return math.Max(0, val)
}

// dirInfluenceMIKraskov averages KSG mutual information from each source
// channel (at t-lag) to each target channel (at t), excluding self-pairs.
func dirInfluenceMIKraskov(x [][]float64, sources, targets []int, lag, k int) float64 {
	t := len(x)
	if t <= lag {
		return 0
	}
	var vals []float64
	for _, tg := range targets {
		yv := columnLagged(x, tg, lag, true)
		for _, s := range sources {
			if s == tg {
				continue
			}
			xv := columnLagged(x, s, lag, false)
			vals = append(vals, miKSG(xv, yv, k, chebyshev))
		}
	}
	return meanOf(vals)
}

// The "mi" method uses the same KSG-I construction but with a Euclidean
// joint metric and a smaller fixed k=3 neighborhood.
const miPlainK = 3

func dirInfluenceMI(x [][]float64, sources, targets []int, lag int) float64 {
	t := len(x)
	if t <= lag {
		return 0
	}
	var vals []float64
	for _, tg := range targets {
		yv := columnLagged(x, tg, lag, true)
		for _, s := range sources {
			if s == tg {
				continue
			}
			xv := columnLagged(x, s, lag, false)
			vals = append(vals, miKSG(xv, yv, miPlainK, euclidean))
		}
	}
	return meanOf(vals)
}

// columnLagged extracts channel c's values either from index `lag` onward
// (head=true, i.e. the target series x[lag:]) or up to length-lag (the
// source series x[:-lag]).
func columnLagged(x [][]float64, c, lag int, head bool) []float64 {
	t := len(x)
	out := make([]float64, t-lag)
	if head {
		for i := lag; i < t; i++ {
			out[i-lag] = x[i][c]
		}
	} else {
		for i := 0; i < t-lag; i++ {
			out[i] = x[i][c]
		}
	}
	return out
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, v := range xs {
		s += v
	}
	return s / float64(len(xs))
}
