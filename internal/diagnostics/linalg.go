// linalg.go holds small dense-matrix helpers used by the stationarity
// tests: the normal-equations systems here are 2x2 or 3x3, where gonum's
// general-purpose QR solver (used by internal/estimators for the much
// larger VAR design matrices) would be overkill.
package diagnostics

import "math"

// choleskyDecompose computes the lower-triangular Cholesky factor L of A
// such that L*Lᵀ = A. Returns nil if A is not positive-definite.
func choleskyDecompose(a [][]float64) [][]float64 {
	n := len(a)
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := a[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil
				}
				l[i][j] = math.Sqrt(sum)
			} else {
				if l[j][j] == 0 {
					return nil
				}
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return l
}

func invertLowerTriangular(l [][]float64) [][]float64 {
	n := len(l)
	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
	}
	for j := 0; j < n; j++ {
		if l[j][j] == 0 {
			return nil
		}
		inv[j][j] = 1.0 / l[j][j]
		for i := j + 1; i < n; i++ {
			var sum float64
			for k := j; k < i; k++ {
				sum -= l[i][k] * inv[k][j]
			}
			inv[i][j] = sum / l[i][i]
		}
	}
	return inv
}

// invertSymmetric inverts a symmetric positive-definite matrix via
// Cholesky. Returns nil if singular or not positive-definite.
func invertSymmetric(a [][]float64) [][]float64 {
	n := len(a)
	if n == 0 {
		return nil
	}
	l := choleskyDecompose(a)
	if l == nil {
		return nil
	}
	linv := invertLowerTriangular(l)
	if linv == nil {
		return nil
	}
	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				inv[i][j] += linv[k][i] * linv[k][j]
			}
		}
	}
	return inv
}

// solveNormalEquations solves (XᵀX) beta = Xᵀy for beta via Cholesky,
// returning nil if XᵀX is singular.
func solveNormalEquations(x [][]float64, y []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	p := len(x[0])
	xtx := make([][]float64, p)
	for i := range xtx {
		xtx[i] = make([]float64, p)
	}
	xty := make([]float64, p)
	for i := 0; i < n; i++ {
		for a := 0; a < p; a++ {
			xty[a] += x[i][a] * y[i]
			for b := 0; b < p; b++ {
				xtx[a][b] += x[i][a] * x[i][b]
			}
		}
	}
	inv := invertSymmetric(xtx)
	if inv == nil {
		return nil
	}
	beta := make([]float64, p)
	for a := 0; a < p; a++ {
		for b := 0; b < p; b++ {
			beta[a] += inv[a][b] * xty[b]
		}
	}
	return beta
}

