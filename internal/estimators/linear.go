// linear.go implements the VAR/QR partial-R² linear influence estimator:
// residualize the target and the candidate sources against a lagged
// baseline design via thin QR, then measure the explained fraction of the
// residual.
package estimators

import "gonum.org/v1/gonum/mat"

// lagMatrix builds the lagged design matrix X (shape (T-p)×(N*p), columns
// grouped by lag: [lag1 cols for all N channels][lag2 cols]...) and the
// aligned targets Y (shape (T-p)×N).
func lagMatrix(x [][]float64, p int) (design [][]float64, targets [][]float64, ok bool) {
	t := len(x)
	if t <= p {
		return nil, nil, false
	}
	n := len(x[0])
	rows := t - p
	design = make([][]float64, rows)
	targets = make([][]float64, rows)
	for row := 0; row < rows; row++ {
		ti := row + p
		targets[row] = append([]float64(nil), x[ti]...)
		drow := make([]float64, 0, n*p)
		for lag := 1; lag <= p; lag++ {
			src := ti - lag
			drow = append(drow, x[src]...)
		}
		design[row] = drow
	}
	return design, targets, true
}

// colsFor returns the lagged-design column indices for the given channel
// indices, across all p lag blocks.
func colsFor(indices []int, p, nSig int) []int {
	out := make([]int, 0, len(indices)*p)
	for lag := 0; lag < p; lag++ {
		for _, idx := range indices {
			out = append(out, idx+lag*nSig)
		}
	}
	return out
}

func selectCols(design [][]float64, cols []int) *mat.Dense {
	rows := len(design)
	m := mat.NewDense(rows, len(cols), nil)
	for r := 0; r < rows; r++ {
		for c, col := range cols {
			m.Set(r, c, design[r][col])
		}
	}
	return m
}

func except(xs []int, v int) []int {
	out := make([]int, 0, len(xs))
	for _, x := range xs {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// dirInfluenceLinearConditional computes the mean partial-R² improvement
// from adding `addSources`' lagged history to a baseline of the AR(p) term
// plus `baseSources`' lagged history, averaged over `targets`.
func dirInfluenceLinearConditional(x [][]float64, p int, addSources, baseSources, targets []int) float64 {
	design, y, ok := lagMatrix(x, p)
	if !ok {
		return 0
	}
	nSig := len(x[0])
	rows := len(design)

	var improvements []float64
	for _, tg := range targets {
		colsAR := colsFor([]int{tg}, p, nSig)
		baseEff := except(baseSources, tg)
		addEff := except(addSources, tg)

		baseCols := append(append([]int(nil), colsAR...), colsFor(baseEff, p, nSig)...)
		addCols := colsFor(addEff, p, nSig)

		if rows < len(baseCols) {
			// Wide baseline design (window shorter than the lagged
			// regressor count): the baseline span already covers the whole
			// sample, leaving no residual for the added sources to
			// explain, and a thin QR of a wide matrix is undefined.
			improvements = append(improvements, 0)
			continue
		}

		xBase := selectCols(design, baseCols)
		target := make([]float64, rows)
		for r := 0; r < rows; r++ {
			target[r] = y[r][tg]
		}
		yVec := mat.NewVecDense(rows, target)

		var resid *mat.VecDense
		var aPerp *mat.Dense

		var qr mat.QR
		qr.Factorize(xBase)
		var q mat.Dense
		qr.QTo(&q)
		qCols := xBase.RawMatrix().Cols
		qThin := q.Slice(0, rows, 0, qCols).(*mat.Dense)

		var proj mat.VecDense
		proj.MulVec(qThin.T(), yVec)
		var yhat mat.VecDense
		yhat.MulVec(qThin, &proj)
		r := mat.NewVecDense(rows, nil)
		r.SubVec(yVec, &yhat)
		resid = r

		if len(addCols) > 0 {
			aAdd := selectCols(design, addCols)
			var projA mat.Dense
			projA.Mul(qThin.T(), aAdd)
			var aHat mat.Dense
			aHat.Mul(qThin, &projA)
			perp := mat.NewDense(rows, len(addCols), nil)
			perp.Sub(aAdd, &aHat)
			aPerp = perp
		}

		denom := dotSelf(resid) + 1e-12
		var r2Add float64
		if aPerp != nil {
			beta := solveLeastSquares(aPerp, resid)
			var rhat mat.VecDense
			rhat.MulVec(aPerp, beta)
			num := dotSelf(&rhat)
			r2Add = num / denom
			if r2Add < 0 {
				r2Add = 0
			}
			if r2Add > 1 {
				r2Add = 1
			}
		}
		improvements = append(improvements, r2Add)
	}
	return meanOf(improvements)
}

func dotSelf(v *mat.VecDense) float64 {
	var s float64
	for i := 0; i < v.Len(); i++ {
		s += v.AtVec(i) * v.AtVec(i)
	}
	return s
}

// solveLeastSquares solves min ||A*beta - b||² via QR, returning the
// coefficient vector. A must have at least as many rows as columns.
func solveLeastSquares(a *mat.Dense, b *mat.VecDense) *mat.VecDense {
	rows, cols := a.Dims()
	beta := mat.NewVecDense(cols, nil)
	if rows < cols {
		return beta
	}
	var qr mat.QR
	qr.Factorize(a)
	if err := qr.SolveVecTo(beta, false, b); err != nil {
		return mat.NewVecDense(cols, nil)
	}
	return beta
}
