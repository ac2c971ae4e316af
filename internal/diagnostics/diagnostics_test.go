package diagnostics_test

import (
	"math"
	"testing"

	"github.com/ldtc-labs/ldtcguard/internal/diagnostics"
)

func TestStationarityChecks_TrendingSeriesIsNonStationary(t *testing.T) {
	n := 80
	x := make([][]float64, n)
	for i := 0; i < n; i++ {
		x[i] = []float64{float64(i) * 1.0}
	}
	res := diagnostics.StationarityChecks(x)
	if len(res) != 1 {
		t.Fatalf("expected 1 column result, got %d", len(res))
	}
	if !res[0].ADFNonStationary {
		t.Errorf("expected a pure linear trend to be flagged non-stationary by ADF")
	}
}

func TestStationarityChecks_WhiteNoiseTooShortConservative(t *testing.T) {
	x := [][]float64{{1}, {2}, {3}}
	res := diagnostics.StationarityChecks(x)
	if !res[0].ADFNonStationary {
		t.Errorf("expected short series to conservatively mark ADF non-stationary")
	}
	if res[0].KPSSNonStationary {
		t.Errorf("expected short series to conservatively mark KPSS stationary")
	}
}

func TestStationarityChecks_ConstantSeriesNoPanic(t *testing.T) {
	n := 40
	x := make([][]float64, n)
	for i := range x {
		x[i] = []float64{5.0}
	}
	res := diagnostics.StationarityChecks(x)
	if len(res) != 1 {
		t.Fatalf("expected 1 column result, got %d", len(res))
	}
	// A degenerate (zero-variance) column must fail conservatively, not panic.
	if !res[0].ADFNonStationary {
		t.Errorf("expected degenerate constant column to be conservatively non-stationary under ADF")
	}
}

func TestStationarityChecks_MultiColumnIndependent(t *testing.T) {
	n := 60
	x := make([][]float64, n)
	for i := 0; i < n; i++ {
		trend := float64(i)
		noise := math.Mod(float64(i)*0.37, 1.0) - 0.5
		x[i] = []float64{trend, noise}
	}
	res := diagnostics.StationarityChecks(x)
	if len(res) != 2 {
		t.Fatalf("expected 2 column results, got %d", len(res))
	}
	if !res[0].ADFNonStationary {
		t.Errorf("expected trending column 0 to be non-stationary")
	}
}

func TestVarNTRatio(t *testing.T) {
	cases := []struct {
		t, n, p int
		want    float64
	}{
		{100, 4, 2, (100.0 - 2.0) / (4.0 * 2.0)},
		{5, 2, 10, 0}, // T-p negative, clamped to 0
		{10, 0, 1, 0},
		{10, 1, 0, 0},
	}
	for _, c := range cases {
		got := diagnostics.VarNTRatio(c.t, c.n, c.p)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("VarNTRatio(%d,%d,%d) = %f, want %f", c.t, c.n, c.p, got, c.want)
		}
	}
}
