package window_test

import (
	"testing"

	"github.com/ldtc-labs/ldtcguard/internal/window"
)

func TestWindow_ReadyOnlyWhenFull(t *testing.T) {
	w := window.New(3, []string{"E", "T"})
	if w.Ready() {
		t.Fatal("expected not ready on empty window")
	}
	w.Append(map[string]float64{"E": 1, "T": 2})
	w.Append(map[string]float64{"E": 1, "T": 2})
	if w.Ready() {
		t.Fatal("expected not ready with 2/3 samples")
	}
	w.Append(map[string]float64{"E": 1, "T": 2})
	if !w.Ready() {
		t.Fatal("expected ready with 3/3 samples")
	}
}

func TestWindow_MissingKeyZeroFill(t *testing.T) {
	w := window.New(1, []string{"E", "T"})
	w.Append(map[string]float64{"E": 0.5})
	m := w.GetMatrix()
	if m.Data[0][1] != 0 {
		t.Errorf("missing channel should zero-fill, got %f", m.Data[0][1])
	}
}

func TestWindow_ColumnOrderMatchesChannelOrder(t *testing.T) {
	w := window.New(2, []string{"a", "b", "c"})
	w.Append(map[string]float64{"a": 1, "b": 2, "c": 3})
	w.Append(map[string]float64{"a": 4, "b": 5, "c": 6})
	m := w.GetMatrix()
	if m.Column(0)[0] != 1 || m.Column(1)[0] != 2 || m.Column(2)[0] != 3 {
		t.Errorf("unexpected first row: %+v", m.Data[0])
	}
	if m.Column(0)[1] != 4 {
		t.Errorf("unexpected second row: %+v", m.Data[1])
	}
}

func TestWindow_OverflowDiscardsOldest(t *testing.T) {
	w := window.New(2, []string{"x"})
	w.Append(map[string]float64{"x": 1})
	w.Append(map[string]float64{"x": 2})
	w.Append(map[string]float64{"x": 3})
	m := w.GetMatrix()
	if m.Column(0)[0] != 2 || m.Column(0)[1] != 3 {
		t.Errorf("expected oldest discarded, got %+v", m.Column(0))
	}
}
