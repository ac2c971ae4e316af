package lreg_test

import (
	"testing"

	"github.com/ldtc-labs/ldtcguard/internal/lreg"
)

func TestDerive_EmptyEnclave(t *testing.T) {
	l := lreg.New()
	d := l.Derive()
	if d.Counter != 0 || d.NC1 || d.Invalidated {
		t.Fatalf("unexpected initial derive: %+v", d)
	}
}

func TestDerive_NC1ForcedFalseOnInvalidate(t *testing.T) {
	l := lreg.New()
	l.Write(lreg.Entry{LLoop: 0.8, LEx: 0.1, MDB: 9.0, NC1Pass: true})
	if d := l.Derive(); !d.NC1 {
		t.Fatalf("expected nc1 true before invalidation, got %+v", d)
	}
	l.Invalidate("dt_change_rate_limit")
	d := l.Derive()
	if d.NC1 {
		t.Errorf("expected nc1 forced false after invalidation")
	}
	if !d.Invalidated {
		t.Errorf("expected invalidated=true")
	}
	if d.MDB != 9.0 {
		t.Errorf("M_db should still be reported: got %f", d.MDB)
	}
}

func TestInvalidate_Idempotent(t *testing.T) {
	l := lreg.New()
	l.Invalidate("first_reason")
	l.Invalidate("second_reason")
	if got := l.InvalidatedReason(); got != "first_reason" {
		t.Errorf("reason = %q, want %q (first reason sticks)", got, "first_reason")
	}
}

func TestWrite_CounterMonotonic(t *testing.T) {
	l := lreg.New()
	for i := uint64(1); i <= 3; i++ {
		idx := l.Write(lreg.Entry{})
		if idx != i {
			t.Errorf("Write #%d returned idx %d", i, idx)
		}
	}
}

func TestWindow_ReturnsLastN(t *testing.T) {
	l := lreg.New()
	for i := 0; i < 5; i++ {
		l.Write(lreg.Entry{MDB: float64(i)})
	}
	w := l.Window(3)
	if len(w) != 3 {
		t.Fatalf("len(w) = %d, want 3", len(w))
	}
	if w[0].MDB != 2 || w[2].MDB != 4 {
		t.Errorf("unexpected window contents: %+v", w)
	}
}
