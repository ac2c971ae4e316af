package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/ldtc-labs/ldtcguard/internal/scheduler"
)

func TestScheduler_RunTicksAtNominalPeriod(t *testing.T) {
	s := scheduler.New(5*time.Millisecond, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	count := 0
	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(time.Time) {
			count++
			if count >= 5 {
				cancel()
				close(done)
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not tick 5 times within timeout")
	}
	if count < 5 {
		t.Errorf("count = %d, want >= 5", count)
	}
}

func TestScheduler_SetDtChangesSubsequentPeriod(t *testing.T) {
	s := scheduler.New(10*time.Millisecond, 8)
	old := s.SetDt(50 * time.Millisecond)
	if old != 10*time.Millisecond {
		t.Errorf("SetDt returned old=%v, want 10ms", old)
	}
	if got := s.Dt(); got != 50*time.Millisecond {
		t.Errorf("Dt() = %v, want 50ms", got)
	}
}

func TestScheduler_JitterCapacityBounded(t *testing.T) {
	s := scheduler.New(1*time.Millisecond, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx, func(time.Time) {})
	if got := len(s.Jitters()); got > 3 {
		t.Errorf("jitter history length %d exceeds capacity 3", got)
	}
}
