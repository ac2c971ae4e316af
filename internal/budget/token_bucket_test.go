package budget_test

import (
	"testing"
	"time"

	"github.com/ldtc-labs/ldtcguard/internal/budget"
)

func TestBucket_ConsumeRespectsCapacity(t *testing.T) {
	b := budget.New(2, time.Hour)
	defer b.Close()

	if !b.Consume(1) {
		t.Fatal("first Consume(1) should succeed")
	}
	if !b.Consume(1) {
		t.Fatal("second Consume(1) should succeed")
	}
	if b.Consume(1) {
		t.Fatal("third Consume(1) should fail: capacity exhausted")
	}
	if got := b.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestBucket_RefillRestoresCapacity(t *testing.T) {
	b := budget.New(1, 10*time.Millisecond)
	defer b.Close()

	if !b.Consume(1) {
		t.Fatal("Consume(1) should succeed")
	}
	time.Sleep(50 * time.Millisecond)
	if !b.Consume(1) {
		t.Fatal("Consume(1) should succeed after refill")
	}
	if b.RefillCount() == 0 {
		t.Error("RefillCount() = 0, want > 0 after waiting past refillPeriod")
	}
}

func TestBucket_ConsumedTotalAccumulates(t *testing.T) {
	b := budget.New(5, time.Hour)
	defer b.Close()

	b.Consume(2)
	b.Consume(1)
	if got := b.ConsumedTotal(); got != 3 {
		t.Errorf("ConsumedTotal() = %d, want 3", got)
	}
}
