package audit_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ldtc-labs/ldtcguard/internal/audit"
)

func TestAppend_ChainInvariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var prev audit.Record
	for i := 0; i < 5; i++ {
		rec, err := log.Append(float64(i), "window_measured", map[string]any{"i": i})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if i == 0 {
			if rec.PrevHash != audit.Genesis {
				t.Errorf("first record prev_hash = %q, want GENESIS", rec.PrevHash)
			}
			if rec.Counter != 1 {
				t.Errorf("first record counter = %d, want 1", rec.Counter)
			}
		} else {
			if rec.PrevHash != prev.Hash {
				t.Errorf("record %d prev_hash mismatch", i)
			}
			if rec.Counter != prev.Counter+1 {
				t.Errorf("record %d counter = %d, want %d", i, rec.Counter, prev.Counter+1)
			}
			if rec.Ts < prev.Ts {
				t.Errorf("record %d ts regressed", i)
			}
		}
		prev = rec
	}

	// Re-read the file: every line parses as a Record, one line per append.
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		var r audit.Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("unmarshal line %d: %v", n, err)
		}
		n++
	}
	if n != 5 {
		t.Fatalf("expected 5 lines, got %d", n)
	}
}

func TestAppend_BannedKeyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err = log.Append(0, "leak_attempt", map[string]any{"L_loop": 0.5})
	if err == nil {
		t.Fatal("expected error appending banned key, got nil")
	}
	if log.Counter() != 0 {
		t.Errorf("counter should remain 0 after rejected append, got %d", log.Counter())
	}

	// Nested banned key must also be rejected.
	_, err = log.Append(0, "leak_attempt", map[string]any{
		"nested": map[string]any{"ci_ex": []any{0.1, 0.2}},
	})
	if err == nil {
		t.Fatal("expected error appending nested banned key, got nil")
	}
}

func TestAppend_TimestampNeverRegresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first, _ := log.Append(10.0, "e", nil)
	second, err := log.Append(5.0, "e", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if second.Ts < first.Ts {
		t.Errorf("ts regressed: %f < %f", second.Ts, first.Ts)
	}
}
