package cborenc_test

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/ldtc-labs/ldtcguard/internal/cborenc"
)

func TestOrderedMap_PreservesInsertionOrder(t *testing.T) {
	// Deliberately not in lexicographic order: a sorted encoder would
	// produce different bytes.
	pairs := []cborenc.Pair{
		{Key: "nc1", Value: true},
		{Key: "sc1", Value: false},
		{Key: "mq", Value: 36},
		{Key: "counter", Value: uint64(7)},
		{Key: "profile_id", Value: 0},
		{Key: "audit_prev_hash", Value: "GENESIS"},
	}
	got, err := cborenc.OrderedMap(pairs)
	if err != nil {
		t.Fatal(err)
	}

	// Round-trip into a generic map: every pair survives.
	var decoded map[string]any
	if err := cbor.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("output is not valid CBOR: %v", err)
	}
	if len(decoded) != len(pairs) {
		t.Fatalf("decoded %d entries, want %d", len(decoded), len(pairs))
	}
	if decoded["nc1"] != true || decoded["audit_prev_hash"] != "GENESIS" {
		t.Errorf("decoded values wrong: %v", decoded)
	}

	// The first key on the wire must be "nc1", not the lexicographically
	// smallest ("audit_prev_hash"): header byte, then a text string of
	// length 3 spelling n,c,1.
	if got[0] != 0xA6 {
		t.Errorf("map header = %#x, want 0xA6 (6 entries)", got[0])
	}
	if got[1] != 0x63 || string(got[2:5]) != "nc1" {
		t.Errorf("first encoded key is %q, want nc1", got[1:5])
	}
}

func TestOrderedMap_DiffersFromSortedEncoding(t *testing.T) {
	pairs := []cborenc.Pair{
		{Key: "zz", Value: 1},
		{Key: "aa", Value: 2},
	}
	ordered, err := cborenc.OrderedMap(pairs)
	if err != nil {
		t.Fatal(err)
	}
	sorted, err := cborenc.OrderedMap([]cborenc.Pair{pairs[1], pairs[0]})
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ordered, sorted) {
		t.Fatal("insertion order must affect the encoded bytes")
	}
}

func TestOrderedMap_Deterministic(t *testing.T) {
	pairs := []cborenc.Pair{
		{Key: "mq", Value: 12},
		{Key: "counter", Value: uint64(99)},
	}
	a, err := cborenc.OrderedMap(pairs)
	if err != nil {
		t.Fatal(err)
	}
	b, err := cborenc.OrderedMap(pairs)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same pairs must encode to identical bytes")
	}
}

func TestWithSortedExtras(t *testing.T) {
	base := []cborenc.Pair{
		{Key: "nc1", Value: true},
		{Key: "mq", Value: 3},
	}
	extras := map[string]any{
		"zeta":  1,
		"alpha": 2,
		"mq":    999, // already in base: must not duplicate or override
	}
	out := cborenc.WithSortedExtras(base, extras)
	wantKeys := []string{"nc1", "mq", "alpha", "zeta"}
	if len(out) != len(wantKeys) {
		t.Fatalf("got %d pairs, want %d", len(out), len(wantKeys))
	}
	for i, k := range wantKeys {
		if out[i].Key != k {
			t.Errorf("pair %d key = %q, want %q", i, out[i].Key, k)
		}
	}
	if out[1].Value != 3 {
		t.Error("extras must not override a base key's value")
	}

	if got := cborenc.WithSortedExtras(base, nil); len(got) != len(base) {
		t.Error("nil extras should return base unchanged")
	}
}
