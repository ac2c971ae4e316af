// Package cborenc provides an insertion-order-preserving CBOR map encoder.
//
// github.com/fxamacker/cbor/v2 encodes a Go map by sorting its keys (or in
// Go map iteration order, depending on mode), never by caller-specified
// insertion order. The indicator payload's signature is computed over a
// specific key sequence (nc1, sc1, mq, counter, profile_id,
// audit_prev_hash, then any extra keys sorted lexicographically), so this
// package builds the map bytes by hand: a CBOR map header followed by each
// key/value pair encoded in turn via cbor.Marshal.
package cborenc

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Pair is one key/value entry of an ordered map.
type Pair struct {
	Key   string
	Value any
}

// OrderedMap builds the CBOR bytes for pairs, encoded strictly in the
// given order: one map header (major type 5) sized len(pairs), followed by
// each key (as a CBOR text string) and value (via cbor.Marshal) in
// sequence.
func OrderedMap(pairs []Pair) ([]byte, error) {
	out := mapHeader(len(pairs))
	for _, p := range pairs {
		keyBytes, err := cbor.Marshal(p.Key)
		if err != nil {
			return nil, fmt.Errorf("cborenc: encode key %q: %w", p.Key, err)
		}
		valBytes, err := cbor.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("cborenc: encode value for key %q: %w", p.Key, err)
		}
		out = append(out, keyBytes...)
		out = append(out, valBytes...)
	}
	return out, nil
}

// WithSortedExtras appends the keys of extras (excluding any already in
// base) in lexicographic order, so unexpected keys are still included
// deterministically.
func WithSortedExtras(base []Pair, extras map[string]any) []Pair {
	if len(extras) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base))
	for _, p := range base {
		seen[p.Key] = struct{}{}
	}
	extraKeys := make([]string, 0, len(extras))
	for k := range extras {
		if _, ok := seen[k]; !ok {
			extraKeys = append(extraKeys, k)
		}
	}
	sort.Strings(extraKeys)

	out := append([]Pair(nil), base...)
	for _, k := range extraKeys {
		out = append(out, Pair{Key: k, Value: extras[k]})
	}
	return out
}

// mapHeader encodes a definite-length CBOR map header (major type 5) for n
// entries, following the standard major-type/additional-info argument
// encoding (RFC 8949 §3).
func mapHeader(n int) []byte {
	const majorMap = 0xA0
	switch {
	case n < 24:
		return []byte{byte(majorMap | n)}
	case n < 1<<8:
		return []byte{majorMap | 24, byte(n)}
	case n < 1<<16:
		return []byte{majorMap | 25, byte(n >> 8), byte(n)}
	default:
		return []byte{
			majorMap | 26,
			byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n),
		}
	}
}
