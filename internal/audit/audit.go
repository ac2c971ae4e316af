// Package audit implements the hash-chained append-only JSONL audit log.
//
// Each record is {counter, ts, event, details, prev_hash, hash}. counter is
// strictly increasing from 1; ts is nondecreasing; hash is the SHA-256 of
// the canonical (sorted-key) JSON encoding of {counter, ts, event, details,
// prev_hash}; prev_hash of the first record is the literal string
// "GENESIS". encoding/json.Marshal over a map[string]any sorts keys
// alphabetically, which is the canonical form hashed and verified here.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Genesis is the prev_hash value of the first audit record.
const Genesis = "GENESIS"

// bannedDetailKeys are the raw-LREG fields that must never appear in an
// audit record's details, at any nesting depth.
var bannedDetailKeys = map[string]struct{}{
	"L_loop":  {},
	"L_ex":    {},
	"ci_loop": {},
	"ci_ex":   {},
}

// ErrBannedKey is returned (wrapped) when details contains a raw-LREG key.
type ErrBannedKey struct {
	Key string
}

func (e *ErrBannedKey) Error() string {
	return fmt.Sprintf("audit: details contains banned raw-LREG key %q", e.Key)
}

// Record is one immutable line of the audit log.
type Record struct {
	Counter  uint64         `json:"counter"`
	Ts       float64        `json:"ts"`
	Event    string         `json:"event"`
	Details  map[string]any `json:"details"`
	PrevHash string         `json:"prev_hash"`
	Hash     string         `json:"hash"`
}

// Log is a thread-safe append-only hash-chained audit log backed by a JSONL
// file. The file handle is reopened in append mode for each write, so a
// crash never leaves a partially buffered record.
type Log struct {
	mu       sync.Mutex
	path     string
	log      *zap.Logger
	counter  uint64
	lastHash string
	lastTs   float64
}

// Open creates or resumes an audit log at path. If the file already exists,
// its tail is not read back (the in-memory chain state always starts a new
// run at GENESIS/counter=0; a verifier, not the writer, checks that history
// against the fresh run's first record, since this component only ever
// appends). Callers that need to continue an existing chain across process
// restarts should load the previous tail record externally and seed it with
// Resume.
func Open(path string, log *zap.Logger) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit.Open: %w", err)
	}
	_ = f.Close()
	return &Log{path: path, log: log, lastHash: Genesis}, nil
}

// Resume seeds the in-memory chain state from a previously observed tail
// record, so a restarted process can continue an existing chain instead of
// starting a fresh GENESIS.
func (l *Log) Resume(lastCounter uint64, lastHash string, lastTs float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter = lastCounter
	l.lastHash = lastHash
	l.lastTs = lastTs
}

// Append writes a new record for event with the given details. ts must be
// nondecreasing relative to the previous append; callers pass a monotonic
// wall-clock timestamp (seconds, fractional). Returns the appended record.
//
// Fails loudly (returns an error, appends nothing) if details contains any
// banned raw-LREG key at any depth.
func (l *Log) Append(ts float64, event string, details map[string]any) (Record, error) {
	if details == nil {
		details = map[string]any{}
	}
	if err := assertNoBannedKeys(details); err != nil {
		return Record{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ts < l.lastTs {
		ts = l.lastTs
	}

	counter := l.counter + 1
	canonical := map[string]any{
		"counter":   counter,
		"ts":        ts,
		"event":     event,
		"details":   details,
		"prev_hash": l.lastHash,
	}
	canonicalBytes, err := json.Marshal(canonical)
	if err != nil {
		return Record{}, fmt.Errorf("audit: marshal canonical record: %w", err)
	}
	sum := sha256.Sum256(canonicalBytes)
	hash := hex.EncodeToString(sum[:])

	rec := Record{
		Counter:  counter,
		Ts:       ts,
		Event:    event,
		Details:  details,
		PrevHash: l.lastHash,
		Hash:     hash,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("audit: marshal record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return Record{}, fmt.Errorf("audit: open for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return Record{}, fmt.Errorf("audit: write: %w", err)
	}

	l.counter = counter
	l.lastHash = hash
	l.lastTs = ts

	if l.log != nil {
		l.log.Debug("audit record appended",
			zap.Uint64("counter", counter),
			zap.String("event", event),
			zap.String("hash", hash[:8]))
	}

	return rec, nil
}

// LastHash returns the hash of the most recently appended record, or
// Genesis if none has been appended yet.
func (l *Log) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Counter returns the current monotonic record counter.
func (l *Log) Counter() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter
}

// assertNoBannedKeys recursively scans v (maps, slices, and their leaves)
// for any of the banned raw-LREG keys.
func assertNoBannedKeys(v any) error {
	switch x := v.(type) {
	case map[string]any:
		for k, vv := range x {
			if _, banned := bannedDetailKeys[k]; banned {
				return &ErrBannedKey{Key: k}
			}
			if err := assertNoBannedKeys(vv); err != nil {
				return err
			}
		}
	case []any:
		for _, vv := range x {
			if err := assertNoBannedKeys(vv); err != nil {
				return err
			}
		}
	}
	return nil
}

// Now returns the current time as fractional Unix seconds, the timestamp
// representation used throughout the audit log and indicator bundles.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
