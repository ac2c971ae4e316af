// Package ingest implements the transport-agnostic telemetry adapter.
// The physical plant and its I/O transport are external collaborators;
// this package is the thin layer the core scheduler reads from: it tracks
// the most recently seen value per channel and surfaces both staleness and
// never-seen channels as NaN. internal/window.Window.Append zero-fills only
// keys absent from a sample, which ReadState never produces.
package ingest

import (
	"bufio"
	"encoding/json"
	"io"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Adapter tracks the most recently observed value and timestamp for each
// telemetry channel. Channel order is fixed at construction.
type Adapter struct {
	mu        sync.Mutex
	channels  []string
	values    map[string]float64
	lastSeen  map[string]time.Time
	timeout   time.Duration
	log       *zap.Logger
	malformed int
}

// New creates an Adapter for the given fixed channel order. A channel not
// updated within timeout of now reads back as NaN from ReadState.
func New(channels []string, timeout time.Duration, log *zap.Logger) *Adapter {
	return &Adapter{
		channels: append([]string(nil), channels...),
		values:   make(map[string]float64, len(channels)),
		lastSeen: make(map[string]time.Time, len(channels)),
		timeout:  timeout,
		log:      log,
	}
}

// Update records a new observation for the named channels at time now.
// Channels not present in the recognized set are ignored; values outside
// [0,1] are clamped to the declared sample domain.
func (a *Adapter) Update(sample map[string]float64, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.channels {
		v, ok := sample[ch]
		if !ok {
			continue
		}
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		a.values[ch] = v
		a.lastSeen[ch] = now
	}
}

// ReadState returns the current per-channel state at time now: a channel
// that has never been observed, or whose last observation is older than
// the configured timeout, reads back as NaN. Callers pass this straight
// into internal/window.Window.Append, which zero-fills only the "missing
// key" case; NaN values must instead cause the caller to skip the window
// append for this tick entirely.
func (a *Adapter) ReadState(now time.Time) map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.channels))
	for _, ch := range a.channels {
		last, seen := a.lastSeen[ch]
		if !seen || now.Sub(last) > a.timeout {
			out[ch] = math.NaN()
			continue
		}
		out[ch] = a.values[ch]
	}
	return out
}

// HasNaN reports whether any value in state is NaN.
func HasNaN(state map[string]float64) bool {
	for _, v := range state {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// RunLineReader reads newline-delimited JSON telemetry samples from r until
// EOF or ctx-like stop via closing r. Malformed lines are dropped silently
// at the boundary and reading resumes with the next line; a running count
// is kept for diagnostics but never fails the run. Reading stops at the
// first I/O error or at a line longer than 1 MiB.
func (a *Adapter) RunLineReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sample map[string]float64
		if err := json.Unmarshal(line, &sample); err != nil {
			a.mu.Lock()
			a.malformed++
			n := a.malformed
			a.mu.Unlock()
			if a.log != nil && n%100 == 1 {
				a.log.Debug("ingest: dropped malformed telemetry line", zap.Error(err), zap.Int("total_dropped", n))
			}
			continue
		}
		a.Update(sample, time.Now())
	}
}
