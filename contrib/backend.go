// Package contrib — backend.go
//
// Plugin interface for custom transfer-entropy / directed-information
// backends. The core estimator dispatcher (internal/estimators) ships with
// no true TE/DI implementation: both methods fall back to the
// mi_kraskov (KSG-I) proxy by default. contrib/ is the extension
// point for an operator who wants to plug in a real backend (a true
// transfer-entropy estimator, a directed-information estimator backed by a
// different library, an ML-model-based estimator, etc.) without forking
// internal/estimators.
//
// Plugin registration:
//   Plugins register themselves in an init() function using
//   RegisterBackend(). A process wires a registered backend into the
//   estimator dispatcher explicitly (never automatically — the documented
//   default stays "no real backend, proxy always used"):
//
//     import _ "github.com/ldtc-labs/ldtcguard/contrib/backends/mybackend"
//     ...
//     if impl, err := contrib.GetBackend("mybackend"); err == nil {
//         estimators.RegisterTEBackend(estimators.Backend(impl.Score))
//     }
//
//   Built-in example: "lagged-corr" (implemented in this file).
//
// Plugin contract:
//   - Score() must be goroutine-safe (called from the single scheduler
//     driver goroutine and from partition-manager regrowth evaluation).
//   - Score() must not call blocking I/O (no disk, no network).
//   - Score() must not panic (use recover() internally if needed).
//   - Name() must return a stable, unique string (used as a lookup key).
package contrib

import (
	"fmt"
	"math"
	"sync"
)

// TEDIBackend is the interface a custom transfer-entropy / directed-
// information backend must implement to be installed into
// internal/estimators via estimators.RegisterTEBackend/RegisterDIBackend.
type TEDIBackend interface {
	// Name returns the unique identifier for this backend, used as the
	// registry lookup key.
	Name() string

	// Score computes a directed-dependence score from sources to targets
	// at the given lag over window x (T×N). Must return a non-negative
	// score; higher means more directed dependence.
	Score(x [][]float64, sources, targets []int, lag int) float64
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]TEDIBackend)
)

// RegisterBackend registers a custom TE/DI backend. Panics if a backend
// with the same name is already registered. Call from init() functions in
// plugin packages.
func RegisterBackend(b TEDIBackend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[b.Name()]; exists {
		panic(fmt.Sprintf("contrib: backend %q already registered", b.Name()))
	}
	registry[b.Name()] = b
}

// GetBackend returns the registered backend with the given name.
func GetBackend(name string) (TEDIBackend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("contrib: backend %q not registered (available: %v)", name, listNames())
	}
	return b, nil
}

// ListBackends returns the names of all registered backends.
func ListBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listNames()
}

func listNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}

// ─── Reference contrib backend: lagged correlation ───────────────────────
//
// LaggedCorrBackend demonstrates the plugin
// contract. It is deliberately a different proxy than the built-in
// mi_kraskov fallback (a plain lagged Pearson correlation magnitude rather
// than a KSG mutual-information estimate), so an operator who installs it
// gets a visibly distinct estimator identity. While a backend is installed,
// internal/estimators reports no fallback (LResult.Fell is false), so no
// estimator_fallback audit record is written for the method. Registered as
// "lagged-corr".
type LaggedCorrBackend struct{}

func init() {
	RegisterBackend(&LaggedCorrBackend{})
}

func (l *LaggedCorrBackend) Name() string { return "lagged-corr" }

func (l *LaggedCorrBackend) Score(x [][]float64, sources, targets []int, lag int) float64 {
	t := len(x)
	if t <= lag || len(sources) == 0 || len(targets) == 0 {
		return 0
	}
	var sum float64
	n := 0
	for _, s := range sources {
		for _, tg := range targets {
			c := laggedPearson(x, s, tg, lag)
			sum += math.Abs(c)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// laggedPearson computes the Pearson correlation between column src at
// time t-lag and column tgt at time t, over the valid overlap.
func laggedPearson(x [][]float64, src, tgt, lag int) float64 {
	t := len(x)
	n := t - lag
	if n < 2 {
		return 0
	}
	var sumA, sumB float64
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		a[i] = x[i][src]
		b[i] = x[i+lag][tgt]
		sumA += a[i]
		sumB += b[i]
	}
	meanA := sumA / float64(n)
	meanB := sumB / float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA <= 0 || varB <= 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
