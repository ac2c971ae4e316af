// Package exporter builds and signs indicator bundles and writes them to
// disk at a bounded rate. Raw-LREG keys are scanned for twice: once on the
// derived projection before signing, once on the assembled bundle after.
// internal/cborenc.OrderedMap fixes the exact key order the signature is
// computed over.
package exporter

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ldtc-labs/ldtcguard/internal/audit"
	"github.com/ldtc-labs/ldtcguard/internal/budget"
	"github.com/ldtc-labs/ldtcguard/internal/cborenc"
	"github.com/ldtc-labs/ldtcguard/internal/lreg"
)

// bannedKeys are the raw-magnitude fields an indicator bundle must never
// carry.
var bannedKeys = [...]string{"L_loop", "L_ex", "ci_loop", "ci_ex"}

// ErrRawLREGLeak is returned when a derived projection or assembled bundle
// carries a banned raw-LREG key; the export is refused rather than
// silently redacted.
type ErrRawLREGLeak struct{ Key string }

func (e *ErrRawLREGLeak) Error() string {
	return fmt.Sprintf("exporter: banned raw LREG key %q present in export payload", e.Key)
}

// ScanForRawKeys walks v depth-first over maps and slices and returns an
// ErrRawLREGLeak for the first banned key found.
func ScanForRawKeys(v any) error {
	switch x := v.(type) {
	case map[string]any:
		for k, vv := range x {
			for _, banned := range bannedKeys {
				if k == banned {
					return &ErrRawLREGLeak{Key: k}
				}
			}
			if err := ScanForRawKeys(vv); err != nil {
				return err
			}
		}
	case []any:
		for _, vv := range x {
			if err := ScanForRawKeys(vv); err != nil {
				return err
			}
		}
	}
	return nil
}

// IndicatorConfig carries the thresholds and profile tag embedded in every
// bundle.
type IndicatorConfig struct {
	MminDB    float64
	ProfileID int
}

// QuantizeM clamps round(M(dB)/0.25) to [0,63], the 6-bit margin
// quantization carried in signed payloads. Exact .5 boundaries round to
// even so independently produced bundles stay bit-identical.
func QuantizeM(mDB float64) int {
	q := math.RoundToEven(mDB / 0.25)
	if q < 0 {
		q = 0
	}
	if q > 63 {
		q = 63
	}
	return int(q)
}

// BuildAndSign assembles the ordered indicator payload, CBOR-encodes it,
// and signs the CBOR bytes. Payload key order: nc1, sc1, mq, counter,
// profile_id, audit_prev_hash, invalidated.
func BuildAndSign(priv ed25519.PrivateKey, auditPrevHash string, derived lreg.Derived, cfg IndicatorConfig, lastSC1Pass bool) (cborBytes []byte, sig []byte, payload map[string]any, err error) {
	payload = map[string]any{
		"nc1":             derived.NC1,
		"sc1":             lastSC1Pass,
		"mq":              QuantizeM(derived.MDB),
		"counter":         derived.Counter,
		"profile_id":      cfg.ProfileID,
		"audit_prev_hash": auditPrevHash,
		"invalidated":     derived.Invalidated,
	}
	if err := ScanForRawKeys(payload); err != nil {
		return nil, nil, nil, err
	}

	pairs := []cborenc.Pair{
		{Key: "nc1", Value: payload["nc1"]},
		{Key: "sc1", Value: payload["sc1"]},
		{Key: "mq", Value: payload["mq"]},
		{Key: "counter", Value: payload["counter"]},
		{Key: "profile_id", Value: payload["profile_id"]},
		{Key: "audit_prev_hash", Value: payload["audit_prev_hash"]},
		{Key: "invalidated", Value: payload["invalidated"]},
	}
	cborBytes, err = cborenc.OrderedMap(pairs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("exporter.BuildAndSign: encode: %w", err)
	}

	sig = ed25519.Sign(priv, cborBytes)

	bundle := map[string]any{"payload": payload, "sig": sig}
	if err := ScanForRawKeys(bundle); err != nil {
		return nil, nil, nil, err
	}

	return cborBytes, sig, payload, nil
}

// Bundle is the on-disk JSONL representation of one signed indicator.
type Bundle struct {
	Payload map[string]any `json:"payload"`
	SigHex  string         `json:"sig"`
}

// Exporter rate-limits, signs, and writes indicator bundles.
type Exporter struct {
	mu      sync.Mutex
	outDir  string
	limiter *budget.Bucket
	cfg     IndicatorConfig
	priv    ed25519.PrivateKey
}

// New creates an Exporter writing to outDir, rate-limited to at most
// rateHz bundles per second.
func New(outDir string, rateHz float64, priv ed25519.PrivateKey, cfg IndicatorConfig) (*Exporter, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("exporter.New: mkdir %q: %w", outDir, err)
	}
	capacity := int(rateHz + 0.5)
	if capacity < 1 {
		capacity = 1
	}
	return &Exporter{
		outDir:  outDir,
		limiter: budget.New(capacity, time.Second),
		cfg:     cfg,
		priv:    priv,
	}, nil
}

// Close releases the exporter's rate-limiter resources.
func (e *Exporter) Close() { e.limiter.Close() }

// MaybeExport rate-gates, signs, and writes one indicator bundle: returns
// (false, "") when the rate limit refuses the attempt, otherwise writes a
// .jsonl append line and a .cbor sidecar file sharing a base filename
// timestamped to the millisecond.
func (e *Exporter) MaybeExport(auditLog *audit.Log, derived lreg.Derived, lastSC1Pass bool, now time.Time) (exported bool, basePath string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.limiter.Consume(1) {
		return false, "", nil
	}

	cborBytes, sig, payload, err := BuildAndSign(e.priv, auditLog.LastHash(), derived, e.cfg, lastSC1Pass)
	if err != nil {
		return false, "", err
	}

	base := filepath.Join(e.outDir, fmt.Sprintf("ind_%d", now.UnixMilli()))
	if err := appendJSONLBundle(base+".jsonl", payload, sig); err != nil {
		return false, "", err
	}
	if err := os.WriteFile(base+".cbor", cborBytes, 0o644); err != nil {
		return false, "", fmt.Errorf("exporter.MaybeExport: write cbor: %w", err)
	}

	return true, base, nil
}

func appendJSONLBundle(path string, payload map[string]any, sig []byte) error {
	line, err := marshalSortedBundleLine(payload, sig)
	if err != nil {
		return fmt.Errorf("exporter: marshal bundle line: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("exporter: open %q: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("exporter: write %q: %w", path, err)
	}
	return nil
}

// marshalSortedBundleLine renders {"payload": {...sorted...}, "sig": hex}
// with sorted keys at every level, one newline-terminated line.
func marshalSortedBundleLine(payload map[string]any, sig []byte) ([]byte, error) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b []byte
	b = append(b, `{"payload":{`...)
	for i, k := range keys {
		if i > 0 {
			b = append(b, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(payload[k])
		if err != nil {
			return nil, err
		}
		b = append(b, kb...)
		b = append(b, ':')
		b = append(b, vb...)
	}
	b = append(b, `},"sig":`...)
	sigHex, err := json.Marshal(fmt.Sprintf("%x", sig))
	if err != nil {
		return nil, err
	}
	b = append(b, sigHex...)
	b = append(b, '}', '\n')
	return b, nil
}
