// Package verifier independently re-checks the artifacts a run produced:
// the audit hash chain's integrity, each indicator bundle's Ed25519
// signature, the byte-for-byte agreement between a bundle's JSONL payload
// and its CBOR sidecar, and that every bundle's audit_prev_hash actually
// appears in the audit log it claims to extend. It reuses
// internal/smelltest.AuditContainsRawLREGValues for the raw-value leak
// scan and internal/cborenc.OrderedMap to reconstruct the exact CBOR
// bytes a bundle's payload should have produced.
package verifier

import (
	"bufio"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ldtc-labs/ldtcguard/internal/cborenc"
	"github.com/ldtc-labs/ldtcguard/internal/smelltest"
)

// ChainStatus is the result of independently re-walking the audit log.
type ChainStatus struct {
	OK          bool
	LastHash    string
	LastCounter uint64
	Hashes      map[string]bool
	Diagnosis   string
}

type auditLine struct {
	Counter  uint64  `json:"counter"`
	Ts       float64 `json:"ts"`
	PrevHash string  `json:"prev_hash"`
	Hash     string  `json:"hash"`
}

// AuditChainStatus re-validates the counter sequence, prev_hash linkage,
// and timestamp monotonicity of the audit log at path. It records the
// first break but keeps reading, so every hash is still collected for the
// prev-hash membership check.
func AuditChainStatus(path string) ChainStatus {
	st := ChainStatus{Hashes: map[string]bool{}}

	f, err := os.Open(path)
	if err != nil {
		st.Diagnosis = "missing_audit"
		return st
	}
	defer f.Close()

	ok := true
	prevHash := "GENESIS"
	var prevCounter uint64
	prevTs := -1.0
	first := true

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	idx := 0
	for scanner.Scan() {
		idx++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec auditLine
		if err := json.Unmarshal(line, &rec); err != nil {
			if ok {
				ok = false
				st.Diagnosis = fmt.Sprintf("exception_reading_audit@line%d", idx)
			}
			continue
		}
		st.Hashes[rec.Hash] = true

		wantCounter := prevCounter + 1
		if !first && rec.Counter != wantCounter {
			if ok {
				ok = false
				st.Diagnosis = fmt.Sprintf("counter_gap@line%d", idx)
			}
		}
		if rec.PrevHash != prevHash {
			if ok {
				ok = false
				st.Diagnosis = fmt.Sprintf("prev_hash_mismatch@line%d", idx)
			}
		}
		if !first && prevTs >= 0 && rec.Ts < prevTs {
			if ok {
				ok = false
				st.Diagnosis = fmt.Sprintf("timestamp_regression@line%d", idx)
			}
		}

		prevCounter = rec.Counter
		prevHash = rec.Hash
		prevTs = rec.Ts
		first = false
	}
	if err := scanner.Err(); err != nil {
		ok = false
		if st.Diagnosis == "" {
			st.Diagnosis = "exception_reading_audit"
		}
	}

	st.OK = ok
	st.LastHash = prevHash
	st.LastCounter = prevCounter
	return st
}

// bundlePayload is the fixed 7-field schema every indicator bundle carries;
// see internal/exporter.BuildAndSign.
type bundlePayload struct {
	NC1           bool   `json:"nc1"`
	SC1           bool   `json:"sc1"`
	MQ            int    `json:"mq"`
	Counter       uint64 `json:"counter"`
	ProfileID     int    `json:"profile_id"`
	AuditPrevHash string `json:"audit_prev_hash"`
	Invalidated   bool   `json:"invalidated"`
}

type bundleLine struct {
	Payload bundlePayload `json:"payload"`
	SigHex  string        `json:"sig"`
}

func (p bundlePayload) reconstructCBOR() ([]byte, error) {
	return cborenc.OrderedMap([]cborenc.Pair{
		{Key: "nc1", Value: p.NC1},
		{Key: "sc1", Value: p.SC1},
		{Key: "mq", Value: p.MQ},
		{Key: "counter", Value: p.Counter},
		{Key: "profile_id", Value: p.ProfileID},
		{Key: "audit_prev_hash", Value: p.AuditPrevHash},
		{Key: "invalidated", Value: p.Invalidated},
	})
}

// Stats tallies verification outcomes across every bundle found.
type Stats struct {
	Total          int
	OKSig          int
	OKCBORMatch    int
	OKPrevInAudit  int
	FailsSig       int
	FailsCBORMatch int
	FailsPrev      int
	SidecarCount   int
}

// VerifyIndicators walks every *.jsonl file in indDir (sorted for
// determinism), checking each bundle line's signature against pub, its
// CBOR sidecar (if a sibling *.cbor file exists) byte-for-byte, and that
// its audit_prev_hash is a hash that actually occurs in auditHashes.
func VerifyIndicators(indDir string, pub ed25519.PublicKey, auditHashes map[string]bool) (Stats, error) {
	var st Stats

	matches, err := filepath.Glob(filepath.Join(indDir, "*.jsonl"))
	if err != nil {
		return st, fmt.Errorf("verifier.VerifyIndicators: glob: %w", err)
	}
	sort.Strings(matches)

	for _, jsonlPath := range matches {
		sidecarPath := strings.TrimSuffix(jsonlPath, ".jsonl") + ".cbor"
		sidecarBytes, sidecarErr := os.ReadFile(sidecarPath)
		hasSidecar := sidecarErr == nil

		f, err := os.Open(jsonlPath)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var bl bundleLine
			if err := json.Unmarshal(line, &bl); err != nil {
				continue
			}
			st.Total++

			reconstructed, err := bl.Payload.reconstructCBOR()
			if err != nil {
				continue
			}

			signed := reconstructed
			if hasSidecar {
				st.SidecarCount++
				signed = sidecarBytes
				if bytesEqual(sidecarBytes, reconstructed) {
					st.OKCBORMatch++
				} else {
					st.FailsCBORMatch++
				}
			}

			sig, err := hexDecode(bl.SigHex)
			if err == nil && ed25519.Verify(pub, signed, sig) {
				st.OKSig++
			} else {
				st.FailsSig++
			}

			if auditHashes[bl.Payload.AuditPrevHash] {
				st.OKPrevInAudit++
			} else {
				st.FailsPrev++
			}
		}
		f.Close()
	}

	return st, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex char %q", c)
	}
}

// AuditContainsRawLREGValues re-exports smelltest's independent raw-value
// scan so callers need only import internal/verifier for a full
// certificate pass.
func AuditContainsRawLREGValues(auditPath string) bool {
	return smelltest.AuditContainsRawLREGValues(auditPath)
}

// Certificate summarizes a full verification pass, the source of the
// CLI's one-line printed certificate.
type Certificate struct {
	AllOK   bool
	Chain   ChainStatus
	Stats   Stats
	PubFpr  string
	RawLeak bool
}

// computeAllOK requires: chain OK AND total>0 AND every signature
// verifies AND (no sidecars present, or all present sidecars byte-match
// their reconstruction) AND every bundle's audit_prev_hash is present in
// the audit log.
func computeAllOK(chain ChainStatus, st Stats) bool {
	if !chain.OK || st.Total == 0 {
		return false
	}
	if st.OKSig != st.Total {
		return false
	}
	if st.SidecarCount > 0 && st.FailsCBORMatch != 0 {
		return false
	}
	if st.OKPrevInAudit != st.Total {
		return false
	}
	return true
}

// Run performs the full certificate pass: chain status, per-bundle
// signature/CBOR/prev-hash checks, and a raw-LREG leak scan of the audit
// log itself.
func Run(indDir, auditPath string, pub ed25519.PublicKey, pubFpr string) (Certificate, error) {
	chain := AuditChainStatus(auditPath)
	st, err := VerifyIndicators(indDir, pub, chain.Hashes)
	if err != nil {
		return Certificate{}, err
	}
	leak := AuditContainsRawLREGValues(auditPath)

	cert := Certificate{
		Chain:   chain,
		Stats:   st,
		PubFpr:  pubFpr,
		RawLeak: leak,
	}
	cert.AllOK = computeAllOK(chain, st) && !leak
	return cert, nil
}
