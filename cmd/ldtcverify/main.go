// Package main — cmd/ldtcverify/main.go
//
// ldtcverify independently re-checks the artifacts a run produced: the
// audit hash chain, every indicator bundle's Ed25519 signature, the
// byte-equality of each CBOR sidecar against its canonical
// reconstruction, and every bundle's audit_prev_hash membership in the
// audit log. It shares no state with ldtcguard beyond the public key and
// the artifact files, so a verifier operator can run it on a different
// machine.
//
// Output is a one-line certificate; the exit code is non-zero on any
// failure, so the tool composes with shell pipelines and CI gates.
//
// Usage:
//
//	ldtcverify -pub artifacts/keys/ed25519_pub.pem \
//	           -ind-dir artifacts/indicators \
//	           -audit /var/lib/ldtcguard/audit.jsonl
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ldtc-labs/ldtcguard/internal/keys"
	"github.com/ldtc-labs/ldtcguard/internal/verifier"
)

func main() {
	pubPath := flag.String("pub", "artifacts/keys/ed25519_pub.pem", "Ed25519 public key (PEM, SubjectPublicKeyInfo)")
	indDir := flag.String("ind-dir", "artifacts/indicators", "Directory of indicator bundle files (*.jsonl, *.cbor)")
	auditPath := flag.String("audit", "/var/lib/ldtcguard/audit.jsonl", "Append-only audit log")
	flag.Parse()

	pub, err := keys.LoadPublic(*pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ldtcverify: %v\n", err)
		os.Exit(2)
	}
	fpr, err := keys.FingerprintDER(pub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ldtcverify: %v\n", err)
		os.Exit(2)
	}

	cert, err := verifier.Run(*indDir, *auditPath, pub, fpr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ldtcverify: %v\n", err)
		os.Exit(2)
	}

	chainWord := "OK"
	if !cert.Chain.OK {
		chainWord = "BROKEN(" + cert.Chain.Diagnosis + ")"
	}
	verdict := "PASS"
	if !cert.AllOK {
		verdict = "FAIL"
	}
	fmt.Printf("ldtcverify %s pub=%s audit_chain=%s records=%d bundles=%d sig_ok=%d cbor_ok=%d prev_ok=%d raw_leak=%t\n",
		verdict, cert.PubFpr, chainWord, cert.Chain.LastCounter,
		cert.Stats.Total, cert.Stats.OKSig, cert.Stats.OKCBORMatch, cert.Stats.OKPrevInAudit, cert.RawLeak)

	if !cert.AllOK {
		os.Exit(1)
	}
}
