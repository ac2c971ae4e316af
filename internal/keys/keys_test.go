package keys_test

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/ldtc-labs/ldtcguard/internal/keys"
)

func testPaths(t *testing.T) keys.Paths {
	t.Helper()
	dir := t.TempDir()
	return keys.Paths{
		PrivPath: filepath.Join(dir, "ed25519_priv.pem"),
		PubPath:  filepath.Join(dir, "ed25519_pub.pem"),
	}
}

func TestEnsure_GeneratesThenLoadsSamePair(t *testing.T) {
	paths := testPaths(t)

	priv1, pub1, err := keys.Ensure(paths)
	if err != nil {
		t.Fatalf("Ensure (generate): %v", err)
	}
	if _, err := os.Stat(paths.PrivPath); err != nil {
		t.Fatalf("private key file not written: %v", err)
	}
	if _, err := os.Stat(paths.PubPath); err != nil {
		t.Fatalf("public key file not written: %v", err)
	}

	priv2, pub2, err := keys.Ensure(paths)
	if err != nil {
		t.Fatalf("Ensure (load): %v", err)
	}
	if !bytes.Equal(priv1, priv2) || !bytes.Equal(pub1, pub2) {
		t.Error("second Ensure should load the same pair, not regenerate")
	}
}

func TestEnsure_RegeneratesOverNonEd25519Key(t *testing.T) {
	paths := testPaths(t)
	if err := os.MkdirAll(filepath.Dir(paths.PrivPath), 0o700); err != nil {
		t.Fatal(err)
	}

	// Plant an ECDSA key where the Ed25519 pair should live.
	ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(ec)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(paths.PrivPath, pemBytes, 0o600); err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&ec.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(paths.PubPath, pubPEM, 0o644); err != nil {
		t.Fatal(err)
	}

	priv, pub, err := keys.Ensure(paths)
	if err != nil {
		t.Fatalf("Ensure should regenerate over a non-Ed25519 key: %v", err)
	}
	if len(priv) == 0 || len(pub) == 0 {
		t.Fatal("regenerated pair is empty")
	}

	// The files on disk are now a loadable Ed25519 pair.
	loaded, err := keys.LoadPublic(paths.PubPath)
	if err != nil {
		t.Fatalf("LoadPublic after regenerate: %v", err)
	}
	if !bytes.Equal(loaded, pub) {
		t.Error("on-disk public key does not match the returned one")
	}
}

func TestFingerprintDER_StableShortHex(t *testing.T) {
	paths := testPaths(t)
	_, pub, err := keys.Ensure(paths)
	if err != nil {
		t.Fatal(err)
	}
	f1, err := keys.FingerprintDER(pub)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := keys.FingerprintDER(pub)
	if err != nil {
		t.Fatal(err)
	}
	if f1 != f2 {
		t.Error("fingerprint should be deterministic")
	}
	if len(f1) != 16 {
		t.Errorf("fingerprint length = %d, want 16 hex chars", len(f1))
	}
	for _, c := range f1 {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Errorf("fingerprint contains non-hex char %q", c)
		}
	}
}
