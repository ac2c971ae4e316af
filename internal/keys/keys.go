// Package keys manages the Ed25519 key pair used to sign exported
// indicator bundles, stored as PEM files on disk: load existing keys if
// present, generate and persist a new pair if absent, and regenerate in
// place if the existing files hold a non-Ed25519 key.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// Paths names the filesystem locations of the private and public key PEM
// files.
type Paths struct {
	PrivPath string
	PubPath  string
}

const (
	privPEMType = "PRIVATE KEY"
	pubPEMType  = "PUBLIC KEY"
)

// Ensure loads the Ed25519 key pair at paths, generating and persisting one
// if no files exist, or regenerating in place if the existing files do not
// hold an Ed25519 key pair.
func Ensure(paths Paths) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if err := os.MkdirAll(filepath.Dir(paths.PrivPath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("keys.Ensure: create key dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(paths.PubPath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("keys.Ensure: create key dir: %w", err)
	}

	if _, err := os.Stat(paths.PrivPath); os.IsNotExist(err) {
		return generate(paths)
	}

	priv, pub, err := load(paths)
	if err == nil {
		return priv, pub, nil
	}
	// Existing files are unreadable or not Ed25519: regenerate in place.
	return generate(paths)
}

func generate(paths Paths) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("keys.Ensure: generate: %w", err)
	}
	if err := writePriv(paths.PrivPath, priv); err != nil {
		return nil, nil, err
	}
	if err := writePub(paths.PubPath, pub); err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

func load(paths Paths) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privBytes, err := os.ReadFile(paths.PrivPath)
	if err != nil {
		return nil, nil, fmt.Errorf("keys.Ensure: read private key: %w", err)
	}
	pubBytes, err := os.ReadFile(paths.PubPath)
	if err != nil {
		return nil, nil, fmt.Errorf("keys.Ensure: read public key: %w", err)
	}

	privBlock, _ := pem.Decode(privBytes)
	if privBlock == nil {
		return nil, nil, fmt.Errorf("keys.Ensure: no PEM block in %s", paths.PrivPath)
	}
	privAny, err := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("keys.Ensure: parse private key: %w", err)
	}
	priv, ok := privAny.(ed25519.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("keys.Ensure: private key at %s is not Ed25519", paths.PrivPath)
	}

	pubBlock, _ := pem.Decode(pubBytes)
	if pubBlock == nil {
		return nil, nil, fmt.Errorf("keys.Ensure: no PEM block in %s", paths.PubPath)
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("keys.Ensure: parse public key: %w", err)
	}
	pub, ok := pubAny.(ed25519.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("keys.Ensure: public key at %s is not Ed25519", paths.PubPath)
	}

	return priv, pub, nil
}

func writePriv(path string, priv ed25519.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("keys.Ensure: marshal private key: %w", err)
	}
	block := &pem.Block{Type: privPEMType, Bytes: der}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}

func writePub(path string, pub ed25519.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("keys.Ensure: marshal public key: %w", err)
	}
	block := &pem.Block{Type: pubPEMType, Bytes: der}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o644)
}

// LoadPublic loads only the public key from path, for verifier use.
func LoadPublic(path string) (ed25519.PublicKey, error) {
	pubBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys.LoadPublic: %w", err)
	}
	block, _ := pem.Decode(pubBytes)
	if block == nil {
		return nil, fmt.Errorf("keys.LoadPublic: no PEM block in %s", path)
	}
	pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys.LoadPublic: parse: %w", err)
	}
	pub, ok := pubAny.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys.LoadPublic: key at %s is not Ed25519", path)
	}
	return pub, nil
}

// FingerprintDER returns the first 16 hex characters of SHA-256(DER),
// the short key fingerprint printed in verification certificates.
func FingerprintDER(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("keys.FingerprintDER: marshal: %w", err)
	}
	return fingerprintHex(der), nil
}

// fingerprintHex returns the first 16 hex characters of SHA-256(der).
func fingerprintHex(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])[:16]
}
