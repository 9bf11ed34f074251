package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// KeyStore persists the Ledger Authority's asymmetric signing key pair on
// disk, generating one on first boot (spec.md §4.3). It uses ed25519
// rather than an RSA-2048 keypair: both meet the "2048-bit asymmetric
// scheme equivalent" security bar spec.md asks for, and ed25519 is the
// idiomatic stdlib-only choice for sign/verify of small, fixed-size
// commitment hashes (see DESIGN.md). The private key never leaves process
// memory once loaded.
type KeyStore struct {
	path       string
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

// NewKeyStore loads the key pair from path, generating and persisting one
// atomically if the file does not exist.
func NewKeyStore(path string) (*KeyStore, error) {
	ks := &KeyStore{path: path}

	raw, err := os.ReadFile(path)
	if err == nil {
		if err := ks.load(raw); err != nil {
			return nil, fmt.Errorf("keystore: load %s: %w", path, err)
		}

		return ks, nil
	}

	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate: %w", err)
	}

	ks.publicKey = pub
	ks.privateKey = priv

	if err := ks.persist(); err != nil {
		return nil, fmt.Errorf("keystore: persist: %w", err)
	}

	return ks, nil
}

func (ks *KeyStore) load(raw []byte) error {
	decoded, err := hex.DecodeString(string(raw))
	if err != nil {
		return err
	}

	if len(decoded) != ed25519.PrivateKeySize {
		return fmt.Errorf("keystore: expected %d bytes, got %d", ed25519.PrivateKeySize, len(decoded))
	}

	ks.privateKey = ed25519.PrivateKey(decoded)
	ks.publicKey = ks.privateKey.Public().(ed25519.PublicKey)

	return nil
}

// persist writes the private key atomically: write to a temp file in the
// same directory, then rename over the target, so a crash mid-write never
// leaves a truncated key on disk.
func (ks *KeyStore) persist() error {
	dir := filepath.Dir(ks.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(hex.EncodeToString(ks.privateKey)); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), ks.path)
}

// PublicKey is exposed for external signature verification.
func (ks *KeyStore) PublicKey() ed25519.PublicKey { return ks.publicKey }

// Sign signs hash with the private key. Never exposes the private key.
func (ks *KeyStore) Sign(hash []byte) []byte {
	return ed25519.Sign(ks.privateKey, hash)
}

// Verify checks sig over hash against pub.
func Verify(pub ed25519.PublicKey, hash, sig []byte) bool {
	return ed25519.Verify(pub, hash, sig)
}
