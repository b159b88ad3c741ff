package keyring

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveSigningKey derives a deterministic per-audience Ed25519 keypair
// from a root seed using HKDF-SHA256, with "assay/mandate-signing/"
// followed by the audience as the info string. Issuers that serve many audiences from one root secret get a
// distinct, reproducible signing key per audience, so revoking one
// audience's key never touches the others.
func DeriveSigningKey(rootSeed []byte, audience string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("keyring: root seed must be %d bytes, got %d", ed25519.SeedSize, len(rootSeed))
	}
	if audience == "" {
		return nil, nil, fmt.Errorf("keyring: audience must not be empty")
	}

	kdf := hkdf.New(sha256.New, rootSeed, nil, []byte("assay/mandate-signing/"+audience))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, nil, fmt.Errorf("keyring: derive seed: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv, nil
}
