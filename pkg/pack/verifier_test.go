package pack

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assay-sh/assay-core/pkg/dsse"
	"github.com/assay-sh/assay-core/pkg/keyring"
)

func signedPack(t *testing.T) ([]byte, *Pack, *dsse.Envelope, ed25519.PublicKey) {
	t.Helper()
	content := []byte(validPack)
	p, err := LoadBytes(content)
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	digest, err := Digest(p)
	require.NoError(t, err)

	sig, err := dsse.Sign(priv, PayloadType, content)
	require.NoError(t, err)

	env := &dsse.Envelope{
		Version: 1, Algorithm: "ed25519", PayloadType: PayloadType,
		ContentID: digest, KeyID: "key-1", Signature: base64.StdEncoding.EncodeToString(sig),
	}
	return content, p, env, pub
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	content, p, env, pub := signedPack(t)
	ring := keyring.New()
	ring.Add(keyring.Key{KeyID: "key-1", PublicKey: pub})

	err := Verify(content, p, env.ContentID, env, &TrustStore{Keys: ring}, VerifyOptions{Now: time.Now()})
	require.NoError(t, err)
}

func TestVerifyRejectsUnknownKey(t *testing.T) {
	content, p, env, _ := signedPack(t)
	ring := keyring.New()

	err := Verify(content, p, env.ContentID, env, &TrustStore{Keys: ring}, VerifyOptions{Now: time.Now()})
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindSignatureInvalid, perr.Kind)
}

func TestVerifyRejectsRevokedKey(t *testing.T) {
	content, p, env, pub := signedPack(t)
	ring := keyring.New()
	now := time.Now()
	ring.Add(keyring.Key{KeyID: "key-1", PublicKey: pub})
	ring.Revoke("key-1", now.Add(-time.Minute))

	err := Verify(content, p, env.ContentID, env, &TrustStore{Keys: ring}, VerifyOptions{Now: now})
	require.Error(t, err)
}

func TestVerifyRejectsUnsignedUnlessAllowed(t *testing.T) {
	content, p, _, _ := signedPack(t)
	digest, err := Digest(p)
	require.NoError(t, err)

	err = Verify(content, p, digest, nil, &TrustStore{Keys: keyring.New()}, VerifyOptions{})
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUnsigned, perr.Kind)

	err = Verify(content, p, digest, nil, &TrustStore{Keys: keyring.New()}, VerifyOptions{AllowUnsigned: true})
	require.NoError(t, err)
}

func TestVerifyRejectsDigestMismatch(t *testing.T) {
	content, p, env, pub := signedPack(t)
	ring := keyring.New()
	ring.Add(keyring.Key{KeyID: "key-1", PublicKey: pub})

	err := Verify(content, p, "sha256:deadbeef", env, &TrustStore{Keys: ring}, VerifyOptions{Now: time.Now()})
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindDigestMismatch, perr.Kind)
}
