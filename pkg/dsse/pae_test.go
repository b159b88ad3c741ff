package dsse

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPAE_MatchesDSSEv1Wire(t *testing.T) {
	got := PAE("application/vnd.assay.mandate+json;v=1", []byte(`{"a":1}`))
	want := `DSSEv1 38 application/vnd.assay.mandate+json;v=1 7 {"a":1}`
	assert.Equal(t, want, string(got))
}

func TestPAE_PackPayloadTypeLength(t *testing.T) {
	// The payload type constants are wire-pinned at 35 and 38 bytes.
	assert.Len(t, "application/vnd.assay.pack+yaml;v=1", 35)
	assert.Len(t, "application/vnd.assay.mandate+json;v=1", 38)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	payload := []byte(`{"mandate_id":"sha256:abc"}`)
	sig, err := Sign(priv, "application/vnd.assay.mandate+json;v=1", payload)
	require.NoError(t, err)

	assert.True(t, Verify(pub, "application/vnd.assay.mandate+json;v=1", payload, sig))
}

func TestVerify_FailsOnBitFlip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	payload := []byte(`{"mandate_id":"sha256:abc"}`)
	sig, err := Sign(priv, "application/vnd.assay.mandate+json;v=1", payload)
	require.NoError(t, err)

	flipped := append([]byte(nil), payload...)
	flipped[0] ^= 0x01
	assert.False(t, Verify(pub, "application/vnd.assay.mandate+json;v=1", flipped, sig))
}

func TestVerify_FailsWithWrongKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	payload := []byte(`{"mandate_id":"sha256:abc"}`)
	sig, err := Sign(priv, "application/vnd.assay.mandate+json;v=1", payload)
	require.NoError(t, err)

	assert.False(t, Verify(otherPub, "application/vnd.assay.mandate+json;v=1", payload, sig))
}
