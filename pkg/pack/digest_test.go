package pack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestIsStableAcrossKeyOrder(t *testing.T) {
	a, err := LoadBytes([]byte(`
name: order-pack
version: "1.0.0"
description: d
rules:
  - id: r1
    severity: error
    description: d
    check: {kind: event_count, min: 1}
`))
	require.NoError(t, err)

	b, err := LoadBytes([]byte(`
version: "1.0.0"
name: order-pack
rules:
  - description: d
    id: r1
    check: {min: 1, kind: event_count}
    severity: error
description: d
`))
	require.NoError(t, err)

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestVerifyDigestDetectsMismatch(t *testing.T) {
	p, err := LoadBytes([]byte(validPack))
	require.NoError(t, err)
	ok, err := VerifyDigest(p, "sha256:0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.False(t, ok)
}
