// Package dsse implements the Dead Simple Signing Envelope's
// Pre-Authentication Encoding and Ed25519 sign/verify helpers shared by
// the mandate engine (pkg/mandate) and the pack verifier (pkg/pack).
package dsse

import (
	"crypto/ed25519"
	"fmt"
	"strconv"
)

// Envelope is the DSSE envelope attached to a signed artifact. Both
// mandates and packs carry one of these, keyed by their own
// PayloadType constant.
type Envelope struct {
	Version             int    `json:"version"`
	Algorithm           string `json:"algorithm"`
	PayloadType         string `json:"payload_type"`
	ContentID           string `json:"content_id"`
	SignedPayloadDigest string `json:"signed_payload_digest"`
	KeyID               string `json:"key_id"`
	Signature           string `json:"signature"` // base64
}

// PAE builds the DSSEv1 Pre-Authentication Encoding:
//
//	"DSSEv1 " || len(payloadType) || " " || payloadType || " " || len(payload) || " " || payload
func PAE(payloadType string, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(payloadType)+32)
	out = append(out, "DSSEv1 "...)
	out = append(out, strconv.Itoa(len(payloadType))...)
	out = append(out, ' ')
	out = append(out, payloadType...)
	out = append(out, ' ')
	out = append(out, strconv.Itoa(len(payload))...)
	out = append(out, ' ')
	out = append(out, payload...)
	return out
}

// Sign signs payload under payloadType with priv, returning the raw
// Ed25519 signature bytes over the PAE. Callers wrap this in an Envelope
// with the key id and digest fields the specific artifact requires.
func Sign(priv ed25519.PrivateKey, payloadType string, payload []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("dsse: invalid private key size %d", len(priv))
	}
	return ed25519.Sign(priv, PAE(payloadType, payload)), nil
}

// Verify reports whether sig is a valid Ed25519 signature over the PAE
// of payload under payloadType, using pub.
func Verify(pub ed25519.PublicKey, payloadType string, payload []byte, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, PAE(payloadType, payload), sig)
}
