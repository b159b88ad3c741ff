// Package jcs implements RFC 8785 (JSON Canonicalization Scheme) serialization
// and a strict JSON parsing front end for content that may be attacker
// controlled (event payloads, mandate JSON, pack YAML converted to JSON).
//
// Canonicalization is delegated to github.com/gowebpki/jcs, the reference
// transform used across the pack; this package is responsible for getting
// well-formed, strictly-validated JSON bytes to that transform and for
// exposing the convenience hashing helpers the rest of assay-core builds on.
package jcs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	webpki "github.com/gowebpki/jcs"
)

// Canonicalize returns the RFC 8785 canonical JSON byte form of v.
//
// v is first marshaled with the standard library (so Go struct tags and
// custom MarshalJSON methods are honored), then re-canonicalized by the
// JCS transform, which sorts object keys by UTF-16 code unit order and
// emits the minimal number representation.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: marshal: %w", err)
	}
	out, err := webpki.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform: %w", err)
	}
	return out, nil
}

// CanonicalizeRaw runs the JCS transform directly over already-serialized
// JSON bytes, skipping the marshal step. Callers must have already strict
// validated text with Validate before calling this on untrusted input.
func CanonicalizeRaw(raw []byte) ([]byte, error) {
	out, err := webpki.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform: %w", err)
	}
	return out, nil
}

// Hash returns "sha256:<hex>" over the JCS-canonical form of v.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns "sha256:<hex>" over raw bytes, with no canonicalization.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
