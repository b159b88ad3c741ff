package mandate

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/assay-sh/assay-core/pkg/dsse"
	"github.com/assay-sh/assay-core/pkg/evidence"
	"github.com/assay-sh/assay-core/pkg/jcs"
)

// hashableContent returns the portion of m that feeds Phase 1
// (mandate_id): m with mandate_id and signature cleared. Both fields
// carry `omitempty` json tags, so clearing and marshaling is sufficient
// to reproduce the hashable content exactly.
func hashableContent(m *Mandate) *Mandate {
	cp := *m
	cp.MandateID = ""
	cp.Signature = nil
	return &cp
}

// signableContent returns Phase 2's input: hashable content with
// mandate_id inserted, still without a signature.
func signableContent(m *Mandate, mandateID string) *Mandate {
	cp := hashableContent(m)
	cp.MandateID = mandateID
	return cp
}

// ComputeMandateID implements Phase 1: sha256(JCS(hashable content)),
// prefixed "sha256:".
func ComputeMandateID(m *Mandate) (string, error) {
	return jcs.Hash(hashableContent(m))
}

// SignMandate implements Phase 2: it computes mandate_id (Phase 1),
// builds the signable content, computes signed_payload_digest,
// constructs the DSSEv1 PAE, signs it with priv, and attaches the
// resulting Signature to a copy of m, which it returns.
func SignMandate(m *Mandate, keyID string, priv ed25519.PrivateKey) (*Mandate, error) {
	mandateID, err := ComputeMandateID(m)
	if err != nil {
		return nil, fmt.Errorf("mandate: compute mandate_id: %w", err)
	}

	signable := signableContent(m, mandateID)
	payload, err := jcs.Canonicalize(signable)
	if err != nil {
		return nil, fmt.Errorf("mandate: canonicalize signable content: %w", err)
	}
	signedDigest := jcs.HashBytes(payload)

	sig, err := dsse.Sign(priv, PayloadType, payload)
	if err != nil {
		return nil, fmt.Errorf("mandate: sign: %w", err)
	}

	out := *m
	out.MandateID = mandateID
	out.Signature = &Signature{
		Version:             1,
		Algorithm:           "ed25519",
		PayloadType:         PayloadType,
		ContentID:           mandateID,
		SignedPayloadDigest: signedDigest,
		KeyID:               keyID,
		Signature:           base64.StdEncoding.EncodeToString(sig),
	}
	return &out, nil
}

// VerifyMandate checks a signed mandate end to end:
// payload-type check, mandate_id/content_id recomputation, key-id and
// Ed25519 signature check against verifyingKey, and signed_payload_digest
// recomputation. Each failure mode is a distinct *Error kind.
func VerifyMandate(m *Mandate, verifyingKey ed25519.PublicKey) error {
	if m.Signature == nil {
		return errKind(KindSignatureInvalid, "mandate has no signature")
	}
	sig := m.Signature

	if sig.PayloadType != PayloadType {
		return errKind(KindPayloadTypeMismatch, sig.PayloadType)
	}

	recomputedID, err := ComputeMandateID(m)
	if err != nil {
		return fmt.Errorf("mandate: recompute mandate_id: %w", err)
	}
	if recomputedID != m.MandateID || recomputedID != sig.ContentID {
		return errKind(KindContentIDMismatch, recomputedID)
	}

	expectedKeyID, err := evidence.ComputeKeyID(verifyingKey)
	if err != nil {
		return fmt.Errorf("mandate: derive key id: %w", err)
	}
	if expectedKeyID != sig.KeyID {
		return errKind(KindKeyIDMismatch, sig.KeyID)
	}

	signable := signableContent(m, recomputedID)
	payload, err := jcs.Canonicalize(signable)
	if err != nil {
		return fmt.Errorf("mandate: canonicalize signable content: %w", err)
	}

	wantDigest := jcs.HashBytes(payload)
	if wantDigest != sig.SignedPayloadDigest {
		return errKind(KindDigestMismatch, sig.SignedPayloadDigest)
	}

	rawSig, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return errKind(KindSignatureInvalid, "malformed base64 signature")
	}
	if !dsse.Verify(verifyingKey, PayloadType, payload, rawSig) {
		return errKind(KindSignatureInvalid, "ed25519 verification failed")
	}

	return nil
}
