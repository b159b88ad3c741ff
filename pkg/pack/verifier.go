package pack

import (
	"encoding/base64"
	"time"

	"github.com/assay-sh/assay-core/pkg/dsse"
	"github.com/assay-sh/assay-core/pkg/keyring"
)

// PayloadType is the DSSE payload type a pack's signature envelope is
// signed under, wire-pinned at exactly 35 bytes.
const PayloadType = "application/vnd.assay.pack+yaml;v=1"

// TrustStore resolves which keys are trusted to sign packs.
type TrustStore struct {
	Keys *keyring.KeyRing
}

// VerifyOptions configures Verify's behavior.
type VerifyOptions struct {
	// AllowUnsigned permits an envelope-less pack to pass verification,
	// a development-only escape hatch. Production
	// configurations must leave this false.
	AllowUnsigned bool
	Now           time.Time
}

// Verify checks content's canonical digest against digestHeader
// (the registry's X-Pack-Digest), and, when an envelope is present, that
// the envelope's signed payload equals content and carries a
// signature from a key trust.Keys considers active. content is the
// raw pack document bytes as fetched (YAML), matching the
// "application/vnd.assay.pack+yaml" payload type.
func Verify(content []byte, p *Pack, digestHeader string, envelope *dsse.Envelope, trust *TrustStore, opts VerifyOptions) error {
	digest, err := Digest(p)
	if err != nil {
		return err
	}
	if digestHeader != "" && digestHeader != digest {
		return &Error{Kind: KindDigestMismatch, Msg: digestHeader}
	}

	if envelope == nil {
		if opts.AllowUnsigned {
			return nil
		}
		return &Error{Kind: KindUnsigned, Ref: p.Name}
	}

	if envelope.PayloadType != PayloadType {
		return &Error{Kind: KindSignatureInvalid, Msg: "payload_type mismatch: " + envelope.PayloadType}
	}
	if envelope.ContentID != digest {
		return &Error{Kind: KindDigestMismatch, Msg: envelope.ContentID}
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	sig, err := base64.StdEncoding.DecodeString(envelope.Signature)
	if err != nil {
		return &Error{Kind: KindSignatureInvalid, Msg: "malformed base64 signature"}
	}

	pae := dsse.PAE(PayloadType, content)
	ok, err := trust.Keys.Verify(envelope.KeyID, now, pae, sig)
	if err != nil {
		return &Error{Kind: KindSignatureInvalid, Msg: err.Error()}
	}
	if !ok {
		return &Error{Kind: KindSignatureInvalid, Ref: p.Name}
	}
	return nil
}
