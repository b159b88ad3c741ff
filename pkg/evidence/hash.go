package evidence

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"

	"github.com/assay-sh/assay-core/pkg/jcs"
)

// contentHashInput returns the strictly enumerated subset of an event
// that feeds the content hash: specversion, type, datacontenttype,
// subject (when set), and data. Every other field — content_hash
// itself, id, time, run_id, seq, producer/provenance, trace context,
// privacy flags — is deliberately excluded so the hash is stable under
// re-export with refreshed timestamps or redacted provenance.
func contentHashInput(e *Event) map[string]any {
	m := map[string]any{
		"specversion":     e.SpecVersion,
		"type":            e.Type,
		"datacontenttype": e.DataContentType,
		"data":            e.Data,
	}
	if e.Subject != "" {
		m["subject"] = e.Subject
	}
	return m
}

// ComputeContentHash computes "sha256:<hex>" over the JCS-canonical form
// of e's content hash input. The result does not depend on e.ContentHash,
// e.ID, e.Time, e.RunID, e.Seq, producer/provenance fields, trace
// context, or privacy flags.
func ComputeContentHash(e *Event) (string, error) {
	return jcs.Hash(contentHashInput(e))
}

// VerifyContentHash reports whether e.ContentHash, if set, equals the
// deterministic recomputation. A blank e.ContentHash is considered
// consistent (not yet hash-sealed).
func VerifyContentHash(e *Event) (bool, error) {
	if e.ContentHash == "" {
		return true, nil
	}
	got, err := ComputeContentHash(e)
	if err != nil {
		return false, err
	}
	return got == e.ContentHash, nil
}

// emptyStringSHA256 is sha256("") — the run root of an empty stream.
const emptyStringSHA256 = "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// ComputeRunRoot computes the SHA-256 hash chain over contentHashes in
// order: sha256(concat(h_i + "\n")) for each hash, prefixed "sha256:".
// An empty slice yields the SHA-256 of the empty string. The result is
// order-sensitive: reordering the same hashes changes the run root.
func ComputeRunRoot(contentHashes []string) string {
	if len(contentHashes) == 0 {
		return emptyStringSHA256
	}
	h := sha256.New()
	for _, ch := range contentHashes {
		h.Write([]byte(ch))
		h.Write([]byte("\n"))
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// ComputeKeyID derives the stable identifier for a signing key:
// "sha256:" over the SHA-256 of the key's SPKI DER encoding.
func ComputeKeyID(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("evidence: marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
