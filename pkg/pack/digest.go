package pack

import "github.com/assay-sh/assay-core/pkg/jcs"

// Digest computes the canonical content digest of a loaded pack: the
// RFC 8785 JCS hash of the pack's JSON projection, prefixed
// "sha256:" per the rest of the module's digest convention. Two
// pack.yaml documents that decode to the same Pack value always
// produce the same digest regardless of key order or formatting.
func Digest(p *Pack) (string, error) {
	return jcs.Hash(p)
}

// VerifyDigest reports whether p's canonical digest equals want.
func VerifyDigest(p *Pack, want string) (bool, error) {
	got, err := Digest(p)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
