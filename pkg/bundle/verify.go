package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Warning is a non-fatal verification finding: verification treats
// size mismatches and secret hits under outputs/ as warnings rather
// than errors.
type Warning struct {
	Kind string
	Path string
	Msg  string
}

// Result is the outcome of Verify: a bundle with no Errors (returned as
// a Go error from Verify itself) but possibly non-empty Warnings passed
// integrity and scan checks, just with anomalies worth surfacing.
type Result struct {
	Warnings []Warning
}

// forbiddenPatterns are the secret-scan signatures:
// common secret regexes, Authorization headers, and sk-* API key
// prefixes (OpenAI-style and this project's own DSSE-adjacent tokens).
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)authorization:\s*bearer\s+\S+`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{16,}\b`),
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),              // AWS access key id
	regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)"(api[_-]?key|secret|token)"\s*:\s*"[^"]{12,}"`),
}

// Verify performs the integrity and secret-scan pass over an
// already-decoded Bundle: every manifest file entry must exist with a
// matching sha256 (a size-only mismatch is a Warning, a hash mismatch or
// missing file is a fatal *Error), extra archive entries not referenced
// by the manifest are allowed, and file contents are scanned for
// forbidden patterns under a prefix-scoped policy — hard error under
// cassettes/ and files/, warning only under outputs/.
func Verify(b *Bundle) (*Result, error) {
	res := &Result{}

	for path, entry := range b.Manifest.Files {
		data, ok := b.Files[path]
		if !ok {
			return nil, &Error{Kind: KindMissingInBundle, Path: path}
		}
		sum := sha256.Sum256(data)
		gotHash := hex.EncodeToString(sum[:])
		if gotHash != entry.SHA256 {
			return nil, &Error{Kind: KindHashMismatch, Path: path, Expected: entry.SHA256, Actual: gotHash}
		}
		if int64(len(data)) != entry.Bytes {
			res.Warnings = append(res.Warnings, Warning{
				Kind: string(KindSizeMismatch),
				Path: path,
				Msg:  "manifest size does not match archive content",
			})
		}
	}

	for path, data := range b.Files {
		policy := scanPolicy(path)
		if policy == scanNone {
			continue
		}
		if pat := firstForbiddenMatch(data); pat != "" {
			if policy == scanHard {
				return nil, &Error{Kind: KindForbiddenPattern, Path: path, Msg: pat}
			}
			res.Warnings = append(res.Warnings, Warning{
				Kind: string(KindForbiddenPattern),
				Path: path,
				Msg:  pat,
			})
		}
	}

	return res, nil
}

type scanPolicyKind int

const (
	scanNone scanPolicyKind = iota
	scanHard
	scanWarn
)

// scanPolicy maps an archive path to its secret-scan enforcement level:
// cassettes/ and files/ are hard errors (recorded network/tool input is
// never expected to carry live credentials), outputs/ is warn-only
// (tool or model output may legitimately echo user-supplied text that
// happens to match a pattern).
func scanPolicy(path string) scanPolicyKind {
	switch {
	case strings.HasPrefix(path, "cassettes/"), strings.HasPrefix(path, "files/"):
		return scanHard
	case strings.HasPrefix(path, "outputs/"):
		return scanWarn
	default:
		return scanNone
	}
}

func firstForbiddenMatch(data []byte) string {
	for _, pat := range forbiddenPatterns {
		if pat.Match(data) {
			return pat.String()
		}
	}
	return ""
}
