// Package pack implements the policy pack engine: a strict YAML
// pack loader pinned by canonical digest, a resolver implementing
// a fixed precedence order, an HTTP registry client, a
// DSSE-signature verifier, and the rule evaluator that turns a loaded
// pack and an evidence bundle into findings.
package pack

import "fmt"

// ErrorKind identifies a distinct, catchable pack failure per
// the pack error taxonomy.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "NotFound"
	KindYAMLParseError      ErrorKind = "YamlParseError"
	KindUnknownField        ErrorKind = "UnknownField"
	KindIncompatibleVersion ErrorKind = "IncompatibleVersion"
	KindUnsigned            ErrorKind = "Unsigned"
	KindComplianceCollision ErrorKind = "ComplianceCollision"
	KindUnauthorized        ErrorKind = "Unauthorized"
	KindRateLimited         ErrorKind = "RateLimited"
	KindNetwork             ErrorKind = "Network"
	KindDigestMismatch      ErrorKind = "DigestMismatch"
	KindRevoked             ErrorKind = "Revoked"
	KindSignatureInvalid    ErrorKind = "SignatureInvalid"
	KindSafetyViolation     ErrorKind = "SafetyViolation"
)

// Error is a typed, catchable pack failure.
type Error struct {
	Kind        ErrorKind
	Ref         string
	Suggestion  string
	RetryAfter  int // seconds, RateLimited only
	Reason      string
	SafeVersion string
	Msg         string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		if e.Suggestion != "" {
			return fmt.Sprintf("pack: %q not found, did you mean %q?", e.Ref, e.Suggestion)
		}
		return fmt.Sprintf("pack: %q not found", e.Ref)
	case KindRevoked:
		if e.SafeVersion != "" {
			return fmt.Sprintf("pack: revoked (%s); safe replacement version %s", e.Reason, e.SafeVersion)
		}
		return fmt.Sprintf("pack: revoked (%s)", e.Reason)
	case KindRateLimited:
		return fmt.Sprintf("pack: rate limited, retry after %ds", e.RetryAfter)
	default:
		if e.Msg != "" {
			return fmt.Sprintf("pack: %s: %s", e.Kind, e.Msg)
		}
		return fmt.Sprintf("pack: %s", e.Kind)
	}
}

func errKind(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}
