package jcs

import "fmt"

// ErrorKind identifies a strict-parse contract violation. Each kind is
// distinct and catchable via errors.As against *Error.
type ErrorKind string

const (
	KindDuplicateKey         ErrorKind = "DuplicateKey"
	KindLoneSurrogate        ErrorKind = "LoneSurrogate"
	KindInvalidUnicodeEscape ErrorKind = "InvalidUnicodeEscape"
	KindNestingTooDeep       ErrorKind = "NestingTooDeep"
	KindStringTooLong        ErrorKind = "StringTooLong"
	KindMaxKeysExceeded      ErrorKind = "MaxKeysExceeded"
	KindInputTooLarge        ErrorKind = "InputTooLarge"
	KindMalformed            ErrorKind = "Malformed"
)

// Error is a strict-parse contract violation with enough structure for a
// caller to report it (and for the evaluator to surface it as a finding).
type Error struct {
	Kind ErrorKind

	// DuplicateKey
	Key  string
	Path string

	// LoneSurrogate / InvalidUnicodeEscape
	Position  int
	Codepoint rune

	// NestingTooDeep
	Depth int

	// StringTooLong / InputTooLarge
	Length int

	// MaxKeysExceeded
	Count int

	Msg string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindDuplicateKey:
		return fmt.Sprintf("jcs: duplicate key %q at %s", e.Key, e.Path)
	case KindLoneSurrogate:
		return fmt.Sprintf("jcs: lone surrogate U+%04X at position %d", e.Codepoint, e.Position)
	case KindInvalidUnicodeEscape:
		return fmt.Sprintf("jcs: invalid unicode escape at position %d", e.Position)
	case KindNestingTooDeep:
		return fmt.Sprintf("jcs: nesting depth %d exceeds maximum", e.Depth)
	case KindStringTooLong:
		return fmt.Sprintf("jcs: string length %d exceeds maximum", e.Length)
	case KindMaxKeysExceeded:
		return fmt.Sprintf("jcs: object key count %d exceeds maximum", e.Count)
	case KindInputTooLarge:
		return fmt.Sprintf("jcs: input size %d exceeds maximum", e.Length)
	default:
		return fmt.Sprintf("jcs: %s", e.Msg)
	}
}
