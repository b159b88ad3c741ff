package mandate

import "strings"

// MatchToolScope reports whether name matches any pattern in scope per
// the tool-pattern glob semantics:
//   - "*" matches any run of characters except "."  (single-segment)
//   - "**" matches any characters including "."      (multi-segment)
//   - "\X" is a literal X (escapes "*" and "\")
//   - matching is case-sensitive
func MatchToolScope(patterns []string, name string) bool {
	for _, p := range patterns {
		if globMatch(p, name) {
			return true
		}
	}
	return false
}

// globMatch implements the single-pattern match via a small backtracking
// matcher over the compiled token list, since "*" and "**" need
// different "can this wildcard eat a dot" semantics that regexp can
// express but that a hand-rolled scanner keeps simpler to reason about
// for escaping.
func globMatch(pattern, name string) bool {
	toks := compileGlob(pattern)
	return matchTokens(toks, 0, name)
}

type globTokenKind int

const (
	tokLiteral globTokenKind = iota
	tokStar          // *  - excludes '.'
	tokDoubleStar    // ** - includes everything
)

type globToken struct {
	kind    globTokenKind
	literal byte
}

// compileGlob lexes a pattern into literal bytes and wildcard tokens,
// honoring backslash escapes for '*' and '\'.
func compileGlob(pattern string) []globToken {
	var toks []globToken
	i := 0
	for i < len(pattern) {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			toks = append(toks, globToken{kind: tokLiteral, literal: pattern[i+1]})
			i += 2
		case c == '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				toks = append(toks, globToken{kind: tokDoubleStar})
				i += 2
			} else {
				toks = append(toks, globToken{kind: tokStar})
				i++
			}
		default:
			toks = append(toks, globToken{kind: tokLiteral, literal: c})
			i++
		}
	}
	return toks
}

// matchTokens recursively matches the compiled token stream against the
// remainder of name, backtracking over wildcard tokens.
func matchTokens(toks []globToken, ti int, name string) bool {
	if ti == len(toks) {
		return name == ""
	}
	tok := toks[ti]
	switch tok.kind {
	case tokLiteral:
		if len(name) == 0 || name[0] != tok.literal {
			return false
		}
		return matchTokens(toks, ti+1, name[1:])
	case tokStar:
		for cut := 0; cut <= len(name); cut++ {
			segment := name[:cut]
			if strings.Contains(segment, ".") {
				break // "*" may not consume '.'
			}
			if matchTokens(toks, ti+1, name[cut:]) {
				return true
			}
		}
		return false
	case tokDoubleStar:
		for cut := 0; cut <= len(name); cut++ {
			if matchTokens(toks, ti+1, name[cut:]) {
				return true
			}
		}
		return false
	}
	return false
}
