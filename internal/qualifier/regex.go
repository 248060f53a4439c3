package qualifier

import "strings"

// breMeta are the characters with special meaning in a POSIX basic regular
// expression outside a bracket expression.
const breMeta = `\.*$[^`

// EscapeBRE escapes every basic-regular-expression metacharacter in s with a
// single backslash so the result matches s literally.
func EscapeBRE(s string) string {
	if !strings.ContainsAny(s, breMeta) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	// Byte-wise: every metacharacter is ASCII, and invalid UTF-8 must pass
	// through untouched.
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(breMeta, s[i]) >= 0 {
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// BuildRegex turns a literal into an anchored basic regular expression for
// the string matching semantics of op:
//
//	StartsWith       ^lit
//	EndsWith         lit$
//	Eq               ^lit$
//	Containing       lit
//	NotContaining    lit (the caller negates the match)
//
// Any other operation yields the escaped literal. BuildRegex never fails.
func BuildRegex(literal string, op Operation) string {
	escaped := EscapeBRE(literal)
	switch op.Semantics().Anchor {
	case AnchorStart:
		return "^" + escaped
	case AnchorEnd:
		return escaped + "$"
	case AnchorBoth:
		return "^" + escaped + "$"
	default:
		return escaped
	}
}
