package protectql

import "strings"

// Normalizer canonicalizes a string before a deterministic search term is
// computed from it, enabling case-insensitive or format-agnostic matches.
//
// Use the same normalizer on write and on search; mixing them breaks lookups.
type Normalizer func(string) string

// NormalizeEmail lowercases and trims, for email addresses.
var NormalizeEmail Normalizer = func(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone keeps ASCII digits only.
var NormalizePhone Normalizer = func(s string) string {
	var digits strings.Builder
	digits.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String()
}

// NormalizeNone is the identity, for exact case-sensitive matches.
var NormalizeNone Normalizer = func(s string) string { return s }

// NormalizeTrim trims surrounding whitespace, preserving case.
var NormalizeTrim Normalizer = func(s string) string { return strings.TrimSpace(s) }

// matchTokens splits free text into the lowercased word tokens a match index
// is built from. LIKE wildcards are stripped so a pattern like "%alice%"
// produces the same tokens as the stored text it should match.
func matchTokens(s string) []string {
	s = strings.ToLower(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '%', '_', ' ', '\t', '\n', '\r', ',', ';', ':', '.', '!', '?':
			return true
		}
		return false
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
