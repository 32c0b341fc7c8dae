package util

import (
	"slices"
	"strings"
)

// SafeTruncate truncates s to at most maxLen bytes without panicking.
// A negative maxLen yields an empty string.
//
//	SafeTruncate("very-long-grant-type", 8) // "very-lon"
//	SafeTruncate("short", 10)               // "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ParseScope splits a space-delimited scope string (RFC 6749 section 3.3) into its
// distinct tokens, keeping first-seen order.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	out := fields[:0]
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// JoinScope renders scope tokens as a space-delimited string.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// NormalizeScope returns scope with duplicate and redundant whitespace removed.
func NormalizeScope(scope string) string {
	return JoinScope(ParseScope(scope))
}

// ScopeSubset reports whether every token of requested appears in granted.
func ScopeSubset(requested, granted string) bool {
	allowed := ParseScope(granted)
	for _, s := range ParseScope(requested) {
		if !slices.Contains(allowed, s) {
			return false
		}
	}
	return true
}
