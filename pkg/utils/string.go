package utils

import (
	"strings"
	"unicode"
)

// SanitizeString removes control characters and surrounding whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateString shortens s to at most maxLen runes, marking the cut with
// "..." when there is room for it.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

const maskLen = 6

// MaskSensitive keeps the first visibleChars bytes of s and replaces the rest
// with a fixed-width mask, so the secret's length is not revealed.
func MaskSensitive(s string, visibleChars int) string {
	if len(s) <= visibleChars {
		return strings.Repeat("*", maskLen)
	}
	return s[:visibleChars] + strings.Repeat("*", maskLen)
}
