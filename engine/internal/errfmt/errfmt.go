// Package errfmt bounds engine-supplied text before it reaches logs or
// error values.
package errfmt

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxLen caps logged engine output to prevent unbounded propagation.
const MaxLen = 4096

// MaxTagLen caps short identifiers such as message tags.
const MaxTagLen = 64

// truncateUTF8 caps s at limit bytes, backtracking to a valid UTF-8 boundary.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// Truncate caps a string at MaxLen bytes with UTF-8-safe truncation.
func Truncate(s string) string {
	return truncateUTF8(s, MaxLen)
}

// Bytes renders raw stream bytes for a log attribute: invalid UTF-8 becomes
// U+FFFD and anything past MaxLen is replaced by a count of omitted bytes.
func Bytes(b []byte) string {
	s := strings.ToValidUTF8(string(b), "�")
	if len(s) <= MaxLen {
		return s
	}
	kept := truncateUTF8(s, MaxLen)
	return kept + "...(" + strconv.Itoa(len(s)-len(kept)) + " more bytes)"
}

// SanitizeTag validates and truncates a short identifier.
// Returns "" for strings containing control characters.
func SanitizeTag(raw string) string {
	for _, r := range raw {
		if unicode.IsControl(r) {
			return ""
		}
	}
	return truncateUTF8(raw, MaxTagLen)
}
