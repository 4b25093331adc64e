package errfmt

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate_ShortPassthrough(t *testing.T) {
	result := Truncate("short message")
	if result != "short message" {
		t.Errorf("Truncate() = %q, want %q", result, "short message")
	}
}

func TestTruncate_LongMessage(t *testing.T) {
	longMsg := strings.Repeat("x", MaxLen+500)
	result := Truncate(longMsg)
	if len(result) > MaxLen {
		t.Errorf("len(result) = %d, want <= %d", len(result), MaxLen)
	}
}

func TestTruncate_UTF8Truncation(t *testing.T) {
	prefix := strings.Repeat("x", MaxLen-2)
	input := prefix + "\U0001F600" // 4-byte emoji at boundary
	result := Truncate(input)
	if len(result) != MaxLen-2 {
		t.Errorf("len(result) = %d, want %d", len(result), MaxLen-2)
	}
	if !utf8.ValidString(result) {
		t.Error("result is not valid UTF-8")
	}
}

func TestBytes_InvalidUTF8(t *testing.T) {
	got := Bytes([]byte{'}', 0xff, 'x'})
	if got != "}�x" {
		t.Errorf("Bytes() = %q", got)
	}
}

func TestBytes_CountsOmitted(t *testing.T) {
	got := Bytes([]byte(strings.Repeat("y", MaxLen+10)))
	want := strings.Repeat("y", MaxLen) + "...(10 more bytes)"
	if got != want {
		t.Errorf("Bytes() suffix = %q", got[MaxLen:])
	}
}

func TestSanitizeTag_Valid(t *testing.T) {
	if got := SanitizeTag("searchResults"); got != "searchResults" {
		t.Errorf("SanitizeTag() = %q", got)
	}
}

func TestSanitizeTag_ControlCharRejected(t *testing.T) {
	for _, in := range []string{"no\x00de", "no\nde", "\tnode"} {
		if got := SanitizeTag(in); got != "" {
			t.Errorf("SanitizeTag(%q) = %q, want empty", in, got)
		}
	}
}

func TestSanitizeTag_MultibyteTruncation(t *testing.T) {
	// 62 ASCII chars + one 3-byte UTF-8 char = 65 bytes, over the limit.
	s := strings.Repeat("a", 62) + "日"
	if got := SanitizeTag(s); got != strings.Repeat("a", 62) {
		t.Errorf("got %q, want %q", got, strings.Repeat("a", 62))
	}
}
