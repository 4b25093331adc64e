package stream

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TextDecoder decodes a UTF-8 byte stream chunk by chunk. A code point
// split across chunks is held back until its remaining bytes arrive, so at
// most utf8.UTFMax-1 bytes are ever pending. Invalid sequences decode as
// U+FFFD.
type TextDecoder struct {
	pending []byte
}

// Feed returns the text completed by p.
func (d *TextDecoder) Feed(p []byte) string {
	b := p
	if len(d.pending) > 0 {
		b = make([]byte, 0, len(d.pending)+len(p))
		b = append(b, d.pending...)
		b = append(b, p...)
	}
	cut := incompleteSuffix(b)
	d.pending = append(d.pending[:0], b[cut:]...)
	return toValid(b[:cut])
}

// Pending reports how many bytes are held back.
func (d *TextDecoder) Pending() int { return len(d.pending) }

// Close flushes the decoder. A held-back partial code point is returned as
// U+FFFD together with an error wrapping ErrUnexpectedEOF.
func (d *TextDecoder) Close() (string, error) {
	if len(d.pending) == 0 {
		return "", nil
	}
	n := len(d.pending)
	d.pending = nil
	return string(utf8.RuneError), fmt.Errorf("%w: %d byte(s) of a truncated UTF-8 sequence", ErrUnexpectedEOF, n)
}

// incompleteSuffix returns the index where a trailing, not yet complete
// code point starts, or len(b) if there is none.
func incompleteSuffix(b []byte) int {
	for k := 1; k < utf8.UTFMax && k <= len(b); k++ {
		i := len(b) - k
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return i
			}
			break
		}
	}
	return len(b)
}

func toValid(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
