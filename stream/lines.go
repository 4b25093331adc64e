package stream

import (
	"strings"
	"unicode/utf8"
)

// MaxLineLen is the line cap a zero LineSplitter uses.
const MaxLineLen = 4096

// LineSplitter reassembles decoded text chunks into lines. Lines are
// returned without their "\n" terminator or a trailing "\r".
type LineSplitter struct {
	// MaxLen caps a line in bytes. A line that grows past it is returned
	// in pieces of at most MaxLen, cut on a UTF-8 boundary. Zero means
	// MaxLineLen.
	MaxLen int

	partial strings.Builder
}

// Write returns every line completed by text.
func (s *LineSplitter) Write(text string) []string {
	var lines []string
	limit := s.MaxLen
	if limit <= 0 {
		limit = MaxLineLen
	}
	for text != "" {
		piece, rest, done := text, "", false
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			piece, rest, done = text[:i], text[i+1:], true
		}
		for s.partial.Len()+len(piece) > limit {
			n := runeCut(piece, limit-s.partial.Len())
			if n == 0 && s.partial.Len() == 0 {
				n = limit
			}
			s.partial.WriteString(piece[:n])
			piece = piece[n:]
			lines = append(lines, s.take())
		}
		s.partial.WriteString(piece)
		if !done {
			break
		}
		lines = append(lines, strings.TrimSuffix(s.take(), "\r"))
		text = rest
	}
	return lines
}

// Flush returns the unterminated remainder, if any, and resets s.
func (s *LineSplitter) Flush() string {
	return strings.TrimSuffix(s.take(), "\r")
}

func (s *LineSplitter) take() string {
	line := s.partial.String()
	s.partial.Reset()
	return line
}

// runeCut backs n off to the start of a rune in p.
func runeCut(p string, n int) int {
	for n > 0 && n < len(p) && !utf8.RuneStart(p[n]) {
		n--
	}
	return n
}
