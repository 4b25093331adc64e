package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedEOF reports input that ended inside a value or an
	// incomplete UTF-8 sequence.
	ErrUnexpectedEOF = errors.New("stream: unexpected end of input")

	// ErrMalformed reports bytes that cannot start or continue a JSON value.
	ErrMalformed = errors.New("stream: malformed input")

	// ErrTooLarge reports a single value exceeding the decoder's size limit.
	ErrTooLarge = errors.New("stream: value too large")

	// ErrClosed is returned by Feed after Close.
	ErrClosed = errors.New("stream: decoder closed")
)

// SyntaxError describes where a JSON stream went wrong.
// It wraps ErrMalformed, ErrTooLarge or ErrUnexpectedEOF.
type SyntaxError struct {
	// Offset is the absolute stream offset of the offending byte, counted
	// from the first byte ever fed to the decoder.
	Offset int64

	// Byte is the offending byte, or zero at end of input.
	Byte byte

	// Reason is a short human-readable description.
	Reason string

	Err error
}

func (e *SyntaxError) Error() string {
	if e.Byte == 0 {
		return fmt.Sprintf("stream: offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("stream: offset %d: %s (byte %q)", e.Offset, e.Reason, e.Byte)
}

func (e *SyntaxError) Unwrap() error { return e.Err }
