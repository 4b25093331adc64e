package stream

import (
	"bytes"
	"encoding/json"
	"errors"
)

// DefaultMaxValueSize bounds a single value when JSONDecoder.MaxValueSize
// is zero.
const DefaultMaxValueSize = 64 << 20

type valueKind uint8

const (
	kindNone valueKind = iota
	kindContainer
	kindString
	kindNumber
	kindLiteral
)

// JSONDecoder splits a byte stream of back-to-back JSON values into the
// individual values. Only top-level values are emitted; nested objects are
// part of their parent.
//
// The decoder tracks nesting, string and escape state across Feed calls,
// so an input produces the same values however it is chunked. Top-level
// numbers and literals have no closing token: they are emitted when the
// next delimiter arrives, or by Close.
//
// After a syntax error the decoder is sticky-failed. Feed keeps retaining
// input and returns the same error until the caller either gives up or
// calls Recover. Recovery never splits a value: bytes nested inside a
// failed value are discarded with it, never emitted on their own.
type JSONDecoder struct {
	// MaxValueSize bounds a single value in bytes.
	// Zero means DefaultMaxValueSize.
	MaxValueSize int

	buf   []byte
	base  int64 // stream offset of buf[0]
	pos   int   // next byte of buf to scan
	start int   // first byte of the value in progress
	kind  valueKind
	stack []byte // open brackets of the container in progress
	inStr bool
	esc   bool

	err    error
	errAt  int // first retained byte after an error
	closed bool

	// Where Recover resumes after err. resumeAt < 0 means resynchronise
	// at the next '{' or '['; skipRest means the failed value had not
	// ended at resumeAt and the rest of it is skipped as it arrives.
	resumeAt int
	skipRest bool
	skip     bool
}

// NewJSONDecoder returns a decoder with the default size limit.
func NewJSONDecoder() *JSONDecoder { return &JSONDecoder{} }

// Feed appends p to the stream and returns every top-level value it
// completed, in order. Values completed before a syntax error are returned
// alongside the error. The returned values do not alias p.
func (d *JSONDecoder) Feed(p []byte) ([]json.RawMessage, error) {
	if d.closed {
		return nil, ErrClosed
	}
	d.buf = append(d.buf, p...)
	if d.err != nil {
		return nil, d.err
	}
	out, err := d.scan()
	d.compact()
	return out, err
}

// Close ends the stream. A pending top-level number or literal is emitted;
// bytes left inside an unterminated string or container yield a
// SyntaxError wrapping ErrUnexpectedEOF. Close is idempotent.
func (d *JSONDecoder) Close() ([]json.RawMessage, error) {
	if d.closed {
		return nil, d.err
	}
	d.closed = true
	if d.err != nil {
		return nil, d.err
	}
	if d.skip {
		// The failed value was already reported by Feed.
		return nil, nil
	}
	switch d.kind {
	case kindNone:
		return nil, nil
	case kindNumber, kindLiteral:
		v, err := d.finish(len(d.buf))
		if err != nil {
			return nil, err
		}
		return []json.RawMessage{v}, nil
	default:
		d.errAt = d.start
		d.err = &SyntaxError{
			Offset: d.base + int64(len(d.buf)),
			Reason: "unexpected end of input inside value",
			Err:    ErrUnexpectedEOF,
		}
		return nil, d.err
	}
}

// Err returns the sticky error, if any.
func (d *JSONDecoder) Err() error { return d.err }

// Buffered returns the bytes the decoder holds: the value in progress, or
// after an error every byte from the failed value onward. The slice is
// valid until the next call on d.
func (d *JSONDecoder) Buffered() []byte {
	if d.err != nil {
		return d.buf[d.errAt:]
	}
	if d.kind == kindNone || d.skip {
		return nil
	}
	return d.buf[d.start:]
}

// Recover clears a sticky error and returns the bytes it discards.
//
// When the failed value's end is known (it failed validation, or closed
// on a mismatched bracket) everything up to that end is discarded. A value
// that was still open when it failed, because it grew too large or a
// mismatched bracket left it unbalanced, is skipped to its matching close
// as more input arrives; those later bytes are not returned. An invalid
// byte between values discards input up to the next '{' or '['.
//
// Bytes retained past the resume point are scanned by the next Feed; call
// Feed(nil) to decode them without new input. Recover returns nil when
// there is no error or the decoder is closed.
func (d *JSONDecoder) Recover() []byte {
	if d.err == nil || d.closed {
		return nil
	}
	from := d.errAt
	next := d.resumeAt
	if next < 0 {
		next = len(d.buf)
		if from < len(d.buf) {
			if i := bytes.IndexAny(d.buf[from+1:], "{["); i >= 0 {
				next = from + 1 + i
			}
		}
	}
	dropped := bytes.Clone(d.buf[from:next])

	d.base += int64(next)
	d.buf = append(d.buf[:0], d.buf[next:]...)
	d.pos, d.start, d.errAt = 0, 0, 0
	if d.skipRest {
		d.skip = true
	} else {
		d.reset()
	}
	d.err = nil
	d.resumeAt, d.skipRest = -1, false
	return dropped
}

func (d *JSONDecoder) scan() ([]json.RawMessage, error) {
	var out []json.RawMessage
	for d.pos < len(d.buf) {
		c := d.buf[d.pos]
		switch d.kind {
		case kindNone:
			if isSpace(c) {
				d.pos++
				continue
			}
			if err := d.begin(c); err != nil {
				return out, err
			}
			d.pos++

		case kindNumber, kindLiteral:
			if (d.kind == kindNumber && isNumberByte(c)) || (d.kind == kindLiteral && isLetter(c)) {
				d.pos++
				continue
			}
			if d.skip {
				d.skip = false
				d.reset()
				continue
			}
			// c delimits the scalar and is scanned again as the next token.
			v, err := d.finish(d.pos)
			if err != nil {
				return out, err
			}
			out = append(out, v)

		default:
			d.pos++
			done, err := d.step(c)
			if err != nil {
				return out, err
			}
			if done && d.skip {
				d.skip = false
				d.reset()
				continue
			}
			if done {
				v, err := d.finish(d.pos)
				if err != nil {
					return out, err
				}
				out = append(out, v)
			}
		}
	}
	if !d.skip && d.kind != kindNone && len(d.buf)-d.start > d.maxValueSize() {
		err := d.fail(d.start, len(d.buf)-1, "value too large", ErrTooLarge)
		d.resumeAt, d.skipRest = len(d.buf), true
		return out, err
	}
	return out, nil
}

// begin starts a new top-level value at d.pos.
func (d *JSONDecoder) begin(c byte) error {
	d.start = d.pos
	switch {
	case c == '{' || c == '[':
		d.kind = kindContainer
		d.stack = append(d.stack[:0], c)
	case c == '"':
		d.kind = kindString
		d.inStr = true
	case c == '-' || (c >= '0' && c <= '9'):
		d.kind = kindNumber
	case c == 't' || c == 'f' || c == 'n':
		d.kind = kindLiteral
	default:
		d.kind = kindNone
		return d.fail(d.pos, d.pos, "invalid character looking for beginning of value", ErrMalformed)
	}
	return nil
}

// step advances container or string state past c, which sits at d.pos-1.
// It reports whether c closed the top-level value.
func (d *JSONDecoder) step(c byte) (bool, error) {
	if d.inStr {
		switch {
		case d.esc:
			d.esc = false
		case c == '\\':
			d.esc = true
		case c == '"':
			d.inStr = false
			return d.kind == kindString, nil
		}
		return false, nil
	}
	switch c {
	case '"':
		d.inStr = true
	case '{', '[':
		d.stack = append(d.stack, c)
	case '}', ']':
		want := byte('{')
		if c == ']' {
			want = '['
		}
		// A mismatched closer closes every bracket up to its match, so
		// depth stays meaningful while the rest of the value is skipped.
		matched := d.stack[len(d.stack)-1] == want
		for len(d.stack) > 0 {
			open := d.stack[len(d.stack)-1]
			d.stack = d.stack[:len(d.stack)-1]
			if open == want {
				break
			}
		}
		if !matched && !d.skip {
			err := d.fail(d.start, d.pos-1, "mismatched closing bracket", ErrMalformed)
			d.resumeAt, d.skipRest = d.pos, len(d.stack) > 0
			return false, err
		}
		return len(d.stack) == 0, nil
	}
	return false, nil
}

// finish validates buf[d.start:end] and returns a copy of it.
func (d *JSONDecoder) finish(end int) (json.RawMessage, error) {
	raw := d.buf[d.start:end]
	if len(raw) > d.maxValueSize() {
		err := d.fail(d.start, end-1, "value too large", ErrTooLarge)
		d.resumeAt = end
		return nil, err
	}
	if !json.Valid(raw) {
		off := d.start
		reason := "invalid JSON value"
		var discard json.RawMessage
		var se *json.SyntaxError
		if err := json.Unmarshal(raw, &discard); errors.As(err, &se) {
			reason = se.Error()
			if se.Offset > 0 {
				off = d.start + int(se.Offset) - 1
			}
		}
		if off >= end {
			off = end - 1
		}
		err := d.fail(d.start, off, reason, ErrMalformed)
		d.resumeAt = end
		return nil, err
	}
	v := make(json.RawMessage, len(raw))
	copy(v, raw)
	d.pos = end
	d.reset()
	return v, nil
}

// fail records a sticky error. Input from retainFrom onward is kept;
// at is the offending byte.
func (d *JSONDecoder) fail(retainFrom, at int, reason string, sentinel error) error {
	se := &SyntaxError{
		Offset: d.base + int64(at),
		Reason: reason,
		Err:    sentinel,
	}
	if at < len(d.buf) {
		se.Byte = d.buf[at]
	}
	d.errAt = retainFrom
	d.err = se
	d.resumeAt, d.skipRest = -1, false
	return se
}

func (d *JSONDecoder) reset() {
	d.kind = kindNone
	d.stack = d.stack[:0]
	d.inStr = false
	d.esc = false
}

// compact drops bytes that no longer belong to any value.
func (d *JSONDecoder) compact() {
	var keep int
	switch {
	case d.err != nil:
		keep = d.errAt
	case d.skip:
		keep = d.pos
	case d.kind != kindNone:
		keep = d.start
	default:
		keep = len(d.buf)
	}
	if keep == 0 {
		return
	}
	d.base += int64(keep)
	d.buf = append(d.buf[:0], d.buf[keep:]...)
	d.pos -= keep
	if d.pos < 0 {
		d.pos = 0
	}
	d.start -= keep
	if d.start < 0 {
		d.start = 0
	}
	if d.err != nil {
		d.errAt = 0
		if d.resumeAt >= 0 {
			d.resumeAt -= keep
		}
	}
}

func (d *JSONDecoder) maxValueSize() int {
	if d.MaxValueSize > 0 {
		return d.MaxValueSize
	}
	return DefaultMaxValueSize
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E'
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z'
}
