package buildlog

import (
	"errors"
	"fmt"
	"strconv"
)

// Sentinel errors for engine operations.
var (
	// ErrUnavailable indicates the engine cannot start
	// (binary not configured, not found, or not executable).
	ErrUnavailable = errors.New("buildlog: engine unavailable")

	// ErrSessionDisposed is returned by requests issued into a session that
	// is no longer live, and by requests still pending when the session was
	// disposed. It is an expected outcome, not an application error.
	ErrSessionDisposed = errors.New("buildlog: session disposed")

	// ErrNotReady indicates the engine left the live states before it
	// announced readiness.
	ErrNotReady = errors.New("buildlog: engine not ready")
)

// ProtocolMismatchError reports a reply whose kind does not match the
// request that it answers. Only the issuing request fails; the session and
// other pending requests are unaffected.
type ProtocolMismatchError struct {
	// Op is the request operation, e.g. "manyNodes".
	Op string

	// RequestID is the correlation id of the failed request.
	RequestID int64

	// Want and Got are the expected and received reply kinds.
	Want string
	Got  string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("buildlog: %s request %d: protocol mismatch: want %s reply, got %s",
		e.Op, e.RequestID, e.Want, e.Got)
}

// ProcessFaultError reports an engine process that exited abnormally.
// Every request still pending at that moment fails with it.
//
// Code semantics: positive = exit status, -1 = killed by a signal or the
// status could not be determined.
type ProcessFaultError struct {
	ExitCode int
	Err      error
}

func (e *ProcessFaultError) Error() string {
	if e.Err != nil {
		return "buildlog: engine process fault: " + e.Err.Error()
	}
	return "buildlog: engine process fault: exit status " + strconv.Itoa(e.ExitCode)
}

func (e *ProcessFaultError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from an error chain containing
// *ProcessFaultError. Returns (0, false) if there is none.
func ExitCode(err error) (int, bool) {
	var fault *ProcessFaultError
	if errors.As(err, &fault) {
		return fault.ExitCode, true
	}
	return 0, false
}
