package ipc

import (
	"errors"
	"io"
	"os"
)

// Process is a running engine as seen by a Session.
type Process interface {
	// Stdin receives encoded commands. The session closes it on shutdown
	// and disposal.
	Stdin() io.WriteCloser

	// Stdout yields the engine's concatenated JSON messages.
	Stdout() io.Reader

	// Stderr yields free-form diagnostic text.
	Stderr() io.Reader

	// Wait blocks until the process exits. The session calls it exactly
	// once, after Stdout and Stderr have reached EOF. A zero exit code with
	// a nil error is a successful exit; -1 means killed by a signal or
	// unknown.
	Wait() (exitCode int, err error)

	// Signal delivers sig to the process. Signalling an exited process
	// returns os.ErrProcessDone.
	Signal(sig os.Signal) error

	// Pid returns the OS process id, or 0 if there is none.
	Pid() int
}

// signalProcess sends sig to a process, returning nil if the process
// has already exited (os.ErrProcessDone).
func signalProcess(p Process, sig os.Signal) error {
	err := p.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
