package enginetest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmora/buildlog/wire"
)

// commandBuffer is how many decoded commands a Process queues before the
// session's writes start to block.
const commandBuffer = 1024

// Process is a fake engine process. It satisfies ipc.Process on one side
// and exposes the engine's end of every stream on the other.
//
// Commands written by the session are decoded and queued on Commands.
// Output is scripted with Send, Write and WriteStderr. Exit ends the
// process; by default SIGTERM and SIGKILL end it with exit code -1.
type Process struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	pid  int
	cmds chan wire.Command

	// OnSignal overrides how the process reacts to a signal. It runs on
	// the signalling goroutine and may call Exit.
	OnSignal func(p *Process, sig os.Signal)

	mu      sync.Mutex
	written bytes.Buffer
	signals []os.Signal
	readErr error

	exitOnce sync.Once
	exited   chan struct{}
	code     int
	err      error
}

// NewProcess returns a running fake process with the given pid.
func NewProcess(pid int) *Process {
	p := &Process{
		pid:    pid,
		cmds:   make(chan wire.Command, commandBuffer),
		exited: make(chan struct{}),
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	go p.readCommands()
	return p
}

// Stdin returns the session's end of the engine's stdin.
func (p *Process) Stdin() io.WriteCloser { return p.stdinW }

// Stdout returns the session's end of the engine's stdout.
func (p *Process) Stdout() io.Reader { return p.stdoutR }

// Stderr returns the session's end of the engine's stderr.
func (p *Process) Stderr() io.Reader { return p.stderrR }

// Pid returns the fake pid.
func (p *Process) Pid() int { return p.pid }

// Wait blocks until Exit is called.
func (p *Process) Wait() (int, error) {
	<-p.exited
	return p.code, p.err
}

// Signal records sig and reacts to it.
func (p *Process) Signal(sig os.Signal) error {
	select {
	case <-p.exited:
		return os.ErrProcessDone
	default:
	}
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()

	if p.OnSignal != nil {
		p.OnSignal(p, sig)
		return nil
	}
	p.Exit(-1, fmt.Errorf("signal: %v", sig))
	return nil
}

// Commands yields each command the session writes, in order. It is
// closed when the session closes stdin or the process exits.
func (p *Process) Commands() <-chan wire.Command { return p.cmds }

// Written returns every byte the session has written to stdin so far.
func (p *Process) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.written.Bytes())
}

// ReadErr returns the error that stopped command decoding, if it was
// anything other than a clean end of stdin.
func (p *Process) ReadErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readErr
}

// Signals returns the signals received so far.
func (p *Process) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

// Send writes m to stdout in the engine's JSON encoding.
func (p *Process) Send(m wire.Message) error {
	data, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	return p.Write(data)
}

// Write writes raw bytes to stdout as a single chunk.
func (p *Process) Write(data []byte) error {
	_, err := p.stdoutW.Write(data)
	return err
}

// WriteStderr writes raw text to stderr.
func (p *Process) WriteStderr(s string) error {
	_, err := io.WriteString(p.stderrW, s)
	return err
}

// Exit ends the process with code and err. Output streams reach EOF and
// further session writes fail. Later calls are no-ops.
func (p *Process) Exit(code int, err error) {
	p.exitOnce.Do(func() {
		p.code, p.err = code, err
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.CloseWithError(io.ErrClosedPipe)
		close(p.exited)
	})
}

// Exited is closed once Exit has been called.
func (p *Process) Exited() <-chan struct{} { return p.exited }

func (p *Process) readCommands() {
	defer close(p.cmds)
	r := bufio.NewReader(io.TeeReader(p.stdinR, writerFunc(func(b []byte) (int, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.written.Write(b)
	})))
	for {
		cmd, err := wire.ReadCommand(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				p.mu.Lock()
				p.readErr = err
				p.mu.Unlock()
			}
			return
		}
		p.cmds <- cmd
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }
