package native

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"time"
)

// execProcess adapts an exec.Cmd started with three pipes to ipc.Process.
//
// The child is reaped as soon as it exits. The parent's read ends are
// closed WaitDelay later, so a grandchild that inherited stdout or stderr
// cannot keep the session from ending.
type execProcess struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	exited chan struct{}
	code   int
	err    error
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return eofOnClose{p.stdout} }
func (p *execProcess) Stderr() io.Reader     { return eofOnClose{p.stderr} }
func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// Wait returns the child's exit status. A process killed by a signal
// reports -1.
func (p *execProcess) Wait() (int, error) {
	<-p.exited
	return p.code, p.err
}

func (p *execProcess) reap(waitDelay time.Duration) {
	if err := p.cmd.Wait(); err != nil {
		p.code, p.err = -1, err
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			p.code = ee.ExitCode()
		}
	}
	close(p.exited)

	time.AfterFunc(waitDelay, func() {
		_ = p.stdout.Close()
		_ = p.stderr.Close()
	})
}

// eofOnClose reports a read end closed after exit as a normal end of stream.
type eofOnClose struct{ f *os.File }

func (r eofOnClose) Read(b []byte) (int, error) {
	n, err := r.f.Read(b)
	if errors.Is(err, os.ErrClosed) {
		err = io.EOF
	}
	return n, err
}

// spawn starts binary with args and env, returning the running process.
// Nothing is left open when it fails.
func spawn(binary string, args, env []string, waitDelay time.Duration) (_ *execProcess, err error) {
	var files []*os.File
	defer func() {
		if err != nil {
			for _, f := range files {
				_ = f.Close()
			}
		}
	}()
	pipe := func() (r, w *os.File, err error) {
		r, w, err = os.Pipe()
		if err == nil {
			files = append(files, r, w)
		}
		return r, w, err
	}

	inR, inW, err := pipe()
	if err != nil {
		return nil, err
	}
	outR, outW, err := pipe()
	if err != nil {
		return nil, err
	}
	errR, errW, err := pipe()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(binary, args...)
	cmd.Env = env
	cmd.Stdin, cmd.Stdout, cmd.Stderr = inR, outW, errW
	if err = cmd.Start(); err != nil {
		return nil, err
	}
	// The child holds its own copies.
	_ = inR.Close()
	_ = outW.Close()
	_ = errW.Close()

	p := &execProcess{
		cmd:    cmd,
		stdin:  inW,
		stdout: outR,
		stderr: errR,
		exited: make(chan struct{}),
	}
	go p.reap(waitDelay)
	return p, nil
}
