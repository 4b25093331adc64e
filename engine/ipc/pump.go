package ipc

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/dmora/buildlog"
	"github.com/dmora/buildlog/engine/internal/errfmt"
	"github.com/dmora/buildlog/stream"
	"github.com/dmora/buildlog/wire"
)

// readData pumps stdout through the JSON decoder into dispatch until EOF.
func (s *Session) readData() {
	defer s.pumps.Done()

	dec := &stream.JSONDecoder{MaxValueSize: s.opts.MaxMessageSize}
	s.readChunks(s.proc.Stdout(), "stdout", func(p []byte) {
		vals, err := dec.Feed(p)
		for {
			s.dispatchAll(vals)
			if err == nil {
				return
			}
			// Skip the failed value and keep going.
			dropped := dec.Recover()
			s.logger.Error("ipc: malformed engine output", "error", err, "dropped", errfmt.Bytes(dropped))
			vals, err = dec.Feed(nil)
		}
	})

	vals, err := dec.Close()
	s.dispatchAll(vals)
	if err != nil {
		s.logger.Warn("ipc: engine output ended mid-message", "error", err, "dropped", errfmt.Bytes(dec.Buffered()))
	}
}

// readStderr forwards stderr to the sink line by line until EOF.
func (s *Session) readStderr() {
	defer s.pumps.Done()

	var text stream.TextDecoder
	var lines stream.LineSplitter
	s.readChunks(s.proc.Stderr(), "stderr", func(p []byte) {
		for _, line := range lines.Write(text.Feed(p)) {
			s.stderrLine(line)
		}
	})

	rest, err := text.Close()
	if err != nil {
		s.logger.Debug("ipc: stderr ended mid-character", "error", err)
	}
	for _, line := range lines.Write(rest) {
		s.stderrLine(line)
	}
	if tail := lines.Flush(); tail != "" {
		s.stderrLine(tail)
	}
}

func (s *Session) stderrLine(line string) {
	if s.opts.StderrSink != nil {
		s.opts.StderrSink(line)
		return
	}
	s.logger.Info("ipc: engine", "stream", "stderr", "line", errfmt.Truncate(line))
}

// readChunks calls fn with every chunk read from r until EOF or error.
func (s *Session) readChunks(r io.Reader, name string, fn func([]byte)) {
	if r == nil {
		return
	}
	buf := make([]byte, defaultReadBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			fn(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.disposing.Load() {
				s.logger.Warn("ipc: read failed", "stream", name, "error", err)
			}
			return
		}
	}
}

func (s *Session) dispatchAll(vals []json.RawMessage) {
	for _, v := range vals {
		s.dispatch(v)
	}
}

// dispatch routes one decoded engine message.
func (s *Session) dispatch(raw json.RawMessage) {
	if s.opts.TraceWire {
		s.logger.Debug("ipc: recv", "message", errfmt.Bytes(raw))
	}
	msg, err := wire.Decode(raw)
	if err != nil {
		var de *wire.DecodeError
		if errors.As(err, &de) {
			s.logger.Warn("ipc: dropping engine message", "type", errfmt.SanitizeTag(de.Tag),
				"reason", de.Reason, "raw", errfmt.Bytes(de.Raw))
		} else {
			s.logger.Warn("ipc: dropping engine message", "error", err)
		}
		return
	}

	switch m := msg.(type) {
	case wire.ReadyEvent:
		s.transition(buildlog.StateReady, nil)
	case wire.DoneEvent:
		s.transition(buildlog.StateShuttingDown, nil)
	case wire.Reply:
		if !s.pending.Resolve(m.ID(), m) {
			s.logger.Debug("ipc: reply for no pending request", "request_id", m.ID(), "type", m.Kind())
		}
	}
}

// watchExit reaps the process once both output streams are drained, so
// every reply the engine wrote is dispatched before pending requests fail.
func (s *Session) watchExit() {
	s.pumps.Wait()
	code, err := s.proc.Wait()
	s.closeStdin()

	from := s.life.State()
	clean := code == 0 && err == nil
	expected := from == buildlog.StateShuttingDown || from == buildlog.StateTerminating

	to := buildlog.StateExitFailure
	if clean && expected {
		to = buildlog.StateExitSuccess
	}

	var termErr error
	switch {
	case s.disposing.Load():
		termErr = buildlog.ErrSessionDisposed
	case clean && expected:
		termErr = nil
	case clean:
		termErr = &buildlog.ProcessFaultError{ExitCode: 0, Err: errUnexpectedExit}
	default:
		termErr = &buildlog.ProcessFaultError{ExitCode: code, Err: err}
	}

	s.mu.Lock()
	s.termErr = termErr
	s.mu.Unlock()

	reason := termErr
	if reason == nil {
		reason = buildlog.ErrSessionDisposed
	}
	if n := s.pending.DisposeAll(reason); n > 0 {
		s.logger.Warn("ipc: engine exited with requests pending", "count", n, "error", reason)
	}

	s.transition(to, termErr)
	if to == buildlog.StateExitFailure && !s.disposing.Load() {
		s.logger.Error("ipc: engine exited", "state", from, "exit_code", code, "error", termErr)
	} else {
		s.logger.Debug("ipc: engine exited", "state", from, "exit_code", code)
	}

	close(s.done)
	s.life.Close()
}
