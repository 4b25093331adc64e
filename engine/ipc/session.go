package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dmora/buildlog"
	"github.com/dmora/buildlog/engine/internal/correlate"
	"github.com/dmora/buildlog/engine/internal/lifecycle"
	"github.com/dmora/buildlog/wire"
)

// errUnexpectedExit is the fault cause for an engine that exits with
// status 0 without having announced it was done.
var errUnexpectedExit = errors.New("engine exited before shutdown")

// Session multiplexes typed requests over one engine process.
type Session struct {
	id     string
	proc   Process
	opts   Options
	logger *slog.Logger

	life    *lifecycle.Machine
	pending *correlate.Correlator[wire.Reply]

	writeMu sync.Mutex // serializes stdin writes; one command per Write
	wbuf    []byte

	pumps sync.WaitGroup // stdout and stderr readers

	mu      sync.Mutex
	termErr error
	done    chan struct{}

	disposing   atomic.Bool
	disposeOnce sync.Once
	stdinOnce   sync.Once
}

var _ buildlog.Session = (*Session)(nil)

// New starts a session over proc, which must already be running. The
// session begins in StateStarted and owns proc from here on: the caller
// must eventually call Dispose, or let the engine exit on its own.
func New(proc Process, opts ...Option) *Session {
	o := resolveOptions(opts...)
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	logger := o.Logger.With("session", o.ID, "pid", proc.Pid())
	s := &Session{
		id:      o.ID,
		proc:    proc,
		opts:    o,
		logger:  logger,
		life:    lifecycle.New(logger),
		pending: correlate.New[wire.Reply](),
		done:    make(chan struct{}),
	}
	s.transition(buildlog.StateStarted, nil)

	s.pumps.Add(2)
	go s.readData()
	go s.readStderr()
	go s.watchExit()
	return s
}

// ID returns the session id used in logs.
func (s *Session) ID() string { return s.id }

// Pid returns the engine's process id.
func (s *Session) Pid() int { return s.proc.Pid() }

// State returns the current lifecycle state.
func (s *Session) State() buildlog.State { return s.life.State() }

// IsLive reports whether requests may be issued.
func (s *Session) IsLive() bool { return buildlog.IsLive(s.life.State()) }

// Subscribe registers fn for subsequent lifecycle transitions.
func (s *Session) Subscribe(fn func(buildlog.StateChange)) func() {
	return s.life.Subscribe(fn)
}

// Pending returns the number of requests awaiting a reply.
func (s *Session) Pending() int { return s.pending.Len() }

// Done is closed once the process has exited and the session is terminal.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, or nil while the session runs.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

// Wait blocks until the session ends and returns its terminal error.
func (s *Session) Wait() error {
	<-s.done
	return s.Err()
}

// Root returns the root node of the log tree.
func (s *Session) Root(ctx context.Context) (buildlog.Node, error) {
	r, err := s.call(ctx, wire.NameRoot, wire.KindNode, func(id int64) wire.Command {
		return wire.RootCommand{RequestID: id}
	})
	if err != nil {
		return buildlog.Node{}, err
	}
	return r.(wire.NodeReply).Node, nil
}

// Node returns the node with the given id.
func (s *Session) Node(ctx context.Context, id buildlog.NodeID) (buildlog.Node, error) {
	r, err := s.call(ctx, wire.NameNode, wire.KindNode, func(rid int64) wire.Command {
		return wire.NodeCommand{RequestID: rid, NodeID: id}
	})
	if err != nil {
		return buildlog.Node{}, err
	}
	return r.(wire.NodeReply).Node, nil
}

// ManyNodes returns up to count nodes starting at id.
func (s *Session) ManyNodes(ctx context.Context, id buildlog.NodeID, count int) ([]buildlog.Node, error) {
	if count < 0 {
		return nil, fmt.Errorf("ipc: %s: negative count %d", wire.NameManyNodes, count)
	}
	r, err := s.call(ctx, wire.NameManyNodes, wire.KindManyNodes, func(rid int64) wire.Command {
		return wire.ManyNodesCommand{RequestID: rid, NodeID: id, Count: count}
	})
	if err != nil {
		return nil, err
	}
	return r.(wire.ManyNodesReply).Nodes, nil
}

// NodeSummary returns the node with its summary populated.
func (s *Session) NodeSummary(ctx context.Context, id buildlog.NodeID) (buildlog.Node, error) {
	r, err := s.call(ctx, wire.NameSummarizeNode, wire.KindNode, func(rid int64) wire.Command {
		return wire.SummarizeNodeCommand{RequestID: rid, NodeID: id}
	})
	if err != nil {
		return buildlog.Node{}, err
	}
	return r.(wire.NodeReply).Node, nil
}

// NodeFullText returns the untruncated text of a node.
func (s *Session) NodeFullText(ctx context.Context, id buildlog.NodeID) (string, error) {
	r, err := s.call(ctx, wire.NameNodeFullText, wire.KindFullText, func(rid int64) wire.Command {
		return wire.NodeFullTextCommand{RequestID: rid, NodeID: id}
	})
	if err != nil {
		return "", err
	}
	return r.(wire.FullTextReply).FullText, nil
}

// Search returns the nodes matching query.
func (s *Session) Search(ctx context.Context, query string) ([]buildlog.SearchResult, error) {
	r, err := s.call(ctx, wire.NameSearch, wire.KindSearchResults, func(rid int64) wire.Command {
		return wire.SearchCommand{RequestID: rid, Query: query}
	})
	if err != nil {
		return nil, err
	}
	return r.(wire.SearchResultsReply).Results, nil
}

// call opens a slot, writes the command and waits for a reply of kind want.
func (s *Session) call(ctx context.Context, op string, want wire.Kind, build func(id int64) wire.Command) (wire.Reply, error) {
	if !s.IsLive() {
		return nil, buildlog.ErrSessionDisposed
	}
	if s.opts.RequestTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
			defer cancel()
		}
	}

	id, fut, err := s.pending.Open()
	if err != nil {
		return nil, err
	}
	if err := s.write(build(id)); err != nil {
		s.pending.Cancel(id)
		if !s.IsLive() {
			return nil, buildlog.ErrSessionDisposed
		}
		return nil, fmt.Errorf("ipc: %s request %d: write: %w", op, id, err)
	}

	reply, err := fut.Wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			s.pending.Cancel(id)
			s.logger.Debug("ipc: request abandoned", "op", op, "request_id", id,
				"elapsed", time.Since(fut.Created()), "error", err)
		}
		return nil, fmt.Errorf("ipc: %s request %d: %w", op, id, err)
	}
	if reply.Kind() != want {
		return nil, &buildlog.ProtocolMismatchError{
			Op:        op,
			RequestID: id,
			Want:      want.String(),
			Got:       reply.Kind().String(),
		}
	}
	return reply, nil
}

// write encodes cmd and writes it to stdin in a single Write.
func (s *Session) write(cmd wire.Command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.wbuf = wire.AppendEncode(s.wbuf[:0], cmd)
	if s.opts.TraceWire {
		s.logger.Debug("ipc: send", "request_id", cmd.ID(), "command", cmd.Name(), "bytes", len(s.wbuf))
	}
	_, err := s.proc.Stdin().Write(s.wbuf)
	return err
}

// Shutdown asks a ready engine to finish: the session moves to
// StateShuttingDown and closes the engine's stdin. It is a no-op once the
// session is shutting down or gone, and an error before the engine is ready.
func (s *Session) Shutdown() error {
	changed, err := s.life.Transition(buildlog.StateShuttingDown, nil)
	if err != nil {
		return fmt.Errorf("ipc: shutdown: %w", err)
	}
	if changed {
		s.closeStdin()
	}
	return nil
}

// Dispose terminates the engine: the session moves to StateTerminating,
// every pending request fails with ErrSessionDisposed, stdin is closed and
// the process gets SIGTERM, then SIGKILL after the grace period or when
// ctx ends. Dispose returns once the process has exited, or with ctx's
// error if the process cannot be reaped in time. Safe to call multiple
// times and after the engine has exited.
func (s *Session) Dispose(ctx context.Context) error {
	s.disposeOnce.Do(func() {
		s.disposing.Store(true)
		s.transition(buildlog.StateTerminating, nil)
		if n := s.pending.DisposeAll(buildlog.ErrSessionDisposed); n > 0 {
			s.logger.Debug("ipc: disposed pending requests", "count", n)
		}
		s.closeStdin()

		select {
		case <-s.done:
			return
		default:
		}

		// SIGTERM → grace → SIGKILL.
		if err := signalProcess(s.proc, syscall.SIGTERM); err != nil {
			s.logger.Debug("ipc: sigterm failed", "error", err)
		}
		timer := time.NewTimer(s.opts.GracePeriod)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-timer.C:
			s.kill()
		case <-ctx.Done():
			s.kill()
		}
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) kill() {
	if err := signalProcess(s.proc, os.Kill); err != nil {
		s.logger.Warn("ipc: kill failed", "error", err)
	}
}

func (s *Session) closeStdin() {
	s.stdinOnce.Do(func() {
		if err := s.proc.Stdin().Close(); err != nil {
			s.logger.Debug("ipc: close stdin", "error", err)
		}
	})
}

// transition moves the lifecycle, logging undefined transitions.
func (s *Session) transition(to buildlog.State, cause error) {
	if _, err := s.life.Transition(to, cause); err != nil {
		s.logger.Warn("ipc: ignoring lifecycle event", "error", err)
	}
}
