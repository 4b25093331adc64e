package ipc_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmora/buildlog"
	"github.com/dmora/buildlog/engine/ipc"
	"github.com/dmora/buildlog/enginetest"
	"github.com/dmora/buildlog/stream"
	"github.com/dmora/buildlog/wire"
)

const testTimeout = 5 * time.Second

type result[T any] struct {
	v   T
	err error
}

// async runs fn on its own goroutine and delivers its outcome.
func async[T any](fn func() (T, error)) <-chan result[T] {
	ch := make(chan result[T], 1)
	go func() {
		v, err := fn()
		ch <- result[T]{v, err}
	}()
	return ch
}

func await[T any](t *testing.T, ch <-chan result[T]) (T, error) {
	t.Helper()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-time.After(testTimeout):
		t.Fatal("request did not complete")
		var zero T
		return zero, nil
	}
}

func nextCommand(t *testing.T, p *enginetest.Process) wire.Command {
	t.Helper()
	select {
	case cmd, ok := <-p.Commands():
		require.True(t, ok, "stdin closed")
		return cmd
	case <-time.After(testTimeout):
		t.Fatal("no command written")
		return nil
	}
}

func waitDone(t *testing.T, sess *ipc.Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(testTimeout):
		t.Fatalf("session did not finish; state %s", sess.State())
	}
}

func waitState(t *testing.T, sess *ipc.Session, want buildlog.State) {
	t.Helper()
	require.Eventually(t, func() bool { return sess.State() == want }, testTimeout, time.Millisecond,
		"state %s, want %s", sess.State(), want)
}

// newSession starts a session over a fresh fake process and disposes it
// when the test ends.
func newSession(t *testing.T, opts ...ipc.Option) (*ipc.Session, *enginetest.Process) {
	t.Helper()
	p := enginetest.NewProcess(4242)
	sess := ipc.New(p, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = sess.Dispose(ctx)
	})
	return sess, p
}

func readySession(t *testing.T, opts ...ipc.Option) (*ipc.Session, *enginetest.Process) {
	t.Helper()
	sess, p := newSession(t, opts...)
	require.NoError(t, p.Send(wire.ReadyEvent{}))
	waitState(t, sess, buildlog.StateReady)
	return sess, p
}

// lockedBuffer is a log sink safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNew_StartsStarted(t *testing.T) {
	sess, _ := newSession(t, ipc.WithID("s-1"))
	assert.Equal(t, buildlog.StateStarted, sess.State())
	assert.True(t, sess.IsLive())
	assert.Equal(t, "s-1", sess.ID())
	assert.Equal(t, 4242, sess.Pid())
}

func TestNew_GeneratesID(t *testing.T) {
	a, _ := newSession(t)
	b, _ := newSession(t)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

// Scenario A: a ready event moves the session to Ready and a subscriber
// sees exactly one transition.
func TestSession_ReadyEvent(t *testing.T) {
	sess, p := newSession(t)

	changes := make(chan buildlog.StateChange, 8)
	sess.Subscribe(func(c buildlog.StateChange) { changes <- c })

	require.NoError(t, p.Send(wire.ReadyEvent{}))

	select {
	case c := <-changes:
		assert.Equal(t, buildlog.StateStarted, c.From)
		assert.Equal(t, buildlog.StateReady, c.To)
	case <-time.After(testTimeout):
		t.Fatal("no transition delivered")
	}
	assert.Equal(t, buildlog.StateReady, sess.State())

	select {
	case c := <-changes:
		t.Fatalf("unexpected second transition %s -> %s", c.From, c.To)
	case <-time.After(50 * time.Millisecond):
	}
}

// Scenario B: exact wire bytes and reply delivery for a node request.
func TestSession_NodeRequest(t *testing.T) {
	sess, p := readySession(t)

	res := async(func() (buildlog.Node, error) { return sess.Node(context.Background(), 42) })

	cmd := nextCommand(t, p)
	assert.Equal(t, wire.NodeCommand{RequestID: 0, NodeID: 42}, cmd)
	assert.Equal(t, "0\nnode\n42\n", string(p.Written()))

	require.NoError(t, p.Write([]byte(`{"type":"node","requestId":0,"node":{"nodeId":42,"summary":"Restore","children":[43]}}`)))

	n, err := await(t, res)
	require.NoError(t, err)
	assert.Equal(t, buildlog.NodeID(42), n.ID)
	assert.Equal(t, "Restore", n.Summary)
	assert.Equal(t, []buildlog.NodeID{43}, n.Children)
	assert.Zero(t, sess.Pending())
}

// Scenario C: replies out of order reach their own callers.
func TestSession_SearchSendsQueryVerbatim(t *testing.T) {
	sess, p := readySession(t)

	res := async(func() ([]buildlog.SearchResult, error) {
		return sess.Search(context.Background(), `C:\src\proj\obj`)
	})
	nextCommand(t, p)
	assert.Equal(t, "0\nsearch\nC:\\src\\proj\\obj\n", string(p.Written()))

	require.NoError(t, p.Write([]byte(`{"type":"searchResults","requestId":0,"results":[]}`)))
	_, err := await(t, res)
	require.NoError(t, err)
}

func TestSession_OutOfOrderReplies(t *testing.T) {
	sess, p := readySession(t)
	ctx := context.Background()

	rootRes := async(func() (buildlog.Node, error) { return sess.Root(ctx) })
	assert.Equal(t, wire.RootCommand{RequestID: 0}, nextCommand(t, p))
	nodeRes := async(func() (buildlog.Node, error) { return sess.Node(ctx, 7) })
	assert.Equal(t, wire.NodeCommand{RequestID: 1, NodeID: 7}, nextCommand(t, p))

	require.NoError(t, p.Write([]byte(
		`{"type":"node","requestId":1,"node":{"nodeId":7,"summary":"seven"}}` +
			`{"type":"node","requestId":0,"node":{"nodeId":0,"summary":"root"}}`)))

	root, err := await(t, rootRes)
	require.NoError(t, err)
	assert.Equal(t, "root", root.Summary)

	node, err := await(t, nodeRes)
	require.NoError(t, err)
	assert.Equal(t, buildlog.NodeID(7), node.ID)
	assert.Equal(t, "seven", node.Summary)
}

// Scenario D: a reply of the wrong kind fails only its own request.
func TestSession_ProtocolMismatch(t *testing.T) {
	sess, p := readySession(t)
	ctx := context.Background()

	manyRes := async(func() ([]buildlog.Node, error) { return sess.ManyNodes(ctx, 1, 10) })
	assert.Equal(t, wire.ManyNodesCommand{RequestID: 0, NodeID: 1, Count: 10}, nextCommand(t, p))
	textRes := async(func() (string, error) { return sess.NodeFullText(ctx, 3) })
	nextCommand(t, p)

	require.NoError(t, p.Write([]byte(`{"type":"node","requestId":0,"node":{"nodeId":1}}`)))

	_, err := await(t, manyRes)
	var pm *buildlog.ProtocolMismatchError
	require.True(t, errors.As(err, &pm), "err = %v", err)
	assert.Equal(t, int64(0), pm.RequestID)
	assert.Equal(t, "manyNodes", pm.Op)
	assert.Equal(t, "manyNodes", pm.Want)
	assert.Equal(t, "node", pm.Got)

	require.NoError(t, p.Send(wire.FullTextReply{RequestID: 1, FullText: "full"}))
	text, err := await(t, textRes)
	require.NoError(t, err)
	assert.Equal(t, "full", text)
	assert.True(t, sess.IsLive())
}

// Scenario E: a crash rejects every pending request with a process fault.
func TestSession_ProcessFault(t *testing.T) {
	sess, p := readySession(t)
	ctx := context.Background()

	changes := make(chan buildlog.StateChange, 8)
	sess.Subscribe(func(c buildlog.StateChange) { changes <- c })

	r1 := async(func() (buildlog.Node, error) { return sess.Root(ctx) })
	nextCommand(t, p)
	r2 := async(func() ([]buildlog.SearchResult, error) { return sess.Search(ctx, "error") })
	nextCommand(t, p)
	require.Equal(t, 2, sess.Pending())

	p.Exit(1, errors.New("exit status 1"))

	for _, err := range []error{errOf(t, r1), errOf(t, r2)} {
		var fault *buildlog.ProcessFaultError
		require.True(t, errors.As(err, &fault), "err = %v", err)
		assert.Equal(t, 1, fault.ExitCode)
	}
	waitDone(t, sess)
	assert.Equal(t, buildlog.StateExitFailure, sess.State())
	code, ok := buildlog.ExitCode(sess.Err())
	assert.True(t, ok)
	assert.Equal(t, 1, code)

	select {
	case c := <-changes:
		assert.Equal(t, buildlog.StateExitFailure, c.To)
		assert.Error(t, c.Err)
	case <-time.After(testTimeout):
		t.Fatal("exit transition not delivered")
	}
}

func errOf[T any](t *testing.T, ch <-chan result[T]) error {
	t.Helper()
	_, err := await(t, ch)
	return err
}

func TestSession_ReplySplitAcrossChunks(t *testing.T) {
	sess, p := readySession(t)

	res := async(func() (string, error) { return sess.NodeFullText(context.Background(), 5) })
	nextCommand(t, p)

	reply := []byte(`{"type":"fullText","requestId":0,"fullText":"a } { \" ü"}`)
	for i := range reply {
		require.NoError(t, p.Write(reply[i:i+1]))
	}
	text, err := await(t, res)
	require.NoError(t, err)
	assert.Equal(t, `a } { " ü`, text)
}

func TestSession_RecoversFromMalformedOutput(t *testing.T) {
	logs := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sess, p := readySession(t, ipc.WithLogger(logger))

	res := async(func() (buildlog.Node, error) { return sess.Root(context.Background()) })
	nextCommand(t, p)

	require.NoError(t, p.Write([]byte(`}garbage`)))
	require.NoError(t, p.Write([]byte(`{"type":"explode"}{"no":"type"}`)))
	require.NoError(t, p.Write([]byte(`{"type":"node","requestId":0,"node":{"nodeId":0}}`)))

	n, err := await(t, res)
	require.NoError(t, err)
	assert.Equal(t, buildlog.NodeID(0), n.ID)
	assert.True(t, sess.IsLive())

	out := logs.String()
	assert.Contains(t, out, "malformed engine output")
	assert.Contains(t, out, "garbage")
	assert.Contains(t, out, "dropping engine message")
	assert.Contains(t, out, "explode")
}

func TestSession_NestedReplyInMalformedValueIsNotDispatched(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
	}{
		{"invalid value", []string{`{"x":{"type":"node","requestId":0,"node":{"nodeId":666}},"y":bogus}`}},
		{"mismatched bracket", []string{`{"x":[{"type":"node","requestId":0,"node":{"nodeId":666}}}`}},
		{"unbalanced", []string{`{"w":{"v":[1},`, `"x":{"type":"node","requestId":0,"node":{"nodeId":666}}}`}},
		{"oversized", []string{`{"x":{"type":"node","requestId":0,`, `"node":{"nodeId":666}},"pad":"` + strings.Repeat("p", 64) + `"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, p := readySession(t, ipc.WithLogger(slog.New(slog.DiscardHandler)), ipc.WithMaxMessageSize(56))

			res := async(func() (buildlog.Node, error) { return sess.Node(context.Background(), 7) })
			nextCommand(t, p)

			for _, c := range tt.chunks {
				require.NoError(t, p.Write([]byte(c)))
			}
			require.NoError(t, p.Write([]byte(`{"type":"node","requestId":0,"node":{"nodeId":7}}`)))

			n, err := await(t, res)
			require.NoError(t, err)
			assert.Equal(t, buildlog.NodeID(7), n.ID)
			assert.True(t, sess.IsLive())
		})
	}
}

func TestSession_UnknownAndDuplicateRepliesAreIgnored(t *testing.T) {
	sess, p := readySession(t)

	require.NoError(t, p.Send(wire.NodeReply{RequestID: 99}))

	res := async(func() (buildlog.Node, error) { return sess.Node(context.Background(), 1) })
	nextCommand(t, p)
	require.NoError(t, p.Send(wire.NodeReply{RequestID: 0, Node: buildlog.Node{ID: 1}}))
	require.NoError(t, p.Send(wire.NodeReply{RequestID: 0, Node: buildlog.Node{ID: 2}}))

	n, err := await(t, res)
	require.NoError(t, err)
	assert.Equal(t, buildlog.NodeID(1), n.ID)
	assert.True(t, sess.IsLive())
}

func TestSession_ContextCancelAbandonsRequest(t *testing.T) {
	sess, p := readySession(t)

	ctx, cancel := context.WithCancel(context.Background())
	res := async(func() (buildlog.Node, error) { return sess.Root(ctx) })
	nextCommand(t, p)
	require.Equal(t, 1, sess.Pending())

	cancel()
	_, err := await(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sess.Pending())

	// The late reply is a no-op and the next request gets a fresh id.
	require.NoError(t, p.Send(wire.NodeReply{RequestID: 0}))
	res = async(func() (buildlog.Node, error) { return sess.Node(context.Background(), 3) })
	assert.Equal(t, wire.NodeCommand{RequestID: 1, NodeID: 3}, nextCommand(t, p))
	require.NoError(t, p.Send(wire.NodeReply{RequestID: 1, Node: buildlog.Node{ID: 3}}))
	n, err := await(t, res)
	require.NoError(t, err)
	assert.Equal(t, buildlog.NodeID(3), n.ID)
}

func TestSession_RequestTimeout(t *testing.T) {
	sess, p := readySession(t, ipc.WithRequestTimeout(20*time.Millisecond))

	res := async(func() (buildlog.Node, error) { return sess.Root(context.Background()) })
	nextCommand(t, p)
	_, err := await(t, res)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, sess.Pending())
}

func TestSession_NegativeCount(t *testing.T) {
	sess, _ := readySession(t)
	_, err := sess.ManyNodes(context.Background(), 0, -1)
	assert.Error(t, err)
	assert.Zero(t, sess.Pending())
}

func TestSession_StderrLines(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	sink := func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}
	sess, p := newSession(t, ipc.WithStderrSink(sink))

	require.NoError(t, p.WriteStderr("warn"))
	require.NoError(t, p.WriteStderr("ing: disk \xe2\x9c"))
	require.NoError(t, p.WriteStderr("\x93 low\r\nsecond\n"))
	require.NoError(t, p.WriteStderr("unterminated"))
	p.Exit(0, nil)
	waitDone(t, sess)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"warning: disk ✓ low", "second", "unterminated"}, lines)
}

func TestSession_StderrWithoutNewlinesIsCapped(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	sink := func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(lines)
	}
	sess, p := newSession(t, ipc.WithStderrSink(sink))

	chunk := strings.Repeat("x", 4000)
	for range 3 {
		require.NoError(t, p.WriteStderr(chunk))
	}
	assert.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	p.Exit(0, nil)
	waitDone(t, sess)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 3)
	assert.Len(t, lines[0], stream.MaxLineLen)
	assert.Len(t, lines[1], stream.MaxLineLen)
	assert.Len(t, lines[2], 3*4000-2*stream.MaxLineLen)
}

func TestSession_DoneEventThenExit(t *testing.T) {
	sess, p := readySession(t)

	require.NoError(t, p.Send(wire.DoneEvent{}))
	waitState(t, sess, buildlog.StateShuttingDown)
	assert.False(t, sess.IsLive())

	_, err := sess.Root(context.Background())
	assert.ErrorIs(t, err, buildlog.ErrSessionDisposed, "requests into a dead session reject at once")

	p.Exit(0, nil)
	require.NoError(t, sess.Wait())
	assert.Equal(t, buildlog.StateExitSuccess, sess.State())
}

func TestSession_Shutdown(t *testing.T) {
	sess, p := readySession(t)

	require.NoError(t, sess.Shutdown())
	assert.Equal(t, buildlog.StateShuttingDown, sess.State())
	require.NoError(t, sess.Shutdown(), "repeat is a no-op")

	select {
	case _, ok := <-p.Commands():
		assert.False(t, ok, "stdin must be closed")
	case <-time.After(testTimeout):
		t.Fatal("stdin not closed")
	}
	p.Exit(0, nil)
	waitDone(t, sess)
	assert.Equal(t, buildlog.StateExitSuccess, sess.State())
	assert.NoError(t, sess.Err())
}

func TestSession_ShutdownBeforeReady(t *testing.T) {
	sess, _ := newSession(t)
	assert.Error(t, sess.Shutdown())
	assert.Equal(t, buildlog.StateStarted, sess.State())
}

func TestSession_UnexpectedCleanExit(t *testing.T) {
	sess, p := readySession(t)
	p.Exit(0, nil)
	waitDone(t, sess)

	assert.Equal(t, buildlog.StateExitFailure, sess.State())
	code, ok := buildlog.ExitCode(sess.Err())
	assert.True(t, ok)
	assert.Zero(t, code)
}

func TestSession_ExitBeforeReady(t *testing.T) {
	sess, p := newSession(t)
	require.NoError(t, p.WriteStderr("fatal: cannot open log\n"))
	p.Exit(2, errors.New("exit status 2"))
	waitDone(t, sess)

	assert.Equal(t, buildlog.StateExitFailure, sess.State())
	err := buildlog.WaitReady(context.Background(), sess)
	assert.ErrorIs(t, err, buildlog.ErrNotReady)
	code, _ := buildlog.ExitCode(err)
	assert.Equal(t, 2, code)
}

func TestSession_DisposeRejectsPending(t *testing.T) {
	sess, p := readySession(t)

	res := async(func() (buildlog.Node, error) { return sess.Root(context.Background()) })
	nextCommand(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, sess.Dispose(ctx))

	_, err := await(t, res)
	assert.ErrorIs(t, err, buildlog.ErrSessionDisposed)
	assert.True(t, sess.State().Terminal())
	assert.ErrorIs(t, sess.Err(), buildlog.ErrSessionDisposed)
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, p.Signals())

	require.NoError(t, sess.Dispose(ctx), "idempotent")
	_, err = sess.Root(ctx)
	assert.ErrorIs(t, err, buildlog.ErrSessionDisposed)
}

func TestSession_DisposeEscalatesToKill(t *testing.T) {
	p := enginetest.NewProcess(7)
	p.OnSignal = func(p *enginetest.Process, sig os.Signal) {
		if sig == os.Kill {
			p.Exit(-1, errors.New("signal: killed"))
		}
	}
	sess := ipc.New(p, ipc.WithGracePeriod(20*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, sess.Dispose(ctx))
	assert.Equal(t, []os.Signal{syscall.SIGTERM, os.Kill}, p.Signals())
	assert.Equal(t, buildlog.StateExitFailure, sess.State())
}

func TestSession_DisposeGivesUpWithContext(t *testing.T) {
	p := enginetest.NewProcess(8)
	p.OnSignal = func(*enginetest.Process, os.Signal) {}
	sess := ipc.New(p, ipc.WithGracePeriod(time.Hour))
	t.Cleanup(func() { p.Exit(-1, nil) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sess.Dispose(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, buildlog.StateTerminating, sess.State())
	assert.Equal(t, []os.Signal{syscall.SIGTERM, os.Kill}, p.Signals())
}

func TestSession_DisposeAfterExit(t *testing.T) {
	sess, p := readySession(t)
	p.Exit(3, errors.New("exit status 3"))
	waitDone(t, sess)

	require.NoError(t, sess.Dispose(context.Background()))
	assert.Equal(t, buildlog.StateExitFailure, sess.State())
	assert.Empty(t, p.Signals())
	code, _ := buildlog.ExitCode(sess.Err())
	assert.Equal(t, 3, code)
}

// A subscriber may dispose the session from inside its callback.
func TestSession_SubscriberMayDispose(t *testing.T) {
	sess, p := newSession(t)
	sess.Subscribe(func(c buildlog.StateChange) {
		if c.To == buildlog.StateReady {
			_ = sess.Dispose(context.Background())
		}
	})
	require.NoError(t, p.Send(wire.ReadyEvent{}))
	waitDone(t, sess)
	assert.ErrorIs(t, sess.Err(), buildlog.ErrSessionDisposed)
}

func TestSession_ConcurrentWritesDoNotInterleave(t *testing.T) {
	sess, p := readySession(t)
	enginetest.ServeProcess(p, enginetest.SampleTree())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := "multi\nline query"
			if i%2 == 0 {
				_, err := sess.Search(context.Background(), q)
				assert.NoError(t, err)
				return
			}
			_, err := sess.ManyNodes(context.Background(), 0, i)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.NoError(t, p.ReadErr())
}
