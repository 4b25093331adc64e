package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmora/buildlog"
)

// recorder collects notifications delivered on the notifier goroutine.
type recorder struct {
	mu      sync.Mutex
	changes []buildlog.StateChange
	ch      chan struct{}
}

func newRecorder() *recorder { return &recorder{ch: make(chan struct{}, 64)} }

func (r *recorder) record(c buildlog.StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *recorder) waitN(t *testing.T, n int) []buildlog.StateChange {
	t.Helper()
	for range n {
		select {
		case <-r.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d notifications", n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]buildlog.StateChange(nil), r.changes...)
}

func TestNew_StartsSpawned(t *testing.T) {
	m := New(nil)
	defer m.Close()
	assert.Equal(t, buildlog.StateSpawned, m.State())
}

func TestTransition_HappyPath(t *testing.T) {
	m := New(nil)
	defer m.Close()
	rec := newRecorder()
	m.Subscribe(rec.record)

	path := []buildlog.State{
		buildlog.StateStarted,
		buildlog.StateReady,
		buildlog.StateShuttingDown,
		buildlog.StateExitSuccess,
	}
	for _, s := range path {
		ok, err := m.Transition(s, nil)
		require.NoError(t, err)
		require.True(t, ok, "transition to %s", s)
	}

	got := rec.waitN(t, len(path))
	require.Len(t, got, len(path))
	from := buildlog.StateSpawned
	for i, c := range got {
		assert.Equal(t, from, c.From)
		assert.Equal(t, path[i], c.To)
		assert.False(t, c.At.IsZero())
		from = c.To
	}
}

func TestTransition_TerminalIsFinal(t *testing.T) {
	for _, terminal := range []buildlog.State{buildlog.StateExitSuccess, buildlog.StateExitFailure} {
		m := New(nil)
		_, err := m.Transition(buildlog.StateStarted, nil)
		require.NoError(t, err)
		_, err = m.Transition(buildlog.StateTerminating, nil)
		require.NoError(t, err)
		ok, err := m.Transition(terminal, nil)
		require.NoError(t, err)
		require.True(t, ok)

		for s := buildlog.StateSpawned; s <= buildlog.StateExitFailure; s++ {
			ok, err := m.Transition(s, nil)
			assert.NoError(t, err)
			assert.False(t, ok, "%s -> %s", terminal, s)
		}
		assert.Equal(t, terminal, m.State())
		m.Close()
	}
}

func TestTransition_Undefined(t *testing.T) {
	m := New(nil)
	defer m.Close()
	_, err := m.Transition(buildlog.StateStarted, nil)
	require.NoError(t, err)

	ok, err := m.Transition(buildlog.StateExitSuccess, nil)
	assert.False(t, ok)
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, buildlog.StateStarted, te.From)
	assert.Equal(t, buildlog.StateExitSuccess, te.To)
	assert.Equal(t, buildlog.StateStarted, m.State())

	_, err = m.Transition(buildlog.StateShuttingDown, nil)
	assert.Error(t, err, "done before ready is undefined")
}

func TestTransition_RepeatIsNoop(t *testing.T) {
	m := New(nil)
	defer m.Close()
	rec := newRecorder()
	m.Subscribe(rec.record)

	_, _ = m.Transition(buildlog.StateStarted, nil)
	_, _ = m.Transition(buildlog.StateReady, nil)
	ok, err := m.Transition(buildlog.StateReady, nil)
	assert.NoError(t, err)
	assert.False(t, ok)

	got := rec.waitN(t, 2)
	m.Close()
	assert.Len(t, got, 2)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(buildlog.StateSpawned, buildlog.StateExitFailure))
	assert.True(t, CanTransition(buildlog.StateReady, buildlog.StateTerminating))
	assert.True(t, CanTransition(buildlog.StateTerminating, buildlog.StateExitSuccess))
	assert.False(t, CanTransition(buildlog.StateReady, buildlog.StateExitSuccess))
	assert.False(t, CanTransition(buildlog.StateExitFailure, buildlog.StateTerminating))
	for s := buildlog.StateSpawned; s <= buildlog.StateShuttingDown; s++ {
		assert.True(t, CanTransition(s, buildlog.StateTerminating), "%s -> terminating", s)
	}
}

func TestTransition_CarriesCause(t *testing.T) {
	m := New(nil)
	defer m.Close()
	rec := newRecorder()
	m.Subscribe(rec.record)

	cause := &buildlog.ProcessFaultError{ExitCode: 2}
	_, _ = m.Transition(buildlog.StateStarted, nil)
	_, _ = m.Transition(buildlog.StateExitFailure, cause)

	got := rec.waitN(t, 2)
	assert.NoError(t, got[0].Err)
	assert.Same(t, cause, got[1].Err)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	m := New(nil)
	defer m.Close()
	kept := newRecorder()
	dropped := newRecorder()
	m.Subscribe(kept.record)
	unsubscribe := m.Subscribe(dropped.record)

	unsubscribe()
	unsubscribe()
	_, _ = m.Transition(buildlog.StateStarted, nil)

	kept.waitN(t, 1)
	m.Close()
	dropped.mu.Lock()
	defer dropped.mu.Unlock()
	assert.Empty(t, dropped.changes)
}

func TestSubscribe_LateSubscriberMissesEarlierTransitions(t *testing.T) {
	m := New(nil)
	defer m.Close()
	_, _ = m.Transition(buildlog.StateStarted, nil)

	rec := newRecorder()
	m.Subscribe(rec.record)
	_, _ = m.Transition(buildlog.StateReady, nil)

	got := rec.waitN(t, 1)
	m.Close()
	require.Len(t, got, 1)
	assert.Equal(t, buildlog.StateReady, got[0].To)
}

// A subscriber that transitions the machine from inside its callback must
// not deadlock, and its transition is delivered after the current one.
func TestSubscriber_MayReenter(t *testing.T) {
	m := New(nil)
	defer m.Close()
	rec := newRecorder()
	m.Subscribe(func(c buildlog.StateChange) {
		if c.To == buildlog.StateReady {
			_, _ = m.Transition(buildlog.StateTerminating, nil)
			_ = m.State()
		}
	})
	m.Subscribe(rec.record)

	_, _ = m.Transition(buildlog.StateStarted, nil)
	_, _ = m.Transition(buildlog.StateReady, nil)

	got := rec.waitN(t, 3)
	require.Len(t, got, 3)
	assert.Equal(t, buildlog.StateStarted, got[0].To)
	assert.Equal(t, buildlog.StateReady, got[1].To)
	assert.Equal(t, buildlog.StateTerminating, got[2].To)
}

func TestClose_DrainsQueue(t *testing.T) {
	m := New(nil)
	var mu sync.Mutex
	var n int
	m.Subscribe(func(buildlog.StateChange) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	_, _ = m.Transition(buildlog.StateStarted, nil)
	_, _ = m.Transition(buildlog.StateReady, nil)
	m.Close()
	m.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, n)

	ok, err := m.Transition(buildlog.StateTerminating, nil)
	assert.NoError(t, err)
	assert.True(t, ok, "state still changes after Close")
}
