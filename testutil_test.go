package buildlog

import (
	"context"
	"sync"
)

// mockSession is a test double for Session.
// Shared across root-package test files.
type mockSession struct {
	mu      sync.Mutex
	state   State
	subs    map[int]func(StateChange)
	nextSub int
	termErr error
	done    chan struct{}
}

var _ Session = (*mockSession)(nil)

func newMockSession(s State) *mockSession {
	return &mockSession{
		state: s,
		subs:  make(map[int]func(StateChange)),
		done:  make(chan struct{}),
	}
}

func (m *mockSession) ID() string { return "mock" }

func (m *mockSession) Root(context.Context) (Node, error) { return Node{}, nil }

func (m *mockSession) Node(context.Context, NodeID) (Node, error) { return Node{}, nil }

func (m *mockSession) ManyNodes(context.Context, NodeID, int) ([]Node, error) { return nil, nil }

func (m *mockSession) NodeSummary(context.Context, NodeID) (Node, error) { return Node{}, nil }

func (m *mockSession) NodeFullText(context.Context, NodeID) (string, error) { return "", nil }

func (m *mockSession) Search(context.Context, string) ([]SearchResult, error) { return nil, nil }

func (m *mockSession) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockSession) IsLive() bool { return IsLive(m.State()) }

func (m *mockSession) Subscribe(fn func(StateChange)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *mockSession) Shutdown() error { return nil }

func (m *mockSession) Dispose(context.Context) error { return nil }

func (m *mockSession) Done() <-chan struct{} { return m.done }

func (m *mockSession) Err() error {
	select {
	case <-m.done:
		return m.termErr
	default:
		return nil
	}
}

// transition moves the mock to s and notifies subscribers synchronously.
// Done is closed before subscribers run, matching the real session.
func (m *mockSession) transition(s State) {
	m.mu.Lock()
	from := m.state
	m.state = s
	subs := make([]func(StateChange), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	if s.Terminal() {
		close(m.done)
	}
	for _, fn := range subs {
		fn(StateChange{From: from, To: s})
	}
}
