// Package lifecycle tracks an engine subprocess's observable state.
package lifecycle

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dmora/buildlog"
)

// TransitionError reports a transition the state machine does not define.
type TransitionError struct {
	From, To buildlog.State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lifecycle: undefined transition %s -> %s", e.From, e.To)
}

// allowed lists the defined transitions. Terminal states have no entry.
var allowed = map[buildlog.State][]buildlog.State{
	buildlog.StateSpawned:      {buildlog.StateStarted, buildlog.StateTerminating, buildlog.StateExitFailure},
	buildlog.StateStarted:      {buildlog.StateReady, buildlog.StateTerminating, buildlog.StateExitFailure},
	buildlog.StateReady:        {buildlog.StateShuttingDown, buildlog.StateTerminating, buildlog.StateExitFailure},
	buildlog.StateShuttingDown: {buildlog.StateTerminating, buildlog.StateExitSuccess, buildlog.StateExitFailure},
	buildlog.StateTerminating:  {buildlog.StateExitSuccess, buildlog.StateExitFailure},
}

// CanTransition reports whether from -> to is a defined transition.
func CanTransition(from, to buildlog.State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

type delivery struct {
	change buildlog.StateChange
	subs   []uint64
}

// Machine is the state machine plus its subscriber list.
//
// Notifications run on one goroutine owned by the Machine, in transition
// order. Each goes to the subscribers registered when the transition
// happened and still registered at delivery time. Subscribers may call
// back into the Machine, including Transition, without deadlocking.
type Machine struct {
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	state  buildlog.State
	subs   map[uint64]func(buildlog.StateChange)
	nextID uint64
	queue  []delivery
	closed bool

	stopped chan struct{}
}

// New returns a Machine in StateSpawned. A nil logger discards.
func New(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Machine{
		logger:  logger,
		state:   buildlog.StateSpawned,
		subs:    make(map[uint64]func(buildlog.StateChange)),
		stopped: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.notify()
	return m
}

// State returns the current state.
func (m *Machine) State() buildlog.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves the machine to to. It returns true when the state
// changed. Repeating the current state, or any transition out of a
// terminal state, is a no-op returning false. Other undefined transitions
// return a *TransitionError and leave the state unchanged.
func (m *Machine) Transition(to buildlog.State, cause error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if from == to || from.Terminal() {
		return false, nil
	}
	if !CanTransition(from, to) {
		return false, &TransitionError{From: from, To: to}
	}
	m.state = to

	change := buildlog.StateChange{From: from, To: to, At: time.Now(), Err: cause}
	m.logger.Debug("lifecycle: transition", "from", from, "to", to)
	if m.closed {
		return true, nil
	}
	ids := make([]uint64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	m.queue = append(m.queue, delivery{change: change, subs: ids})
	m.cond.Signal()
	return true, nil
}

// Subscribe registers fn for future transitions and returns a function
// that removes it. Subscribers are called in subscription order; a removed
// subscriber is not called for deliveries that start after its removal.
func (m *Machine) Subscribe(fn func(buildlog.StateChange)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Close stops the notifier once queued notifications are delivered.
// Transitions after Close change state but notify nobody. Close must not
// be called from a subscriber.
func (m *Machine) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		m.cond.Signal()
	}
	m.mu.Unlock()
	<-m.stopped
}

func (m *Machine) notify() {
	defer close(m.stopped)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		d := m.queue[0]
		m.queue[0] = delivery{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		for _, id := range d.subs {
			m.mu.Lock()
			fn := m.subs[id]
			m.mu.Unlock()
			if fn != nil {
				fn(d.change)
			}
		}
	}
}
