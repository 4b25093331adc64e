package buildlog

import (
	"strconv"
	"time"
)

// State is the engine's coarse-grained operational phase as observed by a
// session. It is driven by the session (spawn, dispose), by the engine
// (ready and done events) and by the OS (process exit).
type State int

const (
	// StateSpawned is the initial state, before the process handle exists.
	StateSpawned State = iota

	// StateStarted means the subprocess was launched.
	StateStarted

	// StateReady means the engine announced it can answer queries.
	StateReady

	// StateShuttingDown means the engine announced it is done, or the
	// controller asked it to shut down.
	StateShuttingDown

	// StateTerminating means the session was disposed before a natural exit.
	StateTerminating

	// StateExitSuccess is terminal: the process exited with status 0 after
	// a shutdown or termination.
	StateExitSuccess

	// StateExitFailure is terminal: the process failed to spawn, exited
	// non-zero, was killed by a signal, or exited while still live.
	StateExitFailure
)

var stateNames = [...]string{
	StateSpawned:      "spawned",
	StateStarted:      "started",
	StateReady:        "ready",
	StateShuttingDown: "shutting_down",
	StateTerminating:  "terminating",
	StateExitSuccess:  "exit_success",
	StateExitFailure:  "exit_failure",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether no transition is defined out of s.
func (s State) Terminal() bool {
	return s == StateExitSuccess || s == StateExitFailure
}

// IsLive reports whether a session in state s may issue requests.
// Shutting down and terminating sessions count as dead: anything that
// gates request issuance must treat them exactly like an exited process.
func IsLive(s State) bool {
	switch s {
	case StateShuttingDown, StateTerminating, StateExitSuccess, StateExitFailure:
		return false
	default:
		return true
	}
}

// StateChange is delivered to subscribers once per lifecycle transition.
type StateChange struct {
	From State
	To   State
	At   time.Time

	// Err describes the cause of a fault transition (process exit error,
	// spawn failure). Nil for ordinary transitions.
	Err error
}
