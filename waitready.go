package buildlog

import (
	"context"
	"fmt"
	"sync/atomic"
)

// WaitReady blocks until sess reports StateReady, sess leaves the live
// states, or ctx ends. It returns nil once the engine has been ready at any
// point after the call began, even if it has already moved on.
//
// If the engine dies first the error wraps ErrNotReady and, for a
// terminated process, the session's terminal error.
func WaitReady(ctx context.Context, sess Session) error {
	var readySeen atomic.Bool
	notify := make(chan struct{}, 1)
	unsubscribe := sess.Subscribe(func(c StateChange) {
		if c.To == StateReady {
			readySeen.Store(true)
		}
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		s := sess.State()
		if s == StateReady || readySeen.Load() {
			return nil
		}
		if !IsLive(s) {
			return notReady(sess, s)
		}
		select {
		case <-notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// notReady builds the WaitReady error for a session that died in state s.
func notReady(sess Session, s State) error {
	if s.Terminal() {
		if err := sess.Err(); err != nil {
			return fmt.Errorf("%w: engine %s: %w", ErrNotReady, s, err)
		}
	}
	return fmt.Errorf("%w: engine %s", ErrNotReady, s)
}
