// Package filter provides composable channel middleware over session
// lifecycle streams. Changes turns a session's subscription into a channel;
// the other functions narrow a channel to the transitions a consumer needs.
package filter

import (
	"context"
	"sync"
	"time"

	"github.com/dmora/buildlog"
)

// changeBuffer exceeds the number of transitions a session can make after
// it is constructed, so the subscriber callback never blocks.
const changeBuffer = 8

// Changes returns a channel of sess's lifecycle transitions from now on.
// The channel is closed after the terminal transition or when ctx ends.
// A session that has already ended yields one change reporting its final
// state. Callers must drain the channel or cancel ctx.
func Changes(ctx context.Context, sess buildlog.Session) <-chan buildlog.StateChange {
	in := make(chan buildlog.StateChange, changeBuffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	push := func(c buildlog.StateChange) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case in <- c:
		default:
		}
		if c.To.Terminal() {
			closed = true
			close(in)
		}
	}

	unsubscribe := sess.Subscribe(push)
	if s := sess.State(); s.Terminal() {
		push(buildlog.StateChange{From: s, To: s, At: time.Now(), Err: sess.Err()})
	}

	out := make(chan buildlog.StateChange)
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-in:
				if !ok || !trySend(ctx, out, c) {
					return
				}
			}
		}
	}()
	return out
}

// To returns a channel that only passes transitions into one of states.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
func To(ctx context.Context, ch <-chan buildlog.StateChange, states ...buildlog.State) <-chan buildlog.StateChange {
	allowed := make(map[buildlog.State]struct{}, len(states))
	for _, s := range states {
		allowed[s] = struct{}{}
	}
	return pipe(ctx, ch, func(c buildlog.StateChange) bool {
		_, ok := allowed[c.To]
		return ok
	})
}

// Faults returns a channel that passes only transitions carrying an error:
// engine crashes, unexpected exits and disposal.
func Faults(ctx context.Context, ch <-chan buildlog.StateChange) <-chan buildlog.StateChange {
	return pipe(ctx, ch, IsFault)
}

// TerminalOnly returns a channel that passes only the final transition.
func TerminalOnly(ctx context.Context, ch <-chan buildlog.StateChange) <-chan buildlog.StateChange {
	return pipe(ctx, ch, func(c buildlog.StateChange) bool {
		return c.To.Terminal()
	})
}

// IsFault reports whether c ended the session abnormally.
func IsFault(c buildlog.StateChange) bool {
	return c.To == buildlog.StateExitFailure || c.Err != nil
}

// pipe spawns a goroutine that reads from ch, passes changes matching
// the predicate to the returned channel, and closes it when ch closes
// or ctx is cancelled. Callers must either drain the returned channel
// or cancel ctx to avoid goroutine leaks. Changes accepted by the
// predicate may be silently dropped if ctx is cancelled mid-send.
func pipe(ctx context.Context, ch <-chan buildlog.StateChange, accept func(buildlog.StateChange) bool) <-chan buildlog.StateChange {
	out := make(chan buildlog.StateChange)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-ch:
				if !ok {
					return
				}
				if accept(c) && !trySend(ctx, out, c) {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends c on out, returning true on success.
// Returns false if ctx is cancelled before the send completes.
func trySend(ctx context.Context, out chan<- buildlog.StateChange, c buildlog.StateChange) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
