// Package correlate matches replies to the requests that caused them.
//
// Every request opens a slot under a fresh id. Ids start at 0, increase
// monotonically and are never reused, so a late or duplicate reply can
// never reach a different request. A slot is removed the moment it is
// resolved, rejected or cancelled.
package correlate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrDisposed is the rejection reason used when DisposeAll is given none.
var ErrDisposed = errors.New("correlate: disposed")

// Future is the receiving end of one slot.
type Future[T any] struct {
	id      int64
	created time.Time
	done    chan struct{}
	val     T
	err     error
}

// ID returns the request id the future waits on.
func (f *Future[T]) ID() int64 { return f.id }

// Created returns when the slot was opened.
func (f *Future[T]) Created() time.Time { return f.created }

// Done is closed once the future is resolved or rejected.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future is fulfilled or ctx ends. A fulfilled
// future wins over a simultaneously cancelled ctx. Wait does not remove the
// slot when ctx ends; callers pair it with Correlator.Cancel.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		select {
		case <-f.done:
			return f.val, f.err
		default:
		}
		var zero T
		return zero, ctx.Err()
	}
}

// fulfill stores the outcome and wakes waiters. Waiters resume on their own
// goroutines; the caller never runs their continuation.
func (f *Future[T]) fulfill(v T, err error) {
	f.val, f.err = v, err
	close(f.done)
}

// Correlator owns the id counter and the pending slots. One mutex guards
// both, so Open and Resolve never interleave for the same id.
type Correlator[T any] struct {
	mu       sync.Mutex
	next     int64
	pending  map[int64]*Future[T]
	disposed error
}

// New returns an empty correlator whose first id is 0.
func New[T any]() *Correlator[T] {
	return &Correlator[T]{pending: make(map[int64]*Future[T])}
}

// Open allocates the next id and registers a slot for it. After DisposeAll
// it returns the dispose reason instead.
func (c *Correlator[T]) Open() (int64, *Future[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed != nil {
		return 0, nil, c.disposed
	}
	id := c.next
	c.next++
	f := &Future[T]{id: id, created: time.Now(), done: make(chan struct{})}
	c.pending[id] = f
	return id, f, nil
}

// Resolve fulfills slot id with v. It reports false, and does nothing,
// for ids that are not pending.
func (c *Correlator[T]) Resolve(id int64, v T) bool {
	f := c.take(id)
	if f == nil {
		return false
	}
	f.fulfill(v, nil)
	return true
}

// Reject fails slot id with err. Unknown ids are a no-op.
func (c *Correlator[T]) Reject(id int64, err error) bool {
	f := c.take(id)
	if f == nil {
		return false
	}
	var zero T
	f.fulfill(zero, err)
	return true
}

// Cancel removes slot id without fulfilling it, for a waiter that has
// already given up. A reply arriving later is a no-op.
func (c *Correlator[T]) Cancel(id int64) bool {
	return c.take(id) != nil
}

// DisposeAll rejects every pending slot with reason, in id order, and makes
// future Opens fail. Later calls keep the first reason. It returns the
// number of slots rejected.
func (c *Correlator[T]) DisposeAll(reason error) int {
	if reason == nil {
		reason = ErrDisposed
	}
	c.mu.Lock()
	if c.disposed == nil {
		c.disposed = reason
	}
	reason = c.disposed
	futures := make([]*Future[T], 0, len(c.pending))
	for id, f := range c.pending {
		futures = append(futures, f)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	sort.Slice(futures, func(i, j int) bool { return futures[i].id < futures[j].id })
	var zero T
	for _, f := range futures {
		f.fulfill(zero, reason)
	}
	return len(futures)
}

// Len returns the number of pending slots.
func (c *Correlator[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator[T]) take(id int64) *Future[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return f
}
