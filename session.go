package buildlog

import "context"

// Session is one live engine bound to one open Document.
//
// Request methods may be called concurrently; each blocks until the engine
// answers that request, ctx ends, or the session dies. Replies may arrive in
// any order: every caller receives the reply to its own request.
//
// Session is an interface to enable wrapping with logging, caching,
// or metrics middleware.
type Session interface {
	// ID returns the session identifier used in logs.
	ID() string

	// Root returns the root node of the log tree.
	Root(ctx context.Context) (Node, error)

	// Node returns the node with the given id.
	Node(ctx context.Context, id NodeID) (Node, error)

	// ManyNodes returns up to count nodes starting at id.
	ManyNodes(ctx context.Context, id NodeID, count int) ([]Node, error)

	// NodeSummary returns the node with its children summarized.
	NodeSummary(ctx context.Context, id NodeID) (Node, error)

	// NodeFullText returns the unabridged text of a node.
	NodeFullText(ctx context.Context, id NodeID) (string, error)

	// Search returns the nodes matching query.
	Search(ctx context.Context, query string) ([]SearchResult, error)

	// State returns the current lifecycle state.
	State() State

	// IsLive reports whether requests may still be issued.
	IsLive() bool

	// Subscribe registers fn for every subsequent lifecycle transition and
	// returns a function that removes it. Notifications arrive in
	// transition order on a goroutine owned by the session.
	Subscribe(fn func(StateChange)) (unsubscribe func())

	// Shutdown asks a ready engine to finish and exit on its own.
	Shutdown() error

	// Dispose terminates the engine and fails every pending request with
	// ErrSessionDisposed. Safe to call multiple times.
	Dispose(ctx context.Context) error

	// Done is closed once the engine process has exited and the session
	// reached a terminal state.
	Done() <-chan struct{}

	// Err returns the terminal error after Done is closed: nil for a clean
	// exit, ErrSessionDisposed after Dispose, *ProcessFaultError otherwise.
	// Returns nil while the session is running.
	Err() error
}
