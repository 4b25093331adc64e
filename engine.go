package buildlog

import "context"

// Engine opens sessions against a build-log engine.
//
// Implementations include the native child-process engine (engine/native).
// Use Validate to check the engine's prerequisites before calling Start.
type Engine interface {
	// Start launches an engine for doc and returns a live Session.
	// The session begins in StateStarted; use WaitReady to block until the
	// engine can answer queries.
	Start(ctx context.Context, doc Document, opts ...Option) (Session, error)

	// Validate checks that the engine is available, e.g. that its binary
	// exists and is executable.
	Validate() error
}
