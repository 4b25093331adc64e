// Package ipc runs the request/reply protocol of a build-log engine over
// the three byte streams of one engine process.
//
// A Session owns the process handle, a JSON stream decoder for stdout, a
// text decoder for stderr, a request correlator and a lifecycle state
// machine. It is transport-agnostic: anything that provides the Process
// interface can be driven, a native child process (engine/native) or an
// in-memory fake (enginetest).
//
//	sess := ipc.New(proc, ipc.WithLogger(logger))
//	defer sess.Dispose(context.Background())
//	root, err := sess.Root(ctx)
package ipc
