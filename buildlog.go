// Package buildlog provides a typed client for build-log engines: long-lived
// subprocesses that own a parsed log tree and answer queries about it over
// a line-oriented command protocol.
//
// The root package defines the shared vocabulary for every engine
// implementation. The subsystems that do the work live in sub-packages:
//
//   - [stream]: incremental decoders for the engine's output pipes
//   - [wire]: the command encoding and reply/event decoding
//   - engine/ipc: the session that multiplexes requests over one subprocess
//   - engine/native: an [Engine] that spawns the engine as a child process
//
// # Core Types
//
//   - [Engine]: validates its prerequisites and opens sessions
//   - [Session]: one live engine bound to one [Document]
//   - [Node], [SearchResult]: typed reply payloads
//   - [State]: the engine's observed lifecycle phase
//
// # Quick Start
//
//	engine := native.NewEngine(native.WithBinary("logengine"))
//	sess, err := engine.Start(ctx, buildlog.NewDocument("/tmp/build.binlog"))
//	if err != nil { log.Fatal(err) }
//	defer sess.Dispose(context.Background())
//	if err := buildlog.WaitReady(ctx, sess); err != nil { log.Fatal(err) }
//	root, err := sess.Root(ctx)
//
// [stream]: https://pkg.go.dev/github.com/dmora/buildlog/stream
// [wire]: https://pkg.go.dev/github.com/dmora/buildlog/wire
package buildlog
