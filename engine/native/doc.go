// Package native runs the build-log engine as a child process.
//
// Engine spawns the engine binary with the document path as its last
// argument and wires the child's stdin, stdout and stderr into an
// ipc.Session. The session owns the process from then on: Dispose sends
// SIGTERM, then SIGKILL after the grace period.
//
//	eng := native.NewEngine(native.WithBinary("buildlog-engine"))
//	sess, err := eng.Start(ctx, buildlog.NewDocument("/var/log/build.log"),
//		buildlog.WithReadyTimeout(10*time.Second))
//	if err != nil {
//		return err
//	}
//	defer sess.Dispose(context.Background())
//	root, err := sess.Root(ctx)
package native
