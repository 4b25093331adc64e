// Package enginetest provides fake build-log engines and a compliance
// suite for buildlog.Session implementations.
//
// [Process] is an in-memory engine process: tests see every command the
// session writes and script the engine's stdout, stderr and exit. [Engine]
// wraps it into a buildlog.Engine that answers from a [Tree]. [Serve] runs
// the same protocol over real pipes, for mock engine binaries.
//
// [RunSessionTests] checks the behavioral contract of a session against
// [SampleTree]:
//
//	func TestCompliance(t *testing.T) {
//	    enginetest.RunSessionTests(t, func(t *testing.T) buildlog.Session {
//	        return startMySession(t) // engine serving enginetest.SampleTree()
//	    })
//	}
package enginetest
