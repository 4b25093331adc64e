// Command buildlog queries build logs through a build-log engine.
//
// Each invocation starts one engine for the named log, issues its
// requests, and shuts the engine down:
//
//	buildlog root ./msbuild.log
//	buildlog search ./msbuild.log CS1002
//	buildlog tree --depth 3 ./msbuild.log
//	buildlog watch ./msbuild.log
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "buildlog: %v\n", err)
		os.Exit(1)
	}
}
