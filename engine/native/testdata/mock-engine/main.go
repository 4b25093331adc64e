//go:build ignore

// Command mock-engine simulates a build-log engine for integration tests.
// It takes the log path as its last argument and serves
// enginetest.SampleTree over stdin/stdout.
//
// Environment variables control failure modes:
//
//	MOCK_ENGINE_MODE=crash-after-ready announce ready, then exit 3
//	MOCK_ENGINE_MODE=never-ready       read stdin without announcing ready
//	MOCK_ENGINE_MODE=ignore-sigterm    ignore SIGTERM and hang after stdin closes
//	MOCK_ENGINE_MODE=garbage           write malformed output before serving
//	MOCK_ENGINE_ECHO=KEY               write KEY's value to stderr at startup
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmora/buildlog/enginetest"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: mock-engine <log>")
		os.Exit(2)
	}
	path := os.Args[len(os.Args)-1]
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}
	if key := os.Getenv("MOCK_ENGINE_ECHO"); key != "" {
		fmt.Fprintf(os.Stderr, "%s=%s\n", key, os.Getenv(key))
	}
	fmt.Fprintf(os.Stderr, "loaded %s\n", path)

	switch os.Getenv("MOCK_ENGINE_MODE") {
	case "crash-after-ready":
		fmt.Fprint(os.Stdout, `{"type":"ready"}`)
		fmt.Fprintln(os.Stderr, "fatal: out of memory")
		os.Exit(3)
	case "never-ready":
		_, _ = io.Copy(io.Discard, os.Stdin)
		return
	case "ignore-sigterm":
		signal.Ignore(syscall.SIGTERM)
	case "garbage":
		fmt.Fprint(os.Stdout, "}garbage\n")
	}

	if err := enginetest.Serve(os.Stdin, os.Stdout, enginetest.SampleTree()); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(1)
	}
	if os.Getenv("MOCK_ENGINE_MODE") == "ignore-sigterm" {
		select {}
	}
}
