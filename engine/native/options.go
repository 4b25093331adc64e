package native

import (
	"log/slog"
	"maps"
	"time"

	"github.com/dmora/buildlog/engine/ipc"
)

// DefaultBinary is the engine executable looked up on PATH when none is
// configured.
const DefaultBinary = "buildlog-engine"

// DefaultWaitDelay is the default for EngineOptions.WaitDelay.
const DefaultWaitDelay = 2 * time.Second

// EngineOptions holds resolved construction-time configuration for a
// native engine.
type EngineOptions struct {
	// Binary is the engine executable name or path.
	Binary string

	// Args are passed to the binary before the document path.
	Args []string

	// Env holds environment overrides applied to every engine process.
	// Document.Env entries win over these.
	Env map[string]string

	// GracePeriod is the duration to wait after SIGTERM before SIGKILL.
	GracePeriod time.Duration

	// WaitDelay bounds how long stdout and stderr stay open after the
	// engine exits. Descendants still holding them are cut off after it.
	WaitDelay time.Duration

	// RequestTimeout is the default per-request deadline when neither the
	// Start options nor the document set one. Zero waits indefinitely.
	RequestTimeout time.Duration

	// ReadyTimeout is the default ready wait for Start. Zero returns as
	// soon as the process runs.
	ReadyTimeout time.Duration

	// MaxMessageSize bounds a single engine message in bytes.
	MaxMessageSize int

	// Logger receives engine and session diagnostics.
	Logger *slog.Logger

	// StderrSink receives engine stderr lines. Nil logs them.
	StderrSink func(line string)
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*EngineOptions)

// WithBinary sets the engine executable name or path.
func WithBinary(binary string) EngineOption {
	return func(o *EngineOptions) {
		if binary != "" {
			o.Binary = binary
		}
	}
}

// WithArgs sets arguments passed to the binary before the document path.
func WithArgs(args ...string) EngineOption {
	return func(o *EngineOptions) {
		o.Args = args
	}
}

// WithEnv adds environment overrides for every engine process.
func WithEnv(env map[string]string) EngineOption {
	return func(o *EngineOptions) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}
		maps.Copy(o.Env, env)
	}
}

// WithGracePeriod sets the duration to wait after SIGTERM before SIGKILL.
// Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) EngineOption {
	return func(o *EngineOptions) {
		if d > 0 {
			o.GracePeriod = d
		}
	}
}

// WithWaitDelay sets how long to keep reading engine output after the
// engine exits. Values <= 0 are ignored.
func WithWaitDelay(d time.Duration) EngineOption {
	return func(o *EngineOptions) {
		if d > 0 {
			o.WaitDelay = d
		}
	}
}

// WithRequestTimeout sets the default per-request deadline.
// Values < 0 are ignored.
func WithRequestTimeout(d time.Duration) EngineOption {
	return func(o *EngineOptions) {
		if d >= 0 {
			o.RequestTimeout = d
		}
	}
}

// WithReadyTimeout makes Start wait up to d for the engine's ready event
// unless the Start options say otherwise. Values < 0 are ignored.
func WithReadyTimeout(d time.Duration) EngineOption {
	return func(o *EngineOptions) {
		if d >= 0 {
			o.ReadyTimeout = d
		}
	}
}

// WithMaxMessageSize bounds a single engine message. Values <= 0 are ignored.
func WithMaxMessageSize(n int) EngineOption {
	return func(o *EngineOptions) {
		if n > 0 {
			o.MaxMessageSize = n
		}
	}
}

// WithLogger sets the logger for the engine and its sessions.
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *EngineOptions) {
		o.Logger = l
	}
}

// WithStderrSink routes engine stderr lines to fn.
func WithStderrSink(fn func(line string)) EngineOption {
	return func(o *EngineOptions) {
		o.StderrSink = fn
	}
}

func resolveEngineOptions(opts ...EngineOption) EngineOptions {
	o := EngineOptions{
		Binary:      DefaultBinary,
		GracePeriod: ipc.DefaultGracePeriod,
		WaitDelay:   DefaultWaitDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
