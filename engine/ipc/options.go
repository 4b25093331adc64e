package ipc

import (
	"io"
	"log/slog"
	"time"

	"github.com/dmora/buildlog/stream"
)

// Default session configuration values.
const (
	DefaultGracePeriod    = 5 * time.Second
	defaultReadBufferSize = 32 << 10
)

// Options holds resolved configuration for a Session.
type Options struct {
	// ID names the session in logs. Empty means a fresh uuid.
	ID string

	// Logger receives session diagnostics. Nil discards.
	Logger *slog.Logger

	// StderrSink receives each line the engine writes to stderr.
	// Nil logs lines at info level with stream=stderr.
	StderrSink func(line string)

	// RequestTimeout bounds requests whose context has no deadline.
	// Zero waits for the engine indefinitely.
	RequestTimeout time.Duration

	// GracePeriod is how long Dispose waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration

	// TraceWire logs every command and message at debug level.
	TraceWire bool

	// MaxMessageSize bounds a single engine message in bytes.
	MaxMessageSize int
}

// Option configures a Session.
type Option func(*Options)

// WithID sets the session id used in logs.
func WithID(id string) Option {
	return func(o *Options) {
		o.ID = id
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithStderrSink routes engine stderr lines to fn.
func WithStderrSink(fn func(line string)) Option {
	return func(o *Options) {
		o.StderrSink = fn
	}
}

// WithRequestTimeout sets the default per-request deadline.
// Values < 0 are ignored.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.RequestTimeout = d
		}
	}
}

// WithGracePeriod sets the SIGTERM to SIGKILL delay used by Dispose.
// Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.GracePeriod = d
		}
	}
}

// WithTraceWire enables debug logging of all wire traffic.
func WithTraceWire(on bool) Option {
	return func(o *Options) {
		o.TraceWire = on
	}
}

// WithMaxMessageSize bounds a single engine message. Values <= 0 are ignored.
func WithMaxMessageSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxMessageSize = n
		}
	}
}

func resolveOptions(opts ...Option) Options {
	o := Options{
		GracePeriod:    DefaultGracePeriod,
		MaxMessageSize: stream.DefaultMaxValueSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}
