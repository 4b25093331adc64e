package buildlog

import "time"

// StartOptions holds resolved configuration for Engine.Start.
// Engine implementations call ResolveOptions to collapse functional
// options into this struct. Zero values defer to Document.Options and
// then to the engine's own defaults.
type StartOptions struct {
	// RequestTimeout is the default deadline for each request whose
	// context has none. Zero means wait for the engine indefinitely.
	RequestTimeout time.Duration

	// ReadyTimeout makes Start block until the engine is ready, failing
	// after this long. Zero means Start returns once the process runs.
	ReadyTimeout time.Duration

	// TraceWire logs all wire traffic at debug level.
	TraceWire bool
}

// Option configures an Engine.Start invocation.
type Option func(*StartOptions)

// ResolveOptions applies functional options and returns the resolved config.
// Engine implementations call this in their Start method.
func ResolveOptions(opts ...Option) StartOptions {
	var so StartOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&so)
		}
	}
	return so
}

// ResolveDocumentOptions fills zero fields of so from doc.Options.
// Values set through functional options take precedence.
func ResolveDocumentOptions(so StartOptions, doc Document) (StartOptions, error) {
	if so.RequestTimeout == 0 {
		d, _, err := ParseMillisOption(doc.Options, OptionRequestTimeout)
		if err != nil {
			return so, err
		}
		so.RequestTimeout = d
	}
	if so.ReadyTimeout == 0 {
		d, _, err := ParseMillisOption(doc.Options, OptionReadyTimeout)
		if err != nil {
			return so, err
		}
		so.ReadyTimeout = d
	}
	if !so.TraceWire {
		v, _, err := ParseBoolOption(doc.Options, OptionTraceWire)
		if err != nil {
			return so, err
		}
		so.TraceWire = v
	}
	return so, nil
}

// WithRequestTimeout sets the default per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *StartOptions) {
		o.RequestTimeout = d
	}
}

// WithReadyTimeout makes Start wait up to d for the engine's ready event.
func WithReadyTimeout(d time.Duration) Option {
	return func(o *StartOptions) {
		o.ReadyTimeout = d
	}
}

// WithTraceWire enables debug logging of all wire traffic.
func WithTraceWire(on bool) Option {
	return func(o *StartOptions) {
		o.TraceWire = on
	}
}
