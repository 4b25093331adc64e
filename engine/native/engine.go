package native

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/dmora/buildlog"
	"github.com/dmora/buildlog/engine/ipc"
)

// Engine starts build-log engine child processes.
type Engine struct {
	opts EngineOptions

	mu       sync.Mutex
	resolved string // cached LookPath result
}

var _ buildlog.Engine = (*Engine)(nil)

// NewEngine creates a native engine. Use EngineOption functions to set the
// binary, its arguments and environment, and session defaults.
func NewEngine(opts ...EngineOption) *Engine {
	return &Engine{opts: resolveEngineOptions(opts...)}
}

// Options returns the engine's resolved configuration.
func (e *Engine) Options() EngineOptions { return e.opts }

// Validate checks that the engine binary is configured and on PATH.
func (e *Engine) Validate() error {
	_, err := e.resolveBinary()
	return err
}

// resolveBinary resolves the binary via PATH on first success and reuses
// the result afterwards.
func (e *Engine) resolveBinary() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved != "" {
		return e.resolved, nil
	}
	if e.opts.Binary == "" {
		return "", fmt.Errorf("%w: no binary configured (use WithBinary)", buildlog.ErrUnavailable)
	}
	path, err := exec.LookPath(e.opts.Binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", buildlog.ErrUnavailable, e.opts.Binary, err)
	}
	e.resolved = path
	return path, nil
}

// Start spawns the engine for doc and returns its session. With a ready
// timeout set, Start blocks until the engine is ready and disposes the
// session if it is not.
func (e *Engine) Start(ctx context.Context, doc buildlog.Document, opts ...buildlog.Option) (buildlog.Session, error) {
	so, err := buildlog.ResolveDocumentOptions(buildlog.ResolveOptions(opts...), doc)
	if err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}
	if so.RequestTimeout == 0 {
		so.RequestTimeout = e.opts.RequestTimeout
	}
	if so.ReadyTimeout == 0 {
		so.ReadyTimeout = e.opts.ReadyTimeout
	}

	doc = doc.Clone()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if err := validateLogPath(doc.Path); err != nil {
		return nil, err
	}
	env := maps.Clone(e.opts.Env)
	if env == nil {
		env = make(map[string]string, len(doc.Env))
	}
	maps.Copy(env, doc.Env)
	if err := buildlog.ValidateEnv(env); err != nil {
		return nil, fmt.Errorf("native: %w", err)
	}

	binary, err := e.resolveBinary()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := append(append([]string(nil), e.opts.Args...), doc.Path)
	proc, err := spawn(binary, args, buildlog.MergeEnv(os.Environ(), env), e.opts.WaitDelay)
	if err != nil {
		return nil, fmt.Errorf("native: start %s: %w", binary, err)
	}

	sess := ipc.New(proc, e.sessionOptions(doc, so)...)

	if so.ReadyTimeout > 0 {
		readyCtx, cancel := context.WithTimeout(ctx, so.ReadyTimeout)
		defer cancel()
		if err := buildlog.WaitReady(readyCtx, sess); err != nil {
			_ = sess.Dispose(context.Background())
			return nil, fmt.Errorf("native: %w", err)
		}
	}
	return sess, nil
}

func (e *Engine) sessionOptions(doc buildlog.Document, so buildlog.StartOptions) []ipc.Option {
	opts := []ipc.Option{
		ipc.WithID(doc.ID),
		ipc.WithGracePeriod(e.opts.GracePeriod),
		ipc.WithRequestTimeout(so.RequestTimeout),
		ipc.WithTraceWire(so.TraceWire),
		ipc.WithMaxMessageSize(e.opts.MaxMessageSize),
		ipc.WithLogger(e.opts.Logger),
	}
	if e.opts.StderrSink != nil {
		opts = append(opts, ipc.WithStderrSink(e.opts.StderrSink))
	}
	return opts
}

// validateLogPath requires an absolute path to an existing regular file.
func validateLogPath(path string) error {
	if path == "" {
		return fmt.Errorf("native: document has no path")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("native: log path must be absolute, got %q", path)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("native: log file: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("native: log path %q is not a regular file", path)
	}
	return nil
}
