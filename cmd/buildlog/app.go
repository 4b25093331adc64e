package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmora/buildlog"
	"github.com/dmora/buildlog/engine/native"
	"github.com/dmora/buildlog/internal/config"
	"github.com/dmora/buildlog/internal/logging"
)

// app carries the state shared by every subcommand.
type app struct {
	// Flags.
	configPath string
	engineBin  string
	logLevel   string
	logFormat  string
	jsonOut    bool
	noColor    bool
	timeout    time.Duration

	stdout io.Writer
	stderr io.Writer

	// newEngine builds the engine for a command. Tests replace it.
	newEngine func(cfg *config.Config, logger *slog.Logger) buildlog.Engine

	cfg    *config.Config
	logger *slog.Logger
}

func newApp() *app {
	return &app{
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		newEngine: nativeEngine,
	}
}

// nativeEngine builds the child-process engine described by cfg.
func nativeEngine(cfg *config.Config, logger *slog.Logger) buildlog.Engine {
	return native.NewEngine(
		native.WithBinary(cfg.Engine.Binary),
		native.WithArgs(cfg.Engine.Args...),
		native.WithEnv(cfg.Engine.Env),
		native.WithGracePeriod(cfg.GracePeriod()),
		native.WithMaxMessageSize(cfg.Session.MaxMessageSize),
		native.WithLogger(logger),
	)
}

// setup loads configuration, applies flags and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("engine") {
		cfg.Engine.Binary = a.engineBin
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("timeout") {
		cfg.Session.RequestTimeout = a.timeout.String()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, a.stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// renderer returns the output renderer for this invocation.
func (a *app) renderer() *renderer {
	return newRenderer(a.stdout, a.jsonOut, !a.noColor && isTerminal(a.stdout))
}

// openSession starts an engine for the log at path and waits until it is
// ready.
func (a *app) openSession(ctx context.Context, path string) (buildlog.Session, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("log path: %w", err)
	}
	eng := a.newEngine(a.cfg, a.logger)
	if err := eng.Validate(); err != nil {
		return nil, err
	}
	doc := buildlog.NewDocument(abs)
	sess, err := eng.Start(ctx, doc,
		buildlog.WithRequestTimeout(a.cfg.RequestTimeout()),
		buildlog.WithReadyTimeout(a.cfg.ReadyTimeout()),
		buildlog.WithTraceWire(a.cfg.Session.TraceWire),
	)
	if err != nil {
		return nil, err
	}
	// Without a ready timeout Start returns at once; queries still need a
	// ready engine.
	if err := buildlog.WaitReady(ctx, sess); err != nil {
		a.closeSession(sess)
		return nil, err
	}
	a.logger.Debug("buildlog: session ready", "session", sess.ID(), "log", abs)
	return sess, nil
}

// closeSession asks the engine to finish and disposes it if it does not
// exit within the grace period.
func (a *app) closeSession(sess buildlog.Session) {
	grace := a.cfg.GracePeriod()
	if err := sess.Shutdown(); err == nil {
		select {
		case <-sess.Done():
			return
		case <-time.After(grace):
			a.logger.Warn("buildlog: engine ignored shutdown", "session", sess.ID())
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*grace)
	defer cancel()
	if err := sess.Dispose(ctx); err != nil {
		a.logger.Warn("buildlog: dispose", "session", sess.ID(), "error", err)
	}
}

// withSession runs fn against a fresh session for the log at path.
func (a *app) withSession(ctx context.Context, path string, fn func(context.Context, buildlog.Session) error) error {
	sess, err := a.openSession(ctx, path)
	if err != nil {
		return err
	}
	defer a.closeSession(sess)
	return fn(ctx, sess)
}
