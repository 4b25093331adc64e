package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/dmora/buildlog"
	"github.com/dmora/buildlog/filter"
)

const defaultDebounce = 250 * time.Millisecond

func watchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <log>",
		Short: "Print the root node, and again whenever the log file changes",
		Long: `watch keeps an engine open for the log and restarts it each time the
file is written or replaced, printing the new root node. Engine crashes are
reported as they happen. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context(), args[0], debounce)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "quiet period after a change before reloading")
	return cmd
}

// syncWriter serializes writes from the watch loop and fault reporters.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (a *app) watch(ctx context.Context, path string, debounce time.Duration) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("log path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fsw.Close()
	// Watch the directory: editors and build tools often replace the file.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	r := newRenderer(&syncWriter{w: a.stdout}, a.jsonOut, !a.noColor && isTerminal(a.stdout))

	var sess buildlog.Session
	load := func() {
		s, err := a.openSession(ctx, abs)
		if err != nil {
			_ = r.event("load failed: %v", err)
			return
		}
		go reportFaults(ctx, s, r)
		root, err := s.Root(ctx)
		if err != nil {
			_ = r.event("root: %v", err)
			a.closeSession(s)
			return
		}
		_ = r.node(root)
		sess = s
	}
	unload := func() {
		if sess != nil {
			a.closeSession(sess)
			sess = nil
		}
	}
	defer unload()

	load()

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("buildlog: watch error", "path", abs, "error", err)

		case <-fire:
			_ = r.event("%s changed, reloading", path)
			unload()
			load()
		}
	}
}

// reportFaults prints every abnormal end of sess other than disposal.
func reportFaults(ctx context.Context, sess buildlog.Session, r *renderer) {
	for c := range filter.Faults(ctx, filter.Changes(ctx, sess)) {
		if errors.Is(c.Err, buildlog.ErrSessionDisposed) {
			continue
		}
		_ = r.event("engine %s: %v", c.To, c.Err)
	}
}
