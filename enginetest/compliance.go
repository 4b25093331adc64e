package enginetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmora/buildlog"
)

// complianceTimeout bounds every step of the compliance suite.
const complianceTimeout = 10 * time.Second

// RunSessionTests runs the session compliance suite. The factory is called
// once per subtest and must return a started session whose engine serves
// SampleTree. The suite disposes every session it receives.
func RunSessionTests(t *testing.T, factory func(t *testing.T) buildlog.Session) {
	t.Helper()

	start := func(t *testing.T) (buildlog.Session, context.Context) {
		t.Helper()
		sess := factory(t)
		t.Cleanup(func() { _ = sess.Dispose(context.Background()) })
		ctx, cancel := context.WithTimeout(context.Background(), complianceTimeout)
		t.Cleanup(cancel)
		if err := buildlog.WaitReady(ctx, sess); err != nil {
			t.Fatalf("WaitReady: %v", err)
		}
		return sess, ctx
	}

	t.Run("Ready", func(t *testing.T) {
		sess, _ := start(t)
		if !sess.IsLive() {
			t.Errorf("ready session is not live: %s", sess.State())
		}
		if sess.ID() == "" {
			t.Error("session ID must be non-empty")
		}
	})

	t.Run("Root", func(t *testing.T) {
		sess, ctx := start(t)
		root, err := sess.Root(ctx)
		if err != nil {
			t.Fatalf("Root: %v", err)
		}
		if root.ID != SampleRoot || len(root.Children) != 1 || root.Children[0] != SampleProject {
			t.Errorf("Root = %+v", root)
		}
		if len(root.Raw) == 0 {
			t.Error("Root.Raw must hold the engine's payload")
		}
	})

	t.Run("Node", func(t *testing.T) {
		sess, ctx := start(t)
		n, err := sess.Node(ctx, SampleError)
		if err != nil {
			t.Fatalf("Node: %v", err)
		}
		if n.ID != SampleError || !n.Abridged || !strings.Contains(n.Summary, "CS1002") {
			t.Errorf("Node(%d) = %+v", SampleError, n)
		}
	})

	t.Run("ManyNodes", func(t *testing.T) {
		sess, ctx := start(t)
		nodes, err := sess.ManyNodes(ctx, SampleProject, 2)
		if err != nil {
			t.Fatalf("ManyNodes: %v", err)
		}
		if len(nodes) != 2 || nodes[0].ID != SampleProject || nodes[1].ID != SampleTarget {
			t.Errorf("ManyNodes = %+v", nodes)
		}
	})

	t.Run("NodeSummary", func(t *testing.T) {
		sess, ctx := start(t)
		n, err := sess.NodeSummary(ctx, SampleTarget)
		if err != nil {
			t.Fatalf("NodeSummary: %v", err)
		}
		if n.ID != SampleTarget || n.Summary == "" {
			t.Errorf("NodeSummary = %+v", n)
		}
	})

	t.Run("NodeFullText", func(t *testing.T) {
		sess, ctx := start(t)
		text, err := sess.NodeFullText(ctx, SampleError)
		if err != nil {
			t.Fatalf("NodeFullText: %v", err)
		}
		if !strings.Contains(text, "Program.cs(12,31)") {
			t.Errorf("NodeFullText = %q", text)
		}
	})

	t.Run("Search", func(t *testing.T) {
		sess, ctx := start(t)
		results, err := sess.Search(ctx, "cs0168")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 1 || results[0].NodeID != SampleWarning {
			t.Fatalf("Search = %+v", results)
		}
		want := []buildlog.NodeID{SampleRoot, SampleProject, SampleTarget}
		if got := results[0].Ancestors; len(got) != len(want) || got[0] != want[0] || got[2] != want[2] {
			t.Errorf("Ancestors = %v, want %v", got, want)
		}
	})

	t.Run("SearchQueryWithNewline", func(t *testing.T) {
		sess, ctx := start(t)
		if _, err := sess.Search(ctx, "first line\nsecond line"); err != nil {
			t.Fatalf("Search: %v", err)
		}
		// The session must still be in sync after a multi-line query.
		if _, err := sess.Root(ctx); err != nil {
			t.Fatalf("Root after multi-line search: %v", err)
		}
	})

	t.Run("ConcurrentRequests", func(t *testing.T) {
		sess, ctx := start(t)
		var wg sync.WaitGroup
		for i := range 20 {
			id := buildlog.NodeID(i % 5)
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := sess.Node(ctx, id)
				if err != nil {
					t.Errorf("Node(%d): %v", id, err)
					return
				}
				if n.ID != id {
					t.Errorf("Node(%d) answered with node %d", id, n.ID)
				}
			}()
		}
		wg.Wait()
	})

	t.Run("Shutdown", func(t *testing.T) {
		sess, ctx := start(t)
		if err := sess.Shutdown(); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		if sess.IsLive() {
			t.Error("session still live after Shutdown")
		}
		select {
		case <-sess.Done():
		case <-ctx.Done():
			t.Fatal("engine did not exit after Shutdown")
		}
		if sess.State() != buildlog.StateExitSuccess {
			t.Errorf("State = %s, want %s", sess.State(), buildlog.StateExitSuccess)
		}
		if err := sess.Err(); err != nil {
			t.Errorf("Err = %v, want nil", err)
		}
		if _, err := sess.Root(ctx); !errors.Is(err, buildlog.ErrSessionDisposed) {
			t.Errorf("Root after exit: err = %v, want ErrSessionDisposed", err)
		}
	})

	t.Run("Dispose", func(t *testing.T) {
		sess, ctx := start(t)
		if err := sess.Dispose(ctx); err != nil {
			t.Fatalf("Dispose: %v", err)
		}
		if err := sess.Dispose(ctx); err != nil {
			t.Fatalf("second Dispose: %v", err)
		}
		if !sess.State().Terminal() {
			t.Errorf("State after Dispose = %s", sess.State())
		}
		if !errors.Is(sess.Err(), buildlog.ErrSessionDisposed) {
			t.Errorf("Err = %v, want ErrSessionDisposed", sess.Err())
		}
		if _, err := sess.Node(ctx, SampleRoot); !errors.Is(err, buildlog.ErrSessionDisposed) {
			t.Errorf("Node after Dispose: err = %v, want ErrSessionDisposed", err)
		}
	})
}
