package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmora/buildlog"
	"github.com/dmora/buildlog/engine/ipc"
)

// Engine is a buildlog.Engine whose sessions run against in-memory
// processes serving Tree.
type Engine struct {
	tree *Tree
	opts []ipc.Option

	mu    sync.Mutex
	procs []*Process
}

var _ buildlog.Engine = (*Engine)(nil)

// NewEngine returns an engine answering from tree. opts apply to every
// session it starts.
func NewEngine(tree *Tree, opts ...ipc.Option) *Engine {
	return &Engine{tree: tree, opts: opts}
}

// Validate reports ErrUnavailable if the engine has no tree.
func (e *Engine) Validate() error {
	if e.tree == nil {
		return fmt.Errorf("%w: enginetest: no tree", buildlog.ErrUnavailable)
	}
	return nil
}

// Start launches a fake engine process for doc.
func (e *Engine) Start(ctx context.Context, doc buildlog.Document, opts ...buildlog.Option) (buildlog.Session, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	so, err := buildlog.ResolveDocumentOptions(buildlog.ResolveOptions(opts...), doc)
	if err != nil {
		return nil, fmt.Errorf("enginetest: %w", err)
	}

	e.mu.Lock()
	p := NewProcess(1000 + len(e.procs))
	e.procs = append(e.procs, p)
	e.mu.Unlock()
	ServeProcess(p, e.tree)

	sessOpts := append([]ipc.Option{
		ipc.WithID(doc.ID),
		ipc.WithRequestTimeout(so.RequestTimeout),
		ipc.WithTraceWire(so.TraceWire),
	}, e.opts...)
	sess := ipc.New(p, sessOpts...)

	if so.ReadyTimeout > 0 {
		readyCtx, cancel := context.WithTimeout(ctx, so.ReadyTimeout)
		defer cancel()
		if err := buildlog.WaitReady(readyCtx, sess); err != nil {
			_ = sess.Dispose(context.Background())
			return nil, err
		}
	}
	return sess, nil
}

// Processes returns every process started so far, oldest first.
func (e *Engine) Processes() []*Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Process(nil), e.procs...)
}
