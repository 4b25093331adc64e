package enginetest

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/dmora/buildlog/wire"
)

// Serve speaks the engine side of the protocol over r and w, answering
// from tree. It announces ready, answers commands until r ends, then
// announces done and returns nil.
func Serve(r io.Reader, w io.Writer, tree *Tree) error {
	send := func(m wire.Message) error {
		data, err := wire.Marshal(m)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	if err := send(wire.ReadyEvent{}); err != nil {
		return fmt.Errorf("enginetest: send ready: %w", err)
	}
	br := bufio.NewReader(r)
	for {
		cmd, err := wire.ReadCommand(br)
		if errors.Is(err, io.EOF) {
			return send(wire.DoneEvent{})
		}
		if err != nil {
			return fmt.Errorf("enginetest: read command: %w", err)
		}
		if err := send(tree.Answer(cmd)); err != nil {
			return fmt.Errorf("enginetest: reply to %s: %w", cmd.Name(), err)
		}
	}
}

// ServeProcess answers p's commands from tree until the session closes
// stdin, then sends done and exits p with code 0. Replies are written from
// a single goroutine in command order.
func ServeProcess(p *Process, tree *Tree) {
	go func() {
		if err := p.Send(wire.ReadyEvent{}); err != nil {
			return
		}
		for cmd := range p.Commands() {
			if err := p.Send(tree.Answer(cmd)); err != nil {
				return
			}
		}
		_ = p.Send(wire.DoneEvent{})
		p.Exit(0, nil)
	}()
}
