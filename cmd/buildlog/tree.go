package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmora/buildlog"
)

// maxInFlight bounds concurrent requests while walking the tree.
const maxInFlight = 16

// treeNode is a node with its expanded children.
type treeNode struct {
	Node buildlog.Node `json:"node"`
	Kids []*treeNode   `json:"children,omitempty"`

	// More counts children left unexpanded at the depth limit.
	More int `json:"more,omitempty"`
}

func treeCmd(a *app) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "tree <log>",
		Short: "Print the log tree down to --depth levels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), args[0], func(ctx context.Context, sess buildlog.Session) error {
				root, err := sess.Root(ctx)
				if err != nil {
					return err
				}
				t, err := walkTree(ctx, sess, root, depth)
				if err != nil {
					return err
				}
				return a.renderer().tree(t)
			})
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 2, "levels below the root to expand")
	return cmd
}

// walkTree expands n down to depth levels. Each level's nodes are fetched
// concurrently; the first request error cancels the rest of the walk.
func walkTree(ctx context.Context, sess buildlog.Session, n buildlog.Node, depth int) (*treeNode, error) {
	root := &treeNode{Node: n}
	level := []*treeNode{root}
	for ; depth > 0 && len(level) > 0; depth-- {
		var next []*treeNode
		for _, t := range level {
			t.Kids = make([]*treeNode, len(t.Node.Children))
			for i, id := range t.Node.Children {
				t.Kids[i] = &treeNode{Node: buildlog.Node{ID: id}}
			}
			next = append(next, t.Kids...)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxInFlight)
		for _, t := range next {
			g.Go(func() error {
				child, err := sess.Node(gctx, t.Node.ID)
				if err != nil {
					return err
				}
				t.Node = child
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		level = next
	}
	for _, t := range level {
		t.More = len(t.Node.Children)
	}
	return root, nil
}
