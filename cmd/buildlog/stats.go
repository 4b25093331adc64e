package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmora/buildlog"
	"github.com/dmora/buildlog/engine/native"
)

func statsCmd(a *app) *cobra.Command {
	var (
		samples  int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats <log>",
		Short: "Print resource usage of the engine while it holds the log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), args[0], func(ctx context.Context, sess buildlog.Session) error {
				// Load the tree so the numbers reflect a working engine.
				if _, err := sess.Root(ctx); err != nil {
					return err
				}
				r := a.renderer()
				for i := 0; i < samples; i++ {
					if i > 0 {
						select {
						case <-time.After(interval):
						case <-ctx.Done():
							return ctx.Err()
						}
					}
					s, err := native.Stats(ctx, sess)
					if err != nil {
						return err
					}
					if err := r.stats(s); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&samples, "samples", "n", 1, "number of samples")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "time between samples")
	return cmd
}
