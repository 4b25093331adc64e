package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dmora/buildlog"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "buildlog",
		Short:         "Query build logs through a build-log engine",
		Long:          `buildlog starts a build-log engine for a log file and queries its tree of build events.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetOut(a.stdout)
			cmd.SetErr(a.stderr)
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (YAML or JSONC); default $BUILDLOG_CONFIG")
	pf.StringVar(&a.engineBin, "engine", "", "engine executable name or path")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	pf.BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	pf.DurationVar(&a.timeout, "timeout", 0, "per-request timeout (0 waits indefinitely)")

	root.AddCommand(
		rootNodeCmd(a),
		nodeCmd(a),
		childrenCmd(a),
		summaryCmd(a),
		textCmd(a),
		searchCmd(a),
		treeCmd(a),
		watchCmd(a),
		statsCmd(a),
		validateCmd(a),
	)
	return root
}

func parseNodeID(s string) (buildlog.NodeID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid node id %q", s)
	}
	return buildlog.NodeID(id), nil
}

func rootNodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "root <log>",
		Short: "Print the root node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), args[0], func(ctx context.Context, sess buildlog.Session) error {
				n, err := sess.Root(ctx)
				if err != nil {
					return err
				}
				return a.renderer().node(n)
			})
		},
	}
}

// nodeQueryCmd builds a command that fetches one node by id.
func nodeQueryCmd(a *app, use, short string, fetch func(context.Context, buildlog.Session, buildlog.NodeID) (buildlog.Node, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <log> <id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[1])
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), args[0], func(ctx context.Context, sess buildlog.Session) error {
				n, err := fetch(ctx, sess, id)
				if err != nil {
					return err
				}
				return a.renderer().node(n)
			})
		},
	}
}

func nodeCmd(a *app) *cobra.Command {
	return nodeQueryCmd(a, "node", "Print one node", func(ctx context.Context, s buildlog.Session, id buildlog.NodeID) (buildlog.Node, error) {
		return s.Node(ctx, id)
	})
}

func summaryCmd(a *app) *cobra.Command {
	return nodeQueryCmd(a, "summary", "Print one node with its summary computed", func(ctx context.Context, s buildlog.Session, id buildlog.NodeID) (buildlog.Node, error) {
		return s.NodeSummary(ctx, id)
	})
}

func childrenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "children <log> <id> <count>",
		Short: "Print up to count nodes starting at id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[1])
			if err != nil {
				return err
			}
			count, err := strconv.Atoi(args[2])
			if err != nil || count < 0 {
				return fmt.Errorf("invalid count %q", args[2])
			}
			return a.withSession(cmd.Context(), args[0], func(ctx context.Context, sess buildlog.Session) error {
				nodes, err := sess.ManyNodes(ctx, id, count)
				if err != nil {
					return err
				}
				return a.renderer().nodes(nodes)
			})
		},
	}
}

func textCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "text <log> <id>",
		Short: "Print the full text of a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[1])
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), args[0], func(ctx context.Context, sess buildlog.Session) error {
				text, err := sess.NodeFullText(ctx, id)
				if err != nil {
					return err
				}
				return a.renderer().text(id, text)
			})
		},
	}
}

func searchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <log> <query>",
		Short: "Print the nodes matching query with their ancestors",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), args[0], func(ctx context.Context, sess buildlog.Session) error {
				results, err := sess.Search(ctx, args[1])
				if err != nil {
					return err
				}
				return a.renderer().results(results)
			})
		},
	}
}

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and that the engine binary is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.newEngine(a.cfg, a.logger).Validate(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "ok: engine %s\n", a.cfg.Engine.Binary)
			return nil
		},
	}
}
