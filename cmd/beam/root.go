package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/beam-me/core/internal/server/bootstrap"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "beam",
		Short: "Multi-agent engineering orchestrator",
		Long: `beam plans an engineering objective into a task graph, runs it across
discipline cores and lets those cores negotiate over budgeted channels.

  beam serve                                    # HTTP API on server.addr
  beam run "Design a quadcopter propulsion system"
  beam run -i "Compute the drag force" --input velocity=12
  beam token task --task-id t-1 --cores engineering-propulsion-v1 --allow-direct`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default ./beam.yaml or $HOME/.beam/beam.yaml)")

	root.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.RunServer(opts.configPath)
		},
	}
}
