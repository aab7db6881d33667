package main

import (
	"github.com/spf13/cobra"

	"github.com/loopwire/podcore/cmd/podlog/commands"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "podlog",
		Short:         "Pod protocol log analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	commands.AddCommands(cmd)
	return cmd
}
