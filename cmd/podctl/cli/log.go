package cli

import (
	"github.com/spf13/cobra"

	"github.com/loopwire/podcore/cmd/podlog/commands"
)

// NewLogCommand creates the log command group for reading protocol capture files.
func NewLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect protocol log files",
	}
	commands.AddCommands(cmd)
	return cmd
}
