package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/loopwire/podcore/cmd/podctl/interactive"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the doses reported to the history store",
		Long: `Print every settled dose the engine reported, oldest first.

Only the bolt store keeps dose history.

Example:
  podctl history --store ./podcore.db --format json`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			doses, err := store.History()
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), rootOpts.Format, doses, func(w io.Writer) {
				interactive.FormatLedger(w, doses)
			})
		},
	}
}
