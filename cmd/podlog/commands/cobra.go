package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// AddCommands registers the view, export, filter and stats subcommands on parent.
func AddCommands(parent *cobra.Command) {
	parent.AddCommand(NewViewCommand())
	parent.AddCommand(NewExportCommand())
	parent.AddCommand(NewFilterCommand())
	parent.AddCommand(NewStatsCommand())
}

// NewViewCommand creates the view subcommand.
func NewViewCommand() *cobra.Command {
	var layer, direction, category, kind string
	var sequence uint32

	cmd := &cobra.Command{
		Use:   "view [flags] <file.plog>",
		Short: "View log file in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter ViewFilter

			if layer != "" {
				l, err := ParseLayerFlag(layer)
				if err != nil {
					return err
				}
				filter.Layer = &l
			}
			if direction != "" {
				d, err := ParseDirectionFlag(direction)
				if err != nil {
					return err
				}
				filter.Direction = &d
			}
			if category != "" {
				c, err := ParseCategoryFlag(category)
				if err != nil {
					return err
				}
				filter.Category = &c
			}
			if kind != "" {
				k, err := ParseKindFlag(kind)
				if err != nil {
					return err
				}
				filter.Kind = k
			}
			filter.Sequence = sequence

			return RunView(args[0], filter, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&layer, "layer", "", "filter by layer (link, engine, ledger)")
	cmd.Flags().StringVar(&direction, "direction", "", "filter by direction (in, out, local)")
	cmd.Flags().StringVar(&category, "category", "", "filter by category (command, status, state, dose, error)")
	cmd.Flags().StringVar(&kind, "kind", "", "filter commands by kind (bolus, suspend, ...)")
	cmd.Flags().Uint32Var(&sequence, "sequence", 0, "filter commands and doses by program sequence")

	return cmd
}

// NewExportCommand creates the export subcommand.
func NewExportCommand() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export [flags] <file.plog>",
		Short: "Export log file to JSONL or CSV format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunExport(args[0], format, output)
		},
	}

	cmd.Flags().StringVar(&format, "format", "jsonl", "output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")

	return cmd
}

// NewFilterCommand creates the filter subcommand.
func NewFilterCommand() *cobra.Command {
	var opts FilterOptions
	var podID string

	cmd := &cobra.Command{
		Use:   "filter [flags] <file.plog>",
		Short: "Filter log file and write to new file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if podID != "" {
				id, err := strconv.ParseUint(podID, 16, 32)
				if err != nil {
					return fmt.Errorf("invalid pod ID %q: %w", podID, err)
				}
				opts.PodID = uint32(id)
			}
			n, err := RunFilter(args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Filtered %d events to %s\n", n, opts.Output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (required)")
	cmd.Flags().StringVar(&opts.SessionID, "session-id", "", "filter by session ID")
	cmd.Flags().StringVar(&podID, "pod-id", "", "filter by pod ID (hex)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter commands by kind")
	cmd.Flags().Uint32Var(&opts.Sequence, "sequence", 0, "filter commands and doses by program sequence")
	cmd.Flags().StringVar(&opts.TimeStart, "time-start", "", "filter events at or after (RFC3339)")
	cmd.Flags().StringVar(&opts.TimeEnd, "time-end", "", "filter events before (RFC3339)")
	cmd.Flags().StringVar(&opts.Layer, "layer", "", "filter by layer (link, engine, ledger)")
	cmd.Flags().StringVar(&opts.Direction, "direction", "", "filter by direction (in, out, local)")
	cmd.Flags().StringVar(&opts.Category, "category", "", "filter by category (command, status, state, dose, error)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

// NewStatsCommand creates the stats subcommand.
func NewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file.plog>",
		Short: "Show statistics about the log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunStats(args[0], cmd.OutOrStdout())
		},
	}
}
