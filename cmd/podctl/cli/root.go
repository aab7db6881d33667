// Package cli implements the podctl commands.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	StorePath  string
	Verbose    bool
	Format     string // "text" | "json" | "yaml"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for podctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "podctl",
		Short: "Pod command engine",
		Long:  "Drive a pod through the command engine: pairing, dosing, status reconciliation and recovery.",

		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.StorePath, "store", "", "override the store path from the config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewLogCommand())

	return cmd
}

// loadConfig loads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (Config, error) {
	cfg, err := LoadConfig(o.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if o.StorePath != "" {
		cfg.Store.Path = o.StorePath
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
