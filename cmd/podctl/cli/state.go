package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/loopwire/podcore/cmd/podctl/interactive"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/persistence"
	"github.com/loopwire/podcore/pkg/pumpstate"
	"github.com/loopwire/podcore/pkg/recovery"
)

// errNoState is returned when the store holds no document.
var errNoState = errors.New("no persisted state")

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the persisted pump state",
		Long: `Print the pump state document without starting the engine.

Example:
  podctl state --store ./podcore.db
  podctl state --format yaml`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), cfg, rootOpts.Format)
		},
	}
}

func printState(w io.Writer, cfg Config, format string) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	data, err := store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if data == nil {
		return errNoState
	}
	doc, err := persistence.Decode(data)
	if err != nil {
		return err
	}

	alloc, err := ids.NewAllocator(cfg.Service.ControllerID)
	if err != nil {
		return err
	}
	st := pumpstate.FromDocument(doc, alloc)

	return writeOutput(w, format, doc, func(w io.Writer) {
		fmt.Fprintf(w, "Saved %s (version %d)\n\n", doc.SavedAt.Format(time.RFC3339), doc.Version)
		interactive.FormatState(w, st, storedRecoveryState(st), time.Now())
	})
}

// storedRecoveryState derives the recovery state a service would resume
// with.
func storedRecoveryState(st *pumpstate.State) recovery.State {
	switch {
	case st.IsAbandoned():
		return recovery.StateAbandoned
	case st.Pending.HasPending():
		return recovery.StateUncertain
	default:
		return recovery.StateIdle
	}
}
