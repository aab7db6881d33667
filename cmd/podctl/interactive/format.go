package interactive

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/pumpstate"
	"github.com/loopwire/podcore/pkg/recovery"
)

// FormatState writes a summary of the pump state.
func FormatState(w io.Writer, st *pumpstate.State, rs recovery.State, now time.Time) {
	fmt.Fprintln(w, "Pump State:")
	fmt.Fprintf(w, "  Identity:  %s\n", st.Identity.String())

	switch {
	case st.Pod == nil:
		fmt.Fprintln(w, "  Pod:       none")
	default:
		state := "inactive"
		if st.Pod.Active {
			state = "active"
		}
		if st.Pod.Suspended {
			state += ", suspended"
		}
		if st.Pod.Fault != nil {
			state += fmt.Sprintf(", fault 0x%02X", st.Pod.Fault.Code)
		}
		fmt.Fprintf(w, "  Pod:       %08X (%s)\n", st.Pod.Address, state)
		if level, ok := st.ReservoirLevel(); ok {
			fmt.Fprintf(w, "  Reservoir: %.2fU\n", level)
		}
		if !st.Pod.LastStatusAt.IsZero() {
			fmt.Fprintf(w, "  Status:    %s ago\n", now.Sub(st.Pod.LastStatusAt).Round(time.Second))
		}
	}

	if p := st.Pending.Pending(); p != nil {
		fmt.Fprintf(w, "  Pending:   %s\n", p.String())
	}
	fmt.Fprintf(w, "  Recovery:  %s\n", rs.String())
	if st.IsAbandoned() {
		fmt.Fprintln(w, "  Abandoned: pair a new pod")
	}

	var lanes []string
	for _, lane := range command.Lanes {
		lanes = append(lanes, fmt.Sprintf("%s=%s", lane.String(), st.Lanes.State(lane).String()))
	}
	fmt.Fprintf(w, "  Lanes:     %s\n", strings.Join(lanes, " "))

	if active := st.Alerts.Active(); len(active) > 0 {
		fmt.Fprintf(w, "  Alerts:    %s\n", joinCodes(active))
	}
	if pending := st.Alerts.PendingAcknowledgment(); len(pending) > 0 {
		fmt.Fprintf(w, "  To ack:    %s\n", joinCodes(pending))
	}

	if len(st.BasalSchedule.Entries) > 0 {
		fmt.Fprintf(w, "  Basal:     %.2fU/h now\n", st.ScheduledBasalRate(now))
	}
	fmt.Fprintf(w, "  Ledger:    %d entries (%d open)\n", st.Ledger.Len(), len(st.Ledger.Open()))
}

// FormatLedger writes one line per ledger entry.
func FormatLedger(w io.Writer, entries []dose.UnfinalizedDose) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Ledger is empty")
		return
	}
	fmt.Fprintln(w, "Dose Ledger:")
	for _, d := range entries {
		flags := ""
		if d.Estimated {
			flags += " estimated"
		}
		if d.Reported {
			flags += " reported"
		}
		fmt.Fprintf(w, "  %s %s", d.ProgrammedAt.Format(time.TimeOnly), d.String())
		if d.Status != dose.StatusOpen {
			fmt.Fprintf(w, " delivered=%.3fU", d.Delivered)
		}
		fmt.Fprintf(w, "%s\n", flags)
	}
}

func joinCodes[T ~string](codes []T) string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return strings.Join(out, ", ")
}
