// Package commands implements the podlog CLI commands.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Kind      command.Kind
	Sequence  uint32
}

func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
		Kind:      f.Kind,
		Sequence:  f.Sequence,
	}
}

// formatEvent writes event as a header line, its details and a blank line.
func formatEvent(w io.Writer, event log.Event) {
	fmt.Fprintf(w, "%s [session:%s] %-5s %-6s %s\n",
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		shortenSessionID(event.SessionID),
		event.Direction.String(), event.Layer.String(), typeLabel(event))
	if event.PodID != 0 {
		fmt.Fprintf(w, "  Pair: %08X/%08X\n", event.ControllerID, event.PodID)
	}

	switch {
	case event.Command != nil:
		formatCommandDetails(w, event.Command)
	case event.Status != nil:
		formatStatusDetails(w, event.Status)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Dose != nil:
		formatDoseDetails(w, event.Dose)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// typeLabel names the payload carried by the event.
func typeLabel(event log.Event) string {
	switch {
	case event.Command != nil:
		return "Command " + string(event.Command.Kind)
	case event.Status != nil:
		return "Status"
	case event.StateChange != nil:
		return "State"
	case event.Dose != nil:
		return "Dose " + event.Dose.Action.String()
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatCommandDetails(w io.Writer, cmd *log.CommandEvent) {
	fmt.Fprintf(w, "  Sequence: %d  Phase: %s\n", cmd.Sequence, cmd.Phase.String())
	if cmd.CommandID != "" {
		fmt.Fprintf(w, "  ID: %s\n", cmd.CommandID)
	}
	if cmd.Outcome != "" {
		fmt.Fprintf(w, "  Outcome: %s\n", cmd.Outcome)
	}
	if cmd.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", cmd.Reason)
	}
	if cmd.Elapsed != nil {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*cmd.Elapsed))
	}
	if cmd.Payload != nil {
		payloadJSON, err := json.Marshal(cmd.Payload)
		if err == nil {
			fmt.Fprintf(w, "  Payload: %s\n", string(payloadJSON))
		}
	}
}

func formatStatusDetails(w io.Writer, st *log.StatusEvent) {
	fmt.Fprintf(w, "  LastSequence: %d", st.LastProgramSequence)
	if st.Suspended {
		fmt.Fprint(w, "  Suspended")
	}
	fmt.Fprintln(w)
	if st.Trigger != "" {
		fmt.Fprintf(w, "  Trigger: %s\n", st.Trigger)
	}
	if st.Reservoir != nil {
		fmt.Fprintf(w, "  Reservoir: %.2fU\n", *st.Reservoir)
	}
	if len(st.Alerts) > 0 {
		fmt.Fprintf(w, "  Alerts: %s\n", strings.Join(st.Alerts, ", "))
	}
	if st.FaultCode != nil {
		fmt.Fprintf(w, "  Fault: 0x%02X\n", *st.FaultCode)
	}
	if st.HistoryRecords > 0 {
		fmt.Fprintf(w, "  History: %d records\n", st.HistoryRecords)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	from := sc.OldState
	if from == "" {
		from = "-"
	}
	fmt.Fprintf(w, "  Entity: %s  %s -> %s\n", sc.Entity.String(), from, sc.NewState)
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatDoseDetails(w io.Writer, d *log.DoseEvent) {
	fmt.Fprintf(w, "  Dose: %s %s", shortenSessionID(d.DoseID), d.Kind)
	if d.Sequence != 0 {
		fmt.Fprintf(w, " seq=%d", d.Sequence)
	}
	fmt.Fprintln(w)
	if d.Units != 0 {
		fmt.Fprintf(w, "  Units: %.3f\n", d.Units)
	}
	if d.Rate != 0 {
		fmt.Fprintf(w, "  Rate: %.3fU/h\n", d.Rate)
	}
	if d.Delivered != 0 {
		fmt.Fprintf(w, "  Delivered: %.3f\n", d.Delivered)
	}
	if d.Estimated {
		fmt.Fprintln(w, "  Estimated")
	}
}

func formatErrorDetails(w io.Writer, e *log.ErrorEventData) {
	fmt.Fprintf(w, "  Message: %s (layer %s)\n", e.Message, e.Layer.String())
	if e.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *e.Code)
	}
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}

// formatDuration keeps sub-millisecond values exact and rounds the rest to
// a tenth of a millisecond.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	return d.Round(100 * time.Microsecond).String()
}

var (
	layerNames = map[string]log.Layer{
		"link":   log.LayerLink,
		"engine": log.LayerEngine,
		"ledger": log.LayerLedger,
	}
	directionNames = map[string]log.Direction{
		"in":    log.DirectionIn,
		"out":   log.DirectionOut,
		"local": log.DirectionLocal,
	}
	categoryNames = map[string]log.Category{
		"command": log.CategoryCommand,
		"status":  log.CategoryStatus,
		"state":   log.CategoryState,
		"dose":    log.CategoryDose,
		"error":   log.CategoryError,
	}
)

// lookupFlag resolves a case-insensitive flag value against names.
func lookupFlag[T any](what, s string, names map[string]T) (T, error) {
	if v, ok := names[strings.ToLower(s)]; ok {
		return v, nil
	}
	valid := make([]string, 0, len(names))
	for name := range names {
		valid = append(valid, name)
	}
	slices.Sort(valid)
	var zero T
	return zero, fmt.Errorf("invalid %s: %s (one of %s)", what, s, strings.Join(valid, ", "))
}

// ParseLayerFlag parses a --layer value.
func ParseLayerFlag(s string) (log.Layer, error) {
	return lookupFlag("layer", s, layerNames)
}

// ParseDirectionFlag parses a --direction value.
func ParseDirectionFlag(s string) (log.Direction, error) {
	return lookupFlag("direction", s, directionNames)
}

// ParseCategoryFlag parses a --category value.
func ParseCategoryFlag(s string) (log.Category, error) {
	return lookupFlag("category", s, categoryNames)
}

// ParseKindFlag parses a command kind.
func ParseKindFlag(s string) (command.Kind, error) {
	k := command.Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("invalid command kind: %s", s)
	}
	return k, nil
}

// RunView writes every event in path that passes filter to output.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	return eachEvent(path, filter.logFilter(), func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}
