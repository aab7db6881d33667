package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/loopwire/podcore/pkg/log"
)

var csvHeader = []string{
	"timestamp", "session_id", "direction", "layer", "category",
	"controller_id", "pod_id", "type", "sequence", "outcome",
}

// RunExport converts the log at path to jsonl or csv. An empty output
// writes to stdout.
func RunExport(path, format, output string) error {
	var export func(path string, w io.Writer) error
	switch format {
	case "jsonl":
		export = exportJSONL
	case "csv":
		export = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	if output == "" {
		return export(path, os.Stdout)
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create %s: %w", output, err)
	}
	if err := export(path, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exportJSONL(path string, w io.Writer) error {
	enc := json.NewEncoder(w)
	return eachEvent(path, log.Filter{}, func(event log.Event) error {
		return enc.Encode(event)
	})
}

func exportCSV(path string, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	err := eachEvent(path, log.Filter{}, func(event log.Event) error {
		return cw.Write(csvRow(event))
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// csvRow flattens event into the csvHeader columns.
func csvRow(event log.Event) []string {
	typ, seq, outcome := "unknown", uint32(0), ""
	switch {
	case event.Command != nil:
		typ, seq, outcome = string(event.Command.Kind), event.Command.Sequence, event.Command.Outcome
	case event.Status != nil:
		typ, seq = "status", event.Status.LastProgramSequence
	case event.StateChange != nil:
		typ, outcome = "state", event.StateChange.NewState
	case event.Dose != nil:
		typ, seq, outcome = "dose", event.Dose.Sequence, event.Dose.Action.String()
	case event.Error != nil:
		typ = "error"
	}

	return []string{
		event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		event.SessionID,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		formatID(event.ControllerID),
		formatID(event.PodID),
		typ,
		formatSequence(seq, event.Command != nil || event.Status != nil),
		outcome,
	}
}

// formatSequence renders seq, leaving zero blank unless always is set.
func formatSequence(seq uint32, always bool) string {
	if seq == 0 && !always {
		return ""
	}
	return strconv.FormatUint(uint64(seq), 10)
}

func formatID(id uint32) string {
	if id == 0 {
		return ""
	}
	return fmt.Sprintf("%08X", id)
}
