package commands

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/log"
)

// createTestLogFile writes events to a temp log file and returns its path.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.plog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func TestExportToJSONL(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	events := []log.Event{
		{
			Timestamp: ts,
			SessionID: "session-1",
			Direction: log.DirectionOut,
			Layer:     log.LayerEngine,
			Category:  log.CategoryCommand,
			PodID:     0x1F0E89F0,
			Command: &log.CommandEvent{
				Sequence: 3,
				Kind:     command.KindBolus,
				Payload:  &command.Payload{Units: 1.5},
			},
		},
		{
			Timestamp: ts.Add(time.Second),
			SessionID: "session-1",
			Direction: log.DirectionIn,
			Layer:     log.LayerEngine,
			Category:  log.CategoryCommand,
			Command: &log.CommandEvent{
				Sequence: 3,
				Kind:     command.KindBolus,
				Phase:    log.PhaseOutcome,
				Outcome:  "ack",
			},
		},
	}

	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", outPath); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var decoded log.Event
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		if decoded.Command == nil || decoded.Command.Kind != command.KindBolus {
			t.Errorf("line %d: expected bolus command, got %+v", lines+1, decoded.Command)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 lines, got %d", lines)
	}
}

func TestExportToCSV(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []log.Event{
		{
			Timestamp:    ts,
			SessionID:    "session-1",
			Direction:    log.DirectionOut,
			Layer:        log.LayerEngine,
			Category:     log.CategoryCommand,
			ControllerID: 0x00C0FFEE,
			PodID:        0x1F0E89F0,
			Command: &log.CommandEvent{
				Sequence: 7,
				Kind:     command.KindSuspend,
				Phase:    log.PhaseOutcome,
				Outcome:  "timeout",
			},
		},
		{
			Timestamp: ts,
			Layer:     log.LayerLedger,
			Category:  log.CategoryDose,
			Direction: log.DirectionLocal,
			Dose:      &log.DoseEvent{DoseID: "d1", Kind: "bolus", Sequence: 7, Action: log.DoseFinalized},
		},
	}

	path := createTestLogFile(t, events)
	outPath := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", outPath); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}

	cmd := rows[1]
	if cmd[5] != "00C0FFEE" || cmd[6] != "1F0E89F0" {
		t.Errorf("expected pair IDs, got %q/%q", cmd[5], cmd[6])
	}
	if cmd[7] != "suspend" || cmd[8] != "7" || cmd[9] != "timeout" {
		t.Errorf("unexpected command row: %v", cmd)
	}

	doseRow := rows[2]
	if doseRow[7] != "dose" || doseRow[9] != "FINALIZED" {
		t.Errorf("unexpected dose row: %v", doseRow)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, []log.Event{{Timestamp: time.Now()}})
	if err := RunExport(path, "xml", filepath.Join(t.TempDir(), "out")); err == nil {
		t.Error("expected error for unknown format")
	}
}
