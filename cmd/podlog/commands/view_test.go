package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/log"
)

func TestFormatCommandEvent(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	elapsed := 250 * time.Millisecond
	event := log.Event{
		Timestamp:    ts,
		SessionID:    "abc12345-6789-0123-4567-890abcdef012",
		Direction:    log.DirectionIn,
		Layer:        log.LayerEngine,
		Category:     log.CategoryCommand,
		ControllerID: 0x00C0FFEE,
		PodID:        0x1F0E89F0,
		Command: &log.CommandEvent{
			Sequence: 4,
			Kind:     command.KindBolus,
			Phase:    log.PhaseOutcome,
			Outcome:  "ack",
			Elapsed:  &elapsed,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{
		"2026-01-28T10:15:32.123456Z",
		"[session:abc12345]",
		"IN",
		"ENGINE",
		"Command bolus",
		"Pair: 00C0FFEE/1F0E89F0",
		"Sequence: 4  Phase: OUTCOME",
		"Outcome: ack",
		"Duration: 250ms",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestFormatStatusEvent(t *testing.T) {
	reservoir := 42.5
	code := uint8(0x1C)
	event := log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerLink,
		Category:  log.CategoryStatus,
		Status: &log.StatusEvent{
			LastProgramSequence: 9,
			Suspended:           true,
			Reservoir:           &reservoir,
			Alerts:              []string{"lowReservoir"},
			FaultCode:           &code,
			Trigger:             "recovery",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{"Status", "LastSequence: 9  Suspended", "Trigger: recovery", "Reservoir: 42.50U", "Alerts: lowReservoir", "Fault: 0x1C"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestFormatDoseEvent(t *testing.T) {
	event := log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionLocal,
		Layer:     log.LayerLedger,
		Category:  log.CategoryDose,
		Dose: &log.DoseEvent{
			DoseID:    "0f1e2d3c-aaaa-bbbb-cccc-000000000000",
			Kind:      "bolus",
			Sequence:  2,
			Action:    log.DoseEstimated,
			Units:     2,
			Delivered: 2,
			Estimated: true,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{"LOCAL", "LEDGER", "Dose ESTIMATED", "Dose: 0f1e2d3c bolus seq=2", "Units: 2.000", "Estimated"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestFormatStateChangeEvent(t *testing.T) {
	event := log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerEngine,
		Category:  log.CategoryState,
		Direction: log.DirectionLocal,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityRecovery,
			OldState: "UNCERTAIN",
			NewState: "RESOLVED",
			Reason:   "status",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "Entity: RECOVERY") {
		t.Errorf("expected entity, got: %s", output)
	}
	if !strings.Contains(output, "UNCERTAIN -> RESOLVED") {
		t.Errorf("expected transition, got: %s", output)
	}
	if !strings.Contains(output, "Reason: status") {
		t.Errorf("expected reason, got: %s", output)
	}
}

func TestFormatErrorEvent(t *testing.T) {
	code := 3
	event := log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerLedger,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerLedger,
			Message: "history sink unavailable",
			Code:    &code,
			Context: "report doses",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{"Error", "Message: history sink unavailable", "Code: 3", "Context: report doses"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Nanosecond, "500ns"},
		{1500 * time.Microsecond, "1.5ms"},
		{1234567 * time.Microsecond, "1.2346s"},
		{2500 * time.Millisecond, "2.5s"},
	}
	for _, tc := range tests {
		if got := formatDuration(tc.d); got != tc.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Run("layer", func(t *testing.T) {
		for in, want := range map[string]log.Layer{"link": log.LayerLink, "ENGINE": log.LayerEngine, "Ledger": log.LayerLedger} {
			got, err := ParseLayerFlag(in)
			if err != nil || got != want {
				t.Errorf("ParseLayerFlag(%q) = %v, %v", in, got, err)
			}
		}
		if _, err := ParseLayerFlag("wire"); err == nil {
			t.Error("expected error for unknown layer")
		}
	})

	t.Run("direction", func(t *testing.T) {
		for in, want := range map[string]log.Direction{"in": log.DirectionIn, "OUT": log.DirectionOut, "local": log.DirectionLocal} {
			got, err := ParseDirectionFlag(in)
			if err != nil || got != want {
				t.Errorf("ParseDirectionFlag(%q) = %v, %v", in, got, err)
			}
		}
		if _, err := ParseDirectionFlag("sideways"); err == nil {
			t.Error("expected error for unknown direction")
		}
	})

	t.Run("category", func(t *testing.T) {
		for in, want := range map[string]log.Category{
			"command": log.CategoryCommand,
			"status":  log.CategoryStatus,
			"state":   log.CategoryState,
			"dose":    log.CategoryDose,
			"error":   log.CategoryError,
		} {
			got, err := ParseCategoryFlag(in)
			if err != nil || got != want {
				t.Errorf("ParseCategoryFlag(%q) = %v, %v", in, got, err)
			}
		}
		if _, err := ParseCategoryFlag("message"); err == nil {
			t.Error("expected error for unknown category")
		}
	})

	t.Run("kind", func(t *testing.T) {
		if k, err := ParseKindFlag("programTempBasal"); err != nil || k != command.KindProgramTempBasal {
			t.Errorf("ParseKindFlag = %v, %v", k, err)
		}
		if _, err := ParseKindFlag("prime"); err == nil {
			t.Error("expected error for unknown kind")
		}
	})
}

func TestRunViewFilters(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	link := log.LayerLink
	events := []log.Event{
		{Timestamp: ts, Layer: log.LayerEngine, Category: log.CategoryCommand, Command: &log.CommandEvent{Sequence: 1, Kind: command.KindBolus}},
		{Timestamp: ts, Layer: log.LayerLink, Category: log.CategoryStatus, Status: &log.StatusEvent{LastProgramSequence: 1}},
		{Timestamp: ts, Layer: log.LayerEngine, Category: log.CategoryCommand, Command: &log.CommandEvent{Sequence: 2, Kind: command.KindSuspend}},
	}
	path := createTestLogFile(t, events)

	t.Run("layer", func(t *testing.T) {
		var buf bytes.Buffer
		if err := RunView(path, ViewFilter{Layer: &link}, &buf); err != nil {
			t.Fatalf("RunView failed: %v", err)
		}
		if strings.Count(buf.String(), "LINK") != 1 || strings.Contains(buf.String(), "Command") {
			t.Errorf("expected only the status event, got:\n%s", buf.String())
		}
	})

	t.Run("kind", func(t *testing.T) {
		var buf bytes.Buffer
		if err := RunView(path, ViewFilter{Kind: command.KindSuspend}, &buf); err != nil {
			t.Fatalf("RunView failed: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, "Command suspend") || strings.Contains(output, "Command bolus") {
			t.Errorf("expected only the suspend command, got:\n%s", output)
		}
	})

	t.Run("sequence", func(t *testing.T) {
		var buf bytes.Buffer
		if err := RunView(path, ViewFilter{Sequence: 1}, &buf); err != nil {
			t.Fatalf("RunView failed: %v", err)
		}
		if strings.Count(buf.String(), "Command") != 1 {
			t.Errorf("expected one command for sequence 1, got:\n%s", buf.String())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if err := RunView(path+".missing", ViewFilter{}, &bytes.Buffer{}); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
