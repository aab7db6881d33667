package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopwire/podcore/pkg/command"
)

func writeTestLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filter.plog")
	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	l.Log(Event{Timestamp: base, SessionID: "a", PodID: 1, Direction: DirectionOut, Layer: LayerLink, Category: CategoryCommand,
		Command: &CommandEvent{Sequence: 1, Kind: command.KindBolus}})
	l.Log(Event{Timestamp: base.Add(time.Second), SessionID: "a", PodID: 1, Direction: DirectionIn, Layer: LayerLink, Category: CategoryStatus,
		Status: &StatusEvent{LastProgramSequence: 1}})
	l.Log(Event{Timestamp: base.Add(2 * time.Second), SessionID: "a", PodID: 1, Direction: DirectionLocal, Layer: LayerLedger, Category: CategoryDose,
		Dose: &DoseEvent{Sequence: 1, Kind: "bolus", Action: DoseFinalized}})
	l.Log(Event{Timestamp: base.Add(3 * time.Second), SessionID: "b", PodID: 2, Direction: DirectionOut, Layer: LayerLink, Category: CategoryCommand,
		Command: &CommandEvent{Sequence: 2, Kind: command.KindSuspend}})
	return path
}

func readFiltered(t *testing.T, path string, f Filter) []Event {
	t.Helper()
	r, err := NewFilteredReader(path, f)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var out []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, e)
	}
}

func TestReaderFilters(t *testing.T) {
	path := writeTestLog(t)
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	out := DirectionOut
	ledger := LayerLedger
	status := CategoryStatus
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"All", Filter{}, 4},
		{"Session", Filter{SessionID: "b"}, 1},
		{"Direction", Filter{Direction: &out}, 2},
		{"Layer", Filter{Layer: &ledger}, 1},
		{"Category", Filter{Category: &status}, 1},
		{"Pod", Filter{PodID: 1}, 3},
		{"Kind", Filter{Kind: command.KindSuspend}, 1},
		{"Sequence", Filter{Sequence: 1}, 2},
		{"TimeWindow", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"Combined", Filter{SessionID: "a", Direction: &out}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(readFiltered(t, path, tt.filter)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.plog")); err == nil {
		t.Error("NewReader() on missing file should fail")
	}
}
