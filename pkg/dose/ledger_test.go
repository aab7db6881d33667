package dose

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func bolus(seq uint32, units float64, at time.Time) UnfinalizedDose {
	// 0.025 U/s
	return UnfinalizedDose{
		Kind:         KindBolus,
		Sequence:     seq,
		ProgrammedAt: at,
		Units:        units,
		Duration:     time.Duration(units / 0.025 * float64(time.Second)),
	}
}

func temp(seq uint32, rate float64, d time.Duration, at time.Time) UnfinalizedDose {
	return UnfinalizedDose{Kind: KindTempBasal, Sequence: seq, ProgrammedAt: at, Rate: rate, Duration: d}
}

func mustRecord(t *testing.T, l *Ledger, d UnfinalizedDose) UnfinalizedDose {
	t.Helper()
	got, err := l.Record(d)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	return got
}

func TestRecord(t *testing.T) {
	l := NewLedger()

	d := mustRecord(t, l, bolus(1, 2, t0))
	if d.ID == uuid.Nil {
		t.Error("Record() did not assign an ID")
	}
	if d.Status != StatusOpen {
		t.Errorf("Status = %q, want open", d.Status)
	}

	if _, err := l.Record(bolus(1, 2, t0)); !errors.Is(err, ErrDuplicateDose) {
		t.Errorf("duplicate sequence: error = %v, want ErrDuplicateDose", err)
	}

	invalid := []UnfinalizedDose{
		{Kind: "square", ProgrammedAt: t0},
		{Kind: KindBolus, ProgrammedAt: t0},
		{Kind: KindTempBasal, Rate: -1, ProgrammedAt: t0},
		{Kind: KindBasal, Rate: 1},
	}
	for _, d := range invalid {
		if _, err := l.Record(d); !errors.Is(err, ErrInvalidDose) {
			t.Errorf("Record(%+v) error = %v, want ErrInvalidDose", d, err)
		}
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name      string
		dose      UnfinalizedDose
		snapshot  HistorySnapshot
		status    Status
		delivered float64
		estimated bool
	}{
		{
			name: "ConfirmedBySequence",
			dose: bolus(7, 2, t0),
			snapshot: HistorySnapshot{
				TakenAt: t0.Add(5 * time.Minute),
				Records: []HistoryRecord{{Sequence: 7, Kind: KindBolus, StartedAt: t0, Duration: 80 * time.Second, Delivered: 2, Complete: true}},
			},
			status:    StatusFinalized,
			delivered: 2,
		},
		{
			name: "DeliveredCappedAtProgrammed",
			dose: temp(3, 1.0, 30*time.Minute, t0),
			snapshot: HistorySnapshot{
				TakenAt: t0.Add(time.Hour),
				Records: []HistoryRecord{{Sequence: 3, Kind: KindTempBasal, StartedAt: t0, Duration: 30 * time.Minute, Delivered: 0.9, Complete: true}},
			},
			status:    StatusFinalized,
			delivered: 0.5,
		},
		{
			name: "ShortRateDeliveryStaysOpen",
			dose: temp(11, 1.0, 30*time.Minute, t0),
			snapshot: HistorySnapshot{
				TakenAt: t0.Add(time.Hour),
				Records: []HistoryRecord{{Sequence: 11, Kind: KindTempBasal, StartedAt: t0, Duration: 30 * time.Minute, Delivered: 0.2, Complete: true}},
			},
			status: StatusOpen,
		},
		{
			name: "StoppedBasalMatchesTruncatedWindow",
			dose: UnfinalizedDose{Kind: KindBasal, Sequence: 12, ProgrammedAt: t0, Rate: 1.0, Duration: 15 * time.Minute},
			snapshot: HistorySnapshot{
				TakenAt: t0.Add(time.Hour),
				Records: []HistoryRecord{{Sequence: 12, Kind: KindBasal, StartedAt: t0, Duration: 15 * time.Minute, Delivered: 0.25, Complete: true}},
			},
			status:    StatusFinalized,
			delivered: 0.25,
		},
		{
			name: "Rejected",
			dose: bolus(4, 1, t0),
			snapshot: HistorySnapshot{
				TakenAt: t0.Add(time.Minute),
				Records: []HistoryRecord{{Sequence: 4, Kind: KindBolus, StartedAt: t0, Rejected: true}},
			},
			status: StatusDiscarded,
		},
		{
			name: "KindMismatch",
			dose: bolus(5, 1, t0),
			snapshot: HistorySnapshot{
				TakenAt: t0.Add(time.Minute),
				Records: []HistoryRecord{{Sequence: 5, Kind: KindTempBasal, StartedAt: t0, Complete: true}},
			},
			status: StatusDiscarded,
		},
		{
			name: "MatchedByOverlap",
			dose: bolus(0, 1, t0),
			snapshot: HistorySnapshot{
				TakenAt: t0.Add(5 * time.Minute),
				Records: []HistoryRecord{{Kind: KindBolus, StartedAt: t0.Add(2 * time.Second), Duration: 40 * time.Second, Delivered: 1, Complete: true}},
			},
			status:    StatusFinalized,
			delivered: 1,
		},
		{
			name: "StillRunning",
			dose: temp(6, 2.0, time.Hour, t0),
			snapshot: HistorySnapshot{
				TakenAt: t0.Add(10 * time.Minute),
				Records: []HistoryRecord{{Sequence: 6, Kind: KindTempBasal, StartedAt: t0, Duration: time.Hour, Delivered: 0.3}},
			},
			status: StatusOpen,
		},
		{
			name: "MissingWithinHorizon",
			dose: bolus(8, 1, t0),
			snapshot: HistorySnapshot{
				TakenAt:      t0.Add(10 * time.Minute),
				HorizonStart: t0.Add(-time.Hour),
			},
			status: StatusOpen,
		},
		{
			name: "MissingBeyondHorizon",
			dose: temp(9, 1.2, 30*time.Minute, t0),
			snapshot: HistorySnapshot{
				TakenAt:      t0.Add(3 * time.Hour),
				HorizonStart: t0.Add(time.Hour),
			},
			status:    StatusFinalized,
			delivered: 0.6,
			estimated: true,
		},
		{
			name: "ProgrammedAfterSnapshot",
			dose: bolus(10, 1, t0.Add(time.Hour)),
			snapshot: HistorySnapshot{
				TakenAt:      t0,
				HorizonStart: t0.Add(2 * time.Hour),
			},
			status: StatusOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger()
			mustRecord(t, l, tt.dose)

			l.Reconcile(tt.snapshot)

			got := l.Entries()[0]
			if got.Status != tt.status {
				t.Fatalf("Status = %q, want %q", got.Status, tt.status)
			}
			if math.Abs(got.Delivered-tt.delivered) > 1e-9 {
				t.Errorf("Delivered = %v, want %v", got.Delivered, tt.delivered)
			}
			if got.Estimated != tt.estimated {
				t.Errorf("Estimated = %v, want %v", got.Estimated, tt.estimated)
			}
		})
	}
}

func TestReconcileOverlapDoesNotStealSequencedRecord(t *testing.T) {
	l := NewLedger()
	mustRecord(t, l, bolus(0, 1, t0))
	mustRecord(t, l, bolus(12, 1, t0.Add(time.Second)))

	l.Reconcile(HistorySnapshot{
		TakenAt: t0.Add(5 * time.Minute),
		Records: []HistoryRecord{{Sequence: 12, Kind: KindBolus, StartedAt: t0.Add(time.Second), Duration: 40 * time.Second, Delivered: 1, Complete: true}},
	})

	entries := l.Entries()
	if entries[0].Status != StatusOpen {
		t.Errorf("unsequenced entry Status = %q, want open", entries[0].Status)
	}
	if entries[1].Status != StatusFinalized {
		t.Errorf("sequenced entry Status = %q, want finalized", entries[1].Status)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	l := NewLedger()
	mustRecord(t, l, bolus(1, 2, t0))
	mustRecord(t, l, temp(2, 1, time.Hour, t0.Add(time.Minute)))
	mustRecord(t, l, bolus(3, 1, t0.Add(2*time.Minute)))
	mustRecord(t, l, temp(4, 0.5, 30*time.Minute, t0.Add(-6*time.Hour)))

	snap := HistorySnapshot{
		TakenAt:      t0.Add(20 * time.Minute),
		HorizonStart: t0.Add(-time.Hour),
		Records: []HistoryRecord{
			{Sequence: 1, Kind: KindBolus, StartedAt: t0, Duration: 80 * time.Second, Delivered: 2, Complete: true},
			{Sequence: 2, Kind: KindTempBasal, StartedAt: t0.Add(time.Minute), Duration: time.Hour, Delivered: 0.3},
			{Sequence: 3, Kind: KindBolus, StartedAt: t0.Add(2 * time.Minute), Rejected: true},
		},
	}

	first := l.Reconcile(snap)
	after := l.Entries()
	second := l.Reconcile(snap)

	if first.Count() != 3 {
		t.Errorf("first pass settled %d entries, want 3", first.Count())
	}
	if !second.Empty() {
		t.Errorf("second pass settled %d entries, want 0", second.Count())
	}
	for i, e := range l.Entries() {
		if e != after[i] {
			t.Errorf("entry %d changed on second pass: %+v != %+v", i, e, after[i])
		}
	}
}

func TestReconcileRecordSettlesOneEntry(t *testing.T) {
	l := NewLedger()
	mustRecord(t, l, bolus(0, 2, t0))
	mustRecord(t, l, bolus(0, 2, t0.Add(30*time.Second)))

	snap := HistorySnapshot{
		TakenAt:      t0.Add(10 * time.Minute),
		HorizonStart: t0.Add(-time.Hour),
		Records:      []HistoryRecord{{Kind: KindBolus, StartedAt: t0, Duration: 80 * time.Second, Delivered: 2, Complete: true}},
	}

	for pass := 1; pass <= 3; pass++ {
		l.Reconcile(snap)

		counts := l.Counts()
		if counts[StatusFinalized] != 1 || counts[StatusOpen] != 1 {
			t.Fatalf("pass %d: counts = %v, want 1 finalized and 1 open", pass, counts)
		}
		var total float64
		for _, e := range l.Entries() {
			total += e.Delivered
		}
		if math.Abs(total-2) > 1e-9 {
			t.Fatalf("pass %d: total delivered = %v, want 2", pass, total)
		}
	}

	entries := l.Entries()
	if entries[0].Source.IsZero() || !entries[0].Source.StartedAt.Equal(t0) {
		t.Errorf("Source = %+v, want the record at t0", entries[0].Source)
	}
	if entries[1].Status != StatusOpen {
		t.Errorf("second bolus status = %q, want open", entries[1].Status)
	}
}

func TestTruncate(t *testing.T) {
	t.Run("Bolus", func(t *testing.T) {
		l := NewLedger()
		mustRecord(t, l, bolus(1, 2, t0))

		got, ok := l.Truncate(KindBolus, t0.Add(40*time.Second))
		if !ok {
			t.Fatal("Truncate() found nothing")
		}
		if math.Abs(got.Units-1) > 1e-9 {
			t.Errorf("Units = %v, want 1", got.Units)
		}
		if got.Duration != 40*time.Second {
			t.Errorf("Duration = %v, want 40s", got.Duration)
		}
	})

	t.Run("FinishedBolus", func(t *testing.T) {
		l := NewLedger()
		mustRecord(t, l, bolus(1, 1, t0))
		if _, ok := l.Truncate(KindBolus, t0.Add(time.Hour)); ok {
			t.Error("Truncate() should not touch a finished bolus")
		}
	})

	t.Run("OpenEndedSuspend", func(t *testing.T) {
		l := NewLedger()
		mustRecord(t, l, UnfinalizedDose{Kind: KindSuspend, Sequence: 1, ProgrammedAt: t0})

		got, ok := l.Truncate(KindSuspend, t0.Add(15*time.Minute))
		if !ok || got.Duration != 15*time.Minute || !got.IsOpen() {
			t.Errorf("Truncate() = %+v, %v", got, ok)
		}
	})

	t.Run("StoppedImmediately", func(t *testing.T) {
		l := NewLedger()
		mustRecord(t, l, UnfinalizedDose{Kind: KindBasal, Sequence: 1, ProgrammedAt: t0, Rate: 1})

		got, ok := l.Truncate(KindBasal, t0)
		if !ok || got.Status != StatusFinalized || got.Delivered != 0 {
			t.Errorf("Truncate() = %+v, %v", got, ok)
		}
	})
}

func TestReportOnceAndCompact(t *testing.T) {
	l := NewLedger()
	a := mustRecord(t, l, bolus(1, 1, t0))
	mustRecord(t, l, bolus(2, 1, t0.Add(time.Hour)))

	l.Reconcile(HistorySnapshot{
		TakenAt: t0.Add(10 * time.Minute),
		Records: []HistoryRecord{{Sequence: 1, Kind: KindBolus, StartedAt: t0, Duration: 40 * time.Second, Delivered: 1, Complete: true}},
	})

	var reported []UnfinalizedDose
	var reporter HistoryReporter = HistoryReporterFunc(func(_ context.Context, doses []UnfinalizedDose) error {
		reported = append(reported, doses...)
		return nil
	})

	for range 2 {
		pending := l.Unreported()
		if len(pending) == 0 {
			continue
		}
		if err := reporter.ReportDoses(context.Background(), pending); err != nil {
			t.Fatal(err)
		}
		ids := make([]uuid.UUID, len(pending))
		for i, d := range pending {
			ids[i] = d.ID
		}
		l.MarkReported(ids)
	}

	if len(reported) != 1 || reported[0].ID != a.ID {
		t.Fatalf("reported = %+v, want only the first bolus once", reported)
	}

	if n := l.Compact(t0.Add(5 * time.Minute)); n != 0 {
		t.Errorf("Compact() before finalization removed %d", n)
	}
	if n := l.Compact(t0.Add(24 * time.Hour)); n != 1 {
		t.Errorf("Compact() removed %d, want 1", n)
	}
	if l.Len() != 1 || !l.Entries()[0].IsOpen() {
		t.Error("open entry should survive compaction")
	}
}

func TestCloseOpen(t *testing.T) {
	l := NewLedger()
	mustRecord(t, l, temp(1, 2, time.Hour, t0))
	mustRecord(t, l, UnfinalizedDose{Kind: KindBasal, Sequence: 2, ProgrammedAt: t0, Rate: 1})
	mustRecord(t, l, bolus(3, 2, t0.Add(30*time.Minute)))

	res := l.CloseOpen(t0.Add(30 * time.Minute))
	if len(res.Estimated) != 3 {
		t.Fatalf("Estimated = %d, want 3", len(res.Estimated))
	}
	if got := res.Estimated[2].Delivered; math.Abs(got-2) > 1e-9 {
		t.Errorf("bolus delivered = %v, want the full 2", got)
	}
	if got := res.Estimated[0].Delivered; math.Abs(got-1) > 1e-9 {
		t.Errorf("temp delivered = %v, want 1", got)
	}
	if got := res.Estimated[1].Delivered; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("basal delivered = %v, want 0.5", got)
	}
	if len(l.Open()) != 0 {
		t.Error("entries left open")
	}
}

// TestEventualSettlement drives random ledgers with random snapshots whose
// clock and retention horizon move forward. Every entry must settle once
// the horizon has passed it, and no settled entry may change again.
func TestEventualSettlement(t *testing.T) {
	rng := rand.New(rand.NewSource(20260401))
	kinds := []Kind{KindBolus, KindBasal, KindTempBasal, KindSuspend}

	for iter := range 200 {
		l := NewLedger()
		n := 1 + rng.Intn(8)
		for i := range n {
			d := UnfinalizedDose{
				Kind:         kinds[rng.Intn(len(kinds))],
				Sequence:     uint32(i + 1),
				ProgrammedAt: t0.Add(time.Duration(rng.Intn(120)) * time.Minute),
			}
			switch d.Kind {
			case KindBolus:
				d.Units = 0.05 * float64(1+rng.Intn(100))
				d.Duration = time.Duration(d.Units / 0.025 * float64(time.Second))
			case KindTempBasal:
				d.Rate = 0.05 * float64(rng.Intn(60))
				d.Duration = time.Duration(1+rng.Intn(8)) * 30 * time.Minute
			case KindBasal:
				d.Rate = 0.05 * float64(1+rng.Intn(40))
			}
			if rng.Intn(4) == 0 {
				d.Sequence = 0
			}
			mustRecord(t, l, d)
		}

		settled := map[uuid.UUID]UnfinalizedDose{}
		now := t0
		horizon := t0.Add(-time.Hour)
		for step := 0; step < 30; step++ {
			now = now.Add(time.Duration(rng.Intn(90)) * time.Minute)
			horizon = horizon.Add(time.Duration(rng.Intn(60)) * time.Minute)
			if horizon.After(now) {
				horizon = now
			}
			l.Reconcile(randomSnapshot(rng, l.Entries(), now, horizon))

			for _, e := range l.Entries() {
				if prev, ok := settled[e.ID]; ok && prev != e {
					t.Fatalf("iter %d: settled entry changed: %+v -> %+v", iter, prev, e)
				}
				if e.IsSettled() {
					settled[e.ID] = e
					if e.Delivered > e.ProgrammedUnits()+1e-9 {
						t.Fatalf("iter %d: delivered %v exceeds programmed %v", iter, e.Delivered, e.ProgrammedUnits())
					}
				}
			}
		}

		// Final snapshot: every record aged out.
		end := now.Add(48 * time.Hour)
		l.Reconcile(HistorySnapshot{TakenAt: end, HorizonStart: end})
		if open := l.Open(); len(open) != 0 {
			t.Fatalf("iter %d: %d entries never settled: %v", iter, len(open), open)
		}
	}
}

func randomSnapshot(rng *rand.Rand, entries []UnfinalizedDose, now, horizon time.Time) HistorySnapshot {
	snap := HistorySnapshot{TakenAt: now, HorizonStart: horizon}
	for _, e := range entries {
		if e.ProgrammedAt.After(now) || e.ProgrammedAt.Before(horizon) || rng.Intn(3) == 0 {
			continue
		}
		r := HistoryRecord{
			Sequence:  e.Sequence,
			Kind:      e.Kind,
			StartedAt: e.ProgrammedAt,
			Duration:  e.Duration,
		}
		switch {
		case rng.Intn(10) == 0:
			r.Rejected = true
		case !e.OpenEnded() && !e.EndTime().After(now):
			r.Complete = true
			r.Delivered = e.ExpectedDelivered(now)
		default:
			r.Delivered = e.ExpectedDelivered(now)
		}
		snap.Records = append(snap.Records, r)
	}
	return snap
}
