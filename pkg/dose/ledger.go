package dose

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Result lists the entries settled by one reconcile or close pass.
type Result struct {
	Finalized []UnfinalizedDose
	Discarded []UnfinalizedDose
	Estimated []UnfinalizedDose
}

// Empty reports whether nothing settled.
func (r Result) Empty() bool {
	return len(r.Finalized) == 0 && len(r.Discarded) == 0 && len(r.Estimated) == 0
}

// Count returns the number of settled entries.
func (r Result) Count() int {
	return len(r.Finalized) + len(r.Discarded) + len(r.Estimated)
}

// Ledger holds unfinalized doses in programming order.
type Ledger struct {
	entries []UnfinalizedDose
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Restore creates a ledger from persisted entries.
func Restore(entries []UnfinalizedDose) *Ledger {
	return &Ledger{entries: slices.Clone(entries)}
}

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	return Restore(l.entries)
}

// Entries returns a copy of all entries.
func (l *Ledger) Entries() []UnfinalizedDose {
	return slices.Clone(l.entries)
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Open returns the entries still awaiting reconciliation.
func (l *Ledger) Open() []UnfinalizedDose {
	var out []UnfinalizedDose
	for _, e := range l.entries {
		if e.IsOpen() {
			out = append(out, e)
		}
	}
	return out
}

// Counts returns the number of entries per status.
func (l *Ledger) Counts() map[Status]int {
	counts := map[Status]int{StatusOpen: 0, StatusFinalized: 0, StatusDiscarded: 0}
	for _, e := range l.entries {
		counts[e.Status]++
	}
	return counts
}

// Record adds an open entry. A non-zero sequence may only be recorded once.
func (l *Ledger) Record(d UnfinalizedDose) (UnfinalizedDose, error) {
	if err := validate(&d); err != nil {
		return UnfinalizedDose{}, err
	}
	if d.Sequence != 0 {
		for _, e := range l.entries {
			if e.Sequence == d.Sequence {
				return UnfinalizedDose{}, fmt.Errorf("%w: sequence %d", ErrDuplicateDose, d.Sequence)
			}
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.Status = StatusOpen
	d.Delivered = 0
	d.FinalizedAt = time.Time{}
	d.Reported = false
	d.Source = RecordKey{}
	l.entries = append(l.entries, d)
	return d, nil
}

func validate(d *UnfinalizedDose) error {
	switch {
	case !d.Kind.Valid():
		return fmt.Errorf("%w: kind %q", ErrInvalidDose, d.Kind)
	case d.ProgrammedAt.IsZero():
		return fmt.Errorf("%w: missing programmed time", ErrInvalidDose)
	case d.Units < 0 || d.Rate < 0 || d.Duration < 0:
		return fmt.Errorf("%w: negative amount", ErrInvalidDose)
	case d.Kind == KindBolus && d.Units == 0:
		return fmt.Errorf("%w: empty bolus", ErrInvalidDose)
	}
	return nil
}

// Truncate shortens the most recent open entry of kind so that it ends at
// at. It is applied when a cancel or resume is acknowledged. It returns the
// updated entry and false when no running entry was found.
func (l *Ledger) Truncate(kind Kind, at time.Time) (UnfinalizedDose, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := &l.entries[i]
		if e.Kind != kind || !e.IsOpen() {
			continue
		}
		if !e.OpenEnded() && !e.EndTime().After(at) {
			return UnfinalizedDose{}, false
		}

		elapsed := max(at.Sub(e.ProgrammedAt), 0)
		switch {
		case e.Kind == KindBolus:
			e.Units = e.ExpectedDelivered(e.ProgrammedAt.Add(elapsed))
			e.Duration = elapsed
		case elapsed == 0:
			// Stopped before anything ran.
			e.Duration = 0
			settle(e, StatusFinalized, 0, false, at)
		default:
			e.Duration = elapsed
		}
		return *e, true
	}
	return UnfinalizedDose{}, false
}

// deliveryTolerance absorbs pulse rounding when comparing a rate-based
// record against the volume expected for its window.
const deliveryTolerance = 0.025

// Reconcile applies a device history snapshot to the open entries.
//
// An entry whose record was rejected (or belongs to another kind) is
// discarded. A complete record finalizes the entry with the delivered
// volume, capped at what was programmed. A rate-based entry is only
// confirmed when the record delivered at least what the entry expected over
// the record's window; a short record leaves it open. An entry the pod no
// longer has history for is closed with its expected volume and flagged
// Estimated. Entries programmed after the snapshot are left alone.
//
// A record settles at most one entry, across calls as well: settled entries
// keep the key of the record they consumed. Reconcile is idempotent for a
// given snapshot.
func (l *Ledger) Reconcile(s HistorySnapshot) Result {
	claimed := make(map[uint32]bool, len(l.entries))
	used := make([]bool, len(s.Records))
	for _, e := range l.entries {
		if e.Sequence != 0 {
			claimed[e.Sequence] = true
		}
		if e.IsOpen() || e.Source.IsZero() {
			continue
		}
		for j := range s.Records {
			if e.Source.matches(&s.Records[j]) {
				used[j] = true
			}
		}
	}

	var res Result
	for i := range l.entries {
		e := &l.entries[i]
		if !e.IsOpen() || e.ProgrammedAt.After(s.TakenAt) {
			continue
		}

		rec := match(e, s, claimed, used)
		switch {
		case rec != nil && (rec.Rejected || rec.Kind != e.Kind):
			settle(e, StatusDiscarded, 0, false, s.TakenAt)
			e.Source = rec.Key()
			res.Discarded = append(res.Discarded, *e)

		case rec != nil && rec.Complete && confirms(e, rec, s.TakenAt):
			settle(e, StatusFinalized, math.Min(rec.Delivered, e.ProgrammedUnits()), false, s.TakenAt)
			e.Source = rec.Key()
			res.Finalized = append(res.Finalized, *e)

		case rec != nil:
			// Still running on the pod, or short of what was programmed.

		case e.ProgrammedAt.Before(s.HorizonStart) && (e.OpenEnded() || !e.EndTime().After(s.TakenAt)):
			settle(e, StatusFinalized, e.ExpectedDelivered(s.TakenAt), true, s.TakenAt)
			res.Estimated = append(res.Estimated, *e)
		}
	}
	return res
}

// confirms reports whether a complete record accounts for the entry. Boluses
// are confirmed at whatever volume the pod reports. Rate-based entries need
// the volume expected over the shorter of the two windows.
func confirms(e *UnfinalizedDose, rec *HistoryRecord, takenAt time.Time) bool {
	if e.Kind == KindBolus || e.Kind == KindSuspend {
		return true
	}
	end := rec.end(takenAt)
	if !e.OpenEnded() && e.EndTime().Before(end) {
		end = e.EndTime()
	}
	return rec.Delivered+deliveryTolerance >= e.ExpectedDelivered(end)
}

// match finds the history record for e: by sequence first, then by kind
// and overlapping time for records that carry no usable sequence.
func match(e *UnfinalizedDose, s HistorySnapshot, claimed map[uint32]bool, used []bool) *HistoryRecord {
	if e.Sequence != 0 {
		for j := range s.Records {
			if s.Records[j].Sequence == e.Sequence {
				used[j] = true
				return &s.Records[j]
			}
		}
	}

	eEnd := e.EndTime()
	if eEnd.IsZero() {
		eEnd = s.TakenAt
	}
	for j := range s.Records {
		r := &s.Records[j]
		if used[j] || r.Kind != e.Kind {
			continue
		}
		if r.Sequence != 0 && (e.Sequence != 0 || claimed[r.Sequence]) {
			continue
		}
		if r.StartedAt.After(eEnd) || r.end(s.TakenAt).Before(e.ProgrammedAt) {
			continue
		}
		used[j] = true
		return r
	}
	return nil
}

func settle(e *UnfinalizedDose, status Status, delivered float64, estimated bool, at time.Time) {
	e.Status = status
	e.Delivered = delivered
	e.Estimated = estimated
	e.FinalizedAt = at
}

// CloseOpen finalizes every open entry as Estimated. It is used when the
// pod that owned the entries is gone. A bolus is counted in full since the
// pod finishes it without the controller; rate-based entries are counted up
// to at.
func (l *Ledger) CloseOpen(at time.Time) Result {
	var res Result
	for i := range l.entries {
		e := &l.entries[i]
		if !e.IsOpen() {
			continue
		}
		delivered := e.ExpectedDelivered(at)
		if e.Kind == KindBolus {
			delivered = e.Units
		}
		settle(e, StatusFinalized, delivered, true, at)
		res.Estimated = append(res.Estimated, *e)
	}
	return res
}

// Unreported returns settled entries that have not been reported yet.
func (l *Ledger) Unreported() []UnfinalizedDose {
	var out []UnfinalizedDose
	for _, e := range l.entries {
		if e.IsSettled() && !e.Reported {
			out = append(out, e)
		}
	}
	return out
}

// MarkReported flags the given entries as reported and returns how many
// changed. Unknown or already reported IDs are ignored.
func (l *Ledger) MarkReported(ids []uuid.UUID) int {
	n := 0
	for i := range l.entries {
		e := &l.entries[i]
		if e.Reported || !e.IsSettled() || !slices.Contains(ids, e.ID) {
			continue
		}
		e.Reported = true
		n++
	}
	return n
}

// Compact drops settled, reported entries finalized before cutoff.
func (l *Ledger) Compact(cutoff time.Time) int {
	before := len(l.entries)
	l.entries = slices.DeleteFunc(l.entries, func(e UnfinalizedDose) bool {
		return e.IsSettled() && e.Reported && e.FinalizedAt.Before(cutoff)
	})
	return before - len(l.entries)
}
