package dose

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Ledger errors.
var (
	ErrInvalidDose   = errors.New("invalid dose")
	ErrDuplicateDose = errors.New("dose already recorded")
)

// Kind is the delivery type of a ledger entry.
type Kind string

// Dose kinds.
const (
	KindBolus     Kind = "bolus"
	KindBasal     Kind = "basal"
	KindTempBasal Kind = "tempBasal"
	KindSuspend   Kind = "suspend"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBolus, KindBasal, KindTempBasal, KindSuspend:
		return true
	default:
		return false
	}
}

// Status is the settlement status of a ledger entry.
type Status string

// Entry statuses.
const (
	StatusOpen      Status = "open"
	StatusFinalized Status = "finalized"
	StatusDiscarded Status = "discarded"
)

// UnfinalizedDose is a provisional dose created when the pod acknowledged a
// command. A zero Duration on a rate-based entry means open-ended.
type UnfinalizedDose struct {
	ID           uuid.UUID     `json:"id"`
	Kind         Kind          `json:"kind"`
	Sequence     uint32        `json:"sequence,omitempty"`
	ProgrammedAt time.Time     `json:"programmedAt"`
	Units        float64       `json:"units,omitempty"`
	Rate         float64       `json:"rate,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Automatic    bool          `json:"automatic,omitempty"`

	Status      Status    `json:"status"`
	Estimated   bool      `json:"estimated,omitempty"`
	Delivered   float64   `json:"delivered,omitempty"`
	FinalizedAt time.Time `json:"finalizedAt,omitzero"`
	Reported    bool      `json:"reported,omitempty"`

	// Source is the history record that settled the entry, if any.
	Source RecordKey `json:"source,omitzero"`
}

// RecordKey identifies a history record across snapshots.
type RecordKey struct {
	Kind      Kind      `json:"kind"`
	Sequence  uint32    `json:"sequence,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// IsZero reports whether k identifies no record.
func (k RecordKey) IsZero() bool {
	return k.StartedAt.IsZero()
}

// IsOpen reports whether the entry awaits reconciliation.
func (d *UnfinalizedDose) IsOpen() bool {
	return d.Status == StatusOpen
}

// IsSettled reports whether the entry is finalized or discarded.
func (d *UnfinalizedDose) IsSettled() bool {
	return d.Status == StatusFinalized || d.Status == StatusDiscarded
}

// OpenEnded reports whether the entry runs until something stops it.
func (d *UnfinalizedDose) OpenEnded() bool {
	return d.Kind != KindBolus && d.Duration == 0
}

// EndTime returns the programmed end, or the zero time when open-ended.
func (d *UnfinalizedDose) EndTime() time.Time {
	if d.OpenEnded() {
		return time.Time{}
	}
	return d.ProgrammedAt.Add(d.Duration)
}

// ProgrammedUnits returns the volume the command asked for. Open-ended
// entries return +Inf.
func (d *UnfinalizedDose) ProgrammedUnits() float64 {
	switch {
	case d.Kind == KindSuspend:
		return 0
	case d.Kind == KindBolus:
		return d.Units
	case d.OpenEnded():
		return math.Inf(1)
	default:
		return d.Rate * d.Duration.Hours()
	}
}

// ExpectedDelivered returns what should have been delivered by t if the pod
// ran the command as programmed.
func (d *UnfinalizedDose) ExpectedDelivered(t time.Time) float64 {
	if d.Kind == KindSuspend || !t.After(d.ProgrammedAt) {
		return 0
	}
	elapsed := t.Sub(d.ProgrammedAt)
	if !d.OpenEnded() && elapsed > d.Duration {
		elapsed = d.Duration
	}
	if d.Kind == KindBolus {
		if d.Duration <= 0 {
			return d.Units
		}
		return d.Units * elapsed.Seconds() / d.Duration.Seconds()
	}
	return d.Rate * elapsed.Hours()
}

// String returns a short description for logs.
func (d *UnfinalizedDose) String() string {
	if d.Kind == KindBolus {
		return fmt.Sprintf("%s#%d %.2fU %s", d.Kind, d.Sequence, d.Units, d.Status)
	}
	return fmt.Sprintf("%s#%d %.2fU/h/%s %s", d.Kind, d.Sequence, d.Rate, d.Duration, d.Status)
}

// BolusDuration returns how long a bolus of units takes at rate U/s.
func BolusDuration(units, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(math.Round(units / rate * float64(time.Second)))
}

// HistoryReporter receives settled doses. Each dose is reported once.
type HistoryReporter interface {
	ReportDoses(ctx context.Context, doses []UnfinalizedDose) error
}

// HistoryReporterFunc adapts a function to HistoryReporter.
type HistoryReporterFunc func(ctx context.Context, doses []UnfinalizedDose) error

// ReportDoses calls f.
func (f HistoryReporterFunc) ReportDoses(ctx context.Context, doses []UnfinalizedDose) error {
	return f(ctx, doses)
}
