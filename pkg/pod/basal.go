package pod

import (
	"errors"
	"fmt"
	"time"
)

// Schedule errors.
var (
	ErrEmptySchedule    = errors.New("basal schedule is empty")
	ErrScheduleStart    = errors.New("basal schedule must start at midnight")
	ErrScheduleOrder    = errors.New("basal schedule entries out of order")
	ErrScheduleRate     = errors.New("basal rate out of range")
	ErrScheduleSpansDay = errors.New("basal schedule entry beyond 24h")
)

// MaxBasalRate is the highest programmable basal rate in U/h.
const MaxBasalRate = 30.0

// BasalEntry is one segment of a daily basal schedule.
type BasalEntry struct {
	// Start is the offset from local midnight, in seconds.
	Start float64 `json:"startTime"`

	// Rate is the delivery rate in U/h.
	Rate float64 `json:"rate"`
}

// BasalSchedule is a daily repeating basal schedule.
type BasalSchedule struct {
	Entries []BasalEntry `json:"entries"`
}

// Validate checks ordering and rate bounds.
func (s BasalSchedule) Validate() error {
	if len(s.Entries) == 0 {
		return ErrEmptySchedule
	}
	if s.Entries[0].Start != 0 {
		return ErrScheduleStart
	}
	day := (24 * time.Hour).Seconds()
	for i, e := range s.Entries {
		if e.Rate < 0 || e.Rate > MaxBasalRate {
			return fmt.Errorf("%w: entry %d rate %.3f", ErrScheduleRate, i, e.Rate)
		}
		if e.Start >= day {
			return fmt.Errorf("%w: entry %d", ErrScheduleSpansDay, i)
		}
		if i > 0 && e.Start <= s.Entries[i-1].Start {
			return fmt.Errorf("%w: entry %d", ErrScheduleOrder, i)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s BasalSchedule) Clone() BasalSchedule {
	return BasalSchedule{Entries: append([]BasalEntry(nil), s.Entries...)}
}

// Segment returns the rate in effect at t (interpreted in loc) and how long
// that rate remains in effect.
func (s BasalSchedule) Segment(t time.Time, loc *time.Location) (rate float64, remaining time.Duration) {
	if len(s.Entries) == 0 {
		return 0, 0
	}
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	offset := local.Sub(midnight).Seconds()

	idx := 0
	for i, e := range s.Entries {
		if e.Start <= offset {
			idx = i
		}
	}

	end := (24 * time.Hour).Seconds()
	if idx+1 < len(s.Entries) {
		end = s.Entries[idx+1].Start
	}
	return s.Entries[idx].Rate, time.Duration((end - offset) * float64(time.Second))
}

// RateAt returns the scheduled rate at t.
func (s BasalSchedule) RateAt(t time.Time, loc *time.Location) float64 {
	rate, _ := s.Segment(t, loc)
	return rate
}
