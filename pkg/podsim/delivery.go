package podsim

import (
	"time"

	"github.com/loopwire/podcore/pkg/dose"
)

// delivery is one program running or run on the pod.
type delivery struct {
	seq      uint32
	kind     dose.Kind
	start    time.Time
	duration time.Duration // zero means open-ended, except for boluses
	units    float64
	rate     float64
	stopped  time.Time
}

// end returns when the delivery ended and whether it has ended by now.
func (d *delivery) end(now time.Time) (time.Time, bool) {
	var end time.Time
	if d.kind == dose.KindBolus || d.duration > 0 {
		end = d.start.Add(d.duration)
	}
	if !d.stopped.IsZero() && (end.IsZero() || d.stopped.Before(end)) {
		end = d.stopped
	}
	if end.IsZero() || end.After(now) {
		return now, false
	}
	return end, true
}

func (d *delivery) runningAt(now time.Time) bool {
	_, done := d.end(now)
	return !done
}

func (d *delivery) delivered(now time.Time) float64 {
	end, _ := d.end(now)
	elapsed := max(end.Sub(d.start), 0)
	switch d.kind {
	case dose.KindSuspend:
		return 0
	case dose.KindBolus:
		if d.duration <= 0 {
			return d.units
		}
		return d.units * min(elapsed.Seconds()/d.duration.Seconds(), 1)
	default:
		return d.rate * elapsed.Hours()
	}
}

func (d *delivery) record(now time.Time) dose.HistoryRecord {
	end, done := d.end(now)
	r := dose.HistoryRecord{
		Sequence:  d.seq,
		Kind:      d.kind,
		StartedAt: d.start,
		Delivered: d.delivered(now),
		Complete:  done,
	}
	switch {
	case done:
		r.Duration = end.Sub(d.start)
	case d.kind == dose.KindBolus || d.duration > 0:
		r.Duration = d.duration
	}
	return r
}
