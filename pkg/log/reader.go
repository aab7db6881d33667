package log

import (
	"os"
	"time"

	"github.com/loopwire/podcore/pkg/command"
)

// Filter specifies criteria for filtering log events.
// Empty/nil fields match all events for that criterion.
type Filter struct {
	SessionID string
	Direction *Direction
	Layer     *Layer
	Category  *Category

	// PodID filters by pod ID (0 matches all).
	PodID uint32

	// Kind filters command events by command kind.
	Kind command.Kind

	// Sequence filters command and dose events by sequence (0 matches all).
	Sequence uint32

	// TimeStart filters events at or after this time.
	TimeStart *time.Time

	// TimeEnd filters events before this time.
	TimeEnd *time.Time
}

// matches returns true if the event matches all filter criteria.
func (f *Filter) matches(event Event) bool {
	if f.SessionID != "" && event.SessionID != f.SessionID {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.PodID != 0 && event.PodID != f.PodID {
		return false
	}
	if f.Kind != "" && (event.Command == nil || event.Command.Kind != f.Kind) {
		return false
	}
	if f.Sequence != 0 && sequenceOf(event) != f.Sequence {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	return true
}

func sequenceOf(event Event) uint32 {
	switch {
	case event.Command != nil:
		return event.Command.Sequence
	case event.Dose != nil:
		return event.Dose.Sequence
	default:
		return 0
	}
}

// Reader streams events from a log file.
type Reader struct {
	file *os.File
	stream
}

// NewReader creates a Reader over all events in path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader creates a Reader that returns events matching filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, stream: stream{dec: NewDecoder(f), filter: filter}}, nil
}

// Next returns the next matching event. It returns io.EOF at the end of
// the file; a truncated final record surfaces as io.ErrUnexpectedEOF.
func (r *Reader) Next() (Event, error) {
	return r.next()
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
