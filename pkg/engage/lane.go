package engage

import (
	"errors"
	"fmt"
)

// ErrOperationInProgress is returned when a lane that is not stable is asked
// to start another operation.
var ErrOperationInProgress = errors.New("operation in progress")

// ErrInvalidTransition is returned for transitions the machine does not allow.
var ErrInvalidTransition = errors.New("invalid lane transition")

// State is the engagement state of a lane.
type State uint8

const (
	// Stable means no command of the lane is in flight.
	Stable State = iota

	// Engaging means a starting command is in flight.
	Engaging

	// Disengaging means a stopping command is in flight.
	Disengaging
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Stable:
		return "STABLE"
	case Engaging:
		return "ENGAGING"
	case Disengaging:
		return "DISENGAGING"
	default:
		return "UNKNOWN"
	}
}

// Lane tracks the engagement state for one operation kind.
type Lane[K comparable] struct {
	kind  K
	state State
}

// NewLane creates a stable lane.
func NewLane[K comparable](kind K) *Lane[K] {
	return &Lane[K]{kind: kind}
}

// Kind returns the operation kind of the lane.
func (l *Lane[K]) Kind() K { return l.kind }

// State returns the current state.
func (l *Lane[K]) State() State { return l.state }

// IsStable reports whether the lane is idle.
func (l *Lane[K]) IsStable() bool { return l.state == Stable }

// Engage moves STABLE -> ENGAGING.
func (l *Lane[K]) Engage() error {
	if l.state != Stable {
		return fmt.Errorf("%w: %v is %s", ErrOperationInProgress, l.kind, l.state)
	}
	l.state = Engaging
	return nil
}

// Disengage moves STABLE -> DISENGAGING for a stopping command, or
// ENGAGING -> DISENGAGING when an unsent command is withdrawn.
func (l *Lane[K]) Disengage() error {
	switch l.state {
	case Stable, Engaging:
		l.state = Disengaging
		return nil
	default:
		return fmt.Errorf("%w: %v is %s", ErrOperationInProgress, l.kind, l.state)
	}
}

// Settle returns the lane to STABLE.
func (l *Lane[K]) Settle() error {
	if l.state == Stable {
		return fmt.Errorf("%w: %v already %s", ErrInvalidTransition, l.kind, Stable)
	}
	l.state = Stable
	return nil
}

// Set is an ordered collection of lanes keyed by kind.
type Set[K comparable] struct {
	order []K
	lanes map[K]*Lane[K]
}

// NewSet creates a set with one stable lane per kind.
func NewSet[K comparable](kinds ...K) *Set[K] {
	s := &Set[K]{lanes: make(map[K]*Lane[K], len(kinds))}
	for _, k := range kinds {
		if _, dup := s.lanes[k]; dup {
			continue
		}
		s.order = append(s.order, k)
		s.lanes[k] = NewLane(k)
	}
	return s
}

// Lane returns the lane for kind, or nil if the set has none.
func (s *Set[K]) Lane(kind K) *Lane[K] {
	return s.lanes[kind]
}

// State returns the state of kind's lane. Unknown kinds are Stable.
func (s *Set[K]) State(kind K) State {
	if l := s.lanes[kind]; l != nil {
		return l.state
	}
	return Stable
}

// Kinds returns the lane kinds in creation order.
func (s *Set[K]) Kinds() []K {
	out := make([]K, len(s.order))
	copy(out, s.order)
	return out
}

// Snapshot returns the state of every lane.
func (s *Set[K]) Snapshot() map[K]State {
	out := make(map[K]State, len(s.lanes))
	for k, l := range s.lanes {
		out[k] = l.state
	}
	return out
}

// AllStable reports whether no lane has a command in flight.
func (s *Set[K]) AllStable() bool {
	for _, l := range s.lanes {
		if l.state != Stable {
			return false
		}
	}
	return true
}

// Reset settles every lane.
func (s *Set[K]) Reset() {
	for _, l := range s.lanes {
		l.state = Stable
	}
}

// Restore resets the set and puts kind's lane into state. It is used on
// startup to derive lanes from a persisted pending command.
func (s *Set[K]) Restore(kind K, state State) {
	s.Reset()
	if l := s.lanes[kind]; l != nil {
		l.state = state
	}
}

// Clone returns an independent copy.
func (s *Set[K]) Clone() *Set[K] {
	c := &Set[K]{
		order: append([]K(nil), s.order...),
		lanes: make(map[K]*Lane[K], len(s.lanes)),
	}
	for k, l := range s.lanes {
		cp := *l
		c.lanes[k] = &cp
	}
	return c
}
