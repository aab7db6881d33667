package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Slot errors.
var (
	ErrAlreadyPending = errors.New("a command is already pending")
	ErrNoPending      = errors.New("no pending command")
	ErrStaleHandle    = errors.New("handle does not match the pending command")
	ErrInvalidOutcome = errors.New("outcome is not definitive")
	ErrInvalidKind    = errors.New("invalid command kind")
)

// Outcome is the transport result for a command.
type Outcome uint8

const (
	// OutcomeAck means the pod accepted and executed the command.
	OutcomeAck Outcome = iota + 1

	// OutcomeNack means the pod refused the command; nothing executed.
	OutcomeNack

	// OutcomeTimeout means the result is unknown.
	OutcomeTimeout
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeNack:
		return "nack"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// PendingCommand is the durable record of a command handed to the transport.
type PendingCommand struct {
	ID             uuid.UUID `json:"id"`
	Sequence       uint32    `json:"sequence"`
	Kind           Kind      `json:"kind"`
	SubmittedAt    time.Time `json:"submittedAt"`
	Payload        Payload   `json:"payload"`
	Uncertain      bool      `json:"uncertain,omitempty"`
	UncertainSince time.Time `json:"uncertainSince,omitzero"`
}

// Handle identifies one Begin call. Resolving with a handle from an earlier
// command fails with ErrStaleHandle.
type Handle struct {
	ID       uuid.UUID
	Sequence uint32
}

// Handle returns the handle for this record.
func (p *PendingCommand) Handle() Handle {
	return Handle{ID: p.ID, Sequence: p.Sequence}
}

// String returns a short description for logs.
func (p *PendingCommand) String() string {
	state := "in-flight"
	if p.Uncertain {
		state = "uncertain"
	}
	return fmt.Sprintf("%s#%d(%s)", p.Kind, p.Sequence, state)
}

// Slot holds at most one pending command. The zero value is empty.
// Slot is not safe for concurrent use.
type Slot struct {
	pending *PendingCommand
}

// RestoreSlot creates a slot holding a persisted record (nil for empty).
func RestoreSlot(p *PendingCommand) Slot {
	if p == nil {
		return Slot{}
	}
	cp := *p
	return Slot{pending: &cp}
}

// Pending returns a copy of the current record, or nil.
func (s *Slot) Pending() *PendingCommand {
	if s.pending == nil {
		return nil
	}
	cp := *s.pending
	return &cp
}

// HasPending reports whether a record exists.
func (s *Slot) HasPending() bool {
	return s.pending != nil
}

// Clone returns an independent copy.
func (s *Slot) Clone() Slot {
	return RestoreSlot(s.pending)
}

// Begin records a new command.
func (s *Slot) Begin(kind Kind, payload Payload, sequence uint32, now time.Time) (Handle, error) {
	if !kind.Valid() {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if s.pending != nil {
		return Handle{}, fmt.Errorf("%w: %s", ErrAlreadyPending, s.pending)
	}
	s.pending = &PendingCommand{
		ID:          uuid.New(),
		Sequence:    sequence,
		Kind:        kind,
		SubmittedAt: now,
		Payload:     payload,
	}
	return s.pending.Handle(), nil
}

// Resolve clears the record on a definitive outcome and returns it.
func (s *Slot) Resolve(h Handle, outcome Outcome) (PendingCommand, error) {
	if outcome != OutcomeAck && outcome != OutcomeNack {
		return PendingCommand{}, fmt.Errorf("%w: %s", ErrInvalidOutcome, outcome)
	}
	p, err := s.match(h)
	if err != nil {
		return PendingCommand{}, err
	}
	s.pending = nil
	return p, nil
}

// MarkUncertain tags the record as uncertain. The record stays in place.
func (s *Slot) MarkUncertain(h Handle, now time.Time) error {
	if _, err := s.match(h); err != nil {
		return err
	}
	if !s.pending.Uncertain {
		s.pending.Uncertain = true
		s.pending.UncertainSince = now
	}
	return nil
}

// Withdraw removes a record whose command was never sent.
func (s *Slot) Withdraw(h Handle) (PendingCommand, error) {
	p, err := s.match(h)
	if err != nil {
		return PendingCommand{}, err
	}
	if p.Uncertain {
		return PendingCommand{}, fmt.Errorf("%w: %s was already sent", ErrInvalidOutcome, p.String())
	}
	s.pending = nil
	return p, nil
}

// Drop removes whatever record is held. Only the abandonment path uses it.
func (s *Slot) Drop() (PendingCommand, bool) {
	if s.pending == nil {
		return PendingCommand{}, false
	}
	p := *s.pending
	s.pending = nil
	return p, true
}

func (s *Slot) match(h Handle) (PendingCommand, error) {
	if s.pending == nil {
		return PendingCommand{}, ErrNoPending
	}
	if s.pending.ID != h.ID || s.pending.Sequence != h.Sequence {
		return PendingCommand{}, fmt.Errorf("%w: have %s", ErrStaleHandle, s.pending)
	}
	return *s.pending, nil
}
