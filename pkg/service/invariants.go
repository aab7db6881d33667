package service

import (
	"fmt"

	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/engage"
	"github.com/loopwire/podcore/pkg/pumpstate"
)

// checkInvariants verifies the relations between identity, pending command,
// lanes and ledger that every update must keep.
func checkInvariants(st *pumpstate.State) error {
	if !st.Identity.Valid() {
		return fmt.Errorf("identity %s is not a valid session pair", st.Identity)
	}

	p := st.Pending.Pending()
	busy := command.LaneNone
	if p != nil {
		busy, _ = command.LaneOf(p.Kind, p.Payload)
	}
	for _, lane := range st.Lanes.Kinds() {
		state := st.Lanes.State(lane)
		switch {
		case lane == busy && state == engage.Stable:
			return fmt.Errorf("%s lane is stable while %s is pending", lane, p)
		case lane != busy && state != engage.Stable:
			return fmt.Errorf("%s lane is %s without a pending command", lane, state)
		}
	}

	seen := make(map[uint32]bool)
	for _, e := range st.Ledger.Entries() {
		if e.Sequence == 0 {
			continue
		}
		if seen[e.Sequence] {
			return fmt.Errorf("ledger holds two entries for sequence %d", e.Sequence)
		}
		seen[e.Sequence] = true
	}

	if p != nil && p.Sequence >= st.NextSequence {
		return fmt.Errorf("pending sequence %d not below next sequence %d", p.Sequence, st.NextSequence)
	}
	return nil
}

// update applies fn through the aggregate and checks the result before it
// is persisted.
func (s *PodService) update(fn func(st *pumpstate.State) error) (*pumpstate.State, error) {
	return s.agg.Update(func(st *pumpstate.State) error {
		if err := fn(st); err != nil {
			return err
		}
		if err := checkInvariants(st); err != nil {
			return s.violation(err)
		}
		return nil
	})
}

// violation panics in strict mode and wraps err otherwise.
func (s *PodService) violation(err error) error {
	if s.config.StrictInvariants {
		panic(fmt.Sprintf("podcore: %v", err))
	}
	if s.config.Logger != nil {
		s.config.Logger.Error("invariant violation", "error", err)
	}
	return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
}
