package service

import (
	"fmt"
	"time"

	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/engage"
	"github.com/loopwire/podcore/pkg/pumpstate"
)

// recorder keeps the pending command and the lanes in step. Each method is
// one aggregate update, so a lane is never engaging without a persisted
// record, and the reverse.
type recorder struct {
	svc *PodService
}

// Begin persists a new pending command and moves its lane. check runs
// first against the same state.
func (r *recorder) Begin(kind command.Kind, payload command.Payload, check func(st *pumpstate.State) error) (command.PendingCommand, error) {
	var pending command.PendingCommand
	_, err := r.svc.update(func(st *pumpstate.State) error {
		if check != nil {
			if err := check(st); err != nil {
				return err
			}
		}
		if err := transitionBegin(st, kind, payload); err != nil {
			return err
		}
		h, err := st.Pending.Begin(kind, payload, st.NextSequence, r.svc.now())
		if err != nil {
			return err
		}
		st.NextSequence++
		pending = *st.Pending.Pending()
		if pending.Handle() != h {
			return fmt.Errorf("%w: handle mismatch", ErrInvariantViolation)
		}
		return nil
	})
	return pending, err
}

// Resolve clears the pending command on a definitive outcome and settles
// its lane. effect runs in the same update on ack.
func (r *recorder) Resolve(h command.Handle, outcome command.Outcome, effect func(st *pumpstate.State, p command.PendingCommand) error) (*pumpstate.State, error) {
	return r.svc.update(func(st *pumpstate.State) error {
		p, err := st.Pending.Resolve(h, outcome)
		if err != nil {
			return err
		}
		settleLane(st, p)
		if outcome == command.OutcomeAck && effect != nil {
			return effect(st, p)
		}
		return nil
	})
}

// MarkUncertain tags the pending command. Its lane stays where it is.
func (r *recorder) MarkUncertain(h command.Handle) (*pumpstate.State, error) {
	return r.svc.update(func(st *pumpstate.State) error {
		return st.Pending.MarkUncertain(h, r.svc.now())
	})
}

// Withdraw removes a command that was never sent. The lane passes through
// disengaging back to stable.
func (r *recorder) Withdraw(h command.Handle) (*pumpstate.State, error) {
	return r.svc.update(func(st *pumpstate.State) error {
		p, err := st.Pending.Withdraw(h)
		if err != nil {
			return err
		}
		lane, _ := command.LaneOf(p.Kind, p.Payload)
		if l := st.Lanes.Lane(lane); l != nil && !l.IsStable() {
			if l.State() == engage.Engaging {
				if err := l.Disengage(); err != nil {
					return err
				}
			}
			return l.Settle()
		}
		return nil
	})
}

// transitionBegin moves the lane of kind out of stable.
func transitionBegin(st *pumpstate.State, kind command.Kind, payload command.Payload) error {
	lane, dir := command.LaneOf(kind, payload)
	l := st.Lanes.Lane(lane)
	if l == nil {
		return nil
	}
	if !l.IsStable() {
		return fmt.Errorf("%w: %s lane is %s", ErrOperationInProgress, lane, l.State())
	}
	if dir == command.Disengage {
		return l.Disengage()
	}
	return l.Engage()
}

func settleLane(st *pumpstate.State, p command.PendingCommand) {
	lane, _ := command.LaneOf(p.Kind, p.Payload)
	if l := st.Lanes.Lane(lane); l != nil && !l.IsStable() {
		_ = l.Settle()
	}
}

// laneFree reports whether kind's lane accepts a new command.
func laneFree(st *pumpstate.State, kind command.Kind, payload command.Payload) error {
	lane, _ := command.LaneOf(kind, payload)
	if s := st.Lanes.State(lane); s != engage.Stable {
		return fmt.Errorf("%w: %s lane is %s", ErrOperationInProgress, lane, s)
	}
	return nil
}

// ackTime returns when the pod executed a command.
func ackTime(acked, fallback time.Time) time.Time {
	if acked.IsZero() {
		return fallback
	}
	return acked
}
