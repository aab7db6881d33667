package service

import (
	"context"
	"errors"

	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/log"
	"github.com/loopwire/podcore/pkg/persistence"
	"github.com/loopwire/podcore/pkg/pumpstate"
	"github.com/loopwire/podcore/pkg/transport"
)

// probe is the recovery controller's status probe. It reports whether the
// uncertain command was settled.
func (s *PodService) probe(ctx context.Context) (bool, error) {
	st, err := s.refresh(ctx, triggerRecovery, false)
	if err != nil {
		return false, err
	}
	return !st.Pending.HasPending(), nil
}

// AttemptRecovery runs one recovery probe now instead of waiting for the
// backoff. It fails with ErrNotUncertain when no command is uncertain.
func (s *PodService) AttemptRecovery(ctx context.Context) (bool, error) {
	if s.closed() {
		return false, ErrClosed
	}
	resolved, err := s.recovery.Attempt(ctx)
	if !errors.Is(err, ErrNotUncertain) {
		s.metrics.RecordRecoveryAttempt(resolved, err)
	}
	return resolved, err
}

// Abandon gives up on the uncertain command and the pod. A command that
// changes delivery is assumed to have run. Every entry still open on the pod
// is then closed as estimated at the abandonment time, so an open-ended
// basal stops counting there. No further commands are accepted until a new
// pod is paired.
func (s *PodService) Abandon(ctx context.Context) (*pumpstate.State, error) {
	if s.closed() {
		return nil, ErrClosed
	}

	var (
		st       *pumpstate.State
		dropped  command.PendingCommand
		identity ids.Identity
		changes  doseChanges
		closed   dose.Result
	)
	err := s.session.Do(ctx, func(ctx context.Context, _ transport.Transport) error {
		var err error
		st, err = s.update(func(st *pumpstate.State) error {
			if p := st.Pending.Pending(); p == nil || !p.Uncertain {
				return ErrNotUncertain
			}
			dropped, _ = st.Pending.Drop()
			st.Lanes.Reset()
			identity = st.Identity

			now := s.now()
			if command.AffectsDelivery(dropped.Kind) {
				var err error
				if changes, err = s.applyAck(st, dropped, dropped.SubmittedAt, true); err != nil {
					return err
				}
			}
			closed = st.Ledger.CloseOpen(now)
			st.Recovery = &persistence.RecoveryMarker{
				Abandoned:   true,
				AbandonedAt: now,
				Command:     &dropped,
			}
			if st.Pod != nil {
				st.Pod.Active = false
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.recovery.Abandon(); err != nil && !errors.Is(err, ErrNotUncertain) {
		s.warnLog("recovery abandon failed", "error", err)
	}
	s.metrics.RecordCommand(string(dropped.Kind), "abandoned")
	s.logCommand(identity, dropped, log.PhaseOutcome, "abandoned", "abandoned by user", nil)
	s.logState(log.StateEntityPending, "uncertain", "abandoned", "")
	s.logDoses(identity, changes)
	s.metrics.RecordSettled(0, 0, len(closed.Estimated))
	s.logSettled(identity, closed)
	s.warnLog("uncertain command abandoned", "command", dropped.String(), "closed", closed.Count())

	if s.reportSettled(ctx) {
		st = s.agg.Snapshot()
	}
	return st, nil
}
