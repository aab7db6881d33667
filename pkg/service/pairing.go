package service

import (
	"context"
	"fmt"

	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/log"
	"github.com/loopwire/podcore/pkg/pod"
	"github.com/loopwire/podcore/pkg/pumpstate"
	"github.com/loopwire/podcore/pkg/transport"
)

// Pair pairs a new pod. It fails with ErrPodActive while a working pod is
// paired; an abandoned, faulted or deactivated pod may be replaced. Doses
// still open on the old pod are closed as estimated, at the abandonment time
// when the old pod was abandoned.
func (s *PodService) Pair(ctx context.Context) (*pumpstate.State, error) {
	if s.closed() {
		return nil, ErrClosed
	}

	var (
		st          *pumpstate.State
		oldIdentity ids.Identity
		closed      dose.Result
	)
	err := s.session.Do(ctx, func(ctx context.Context, link transport.Transport) error {
		var err error
		s.agg.View(func(st *pumpstate.State) {
			switch {
			case st.Pending.HasPending():
				err = fmt.Errorf("%w: %s", ErrAlreadyPending, st.Pending.Pending())
			case st.HasActivePod() && !st.IsAbandoned() && !st.IsFaulted():
				err = ErrPodActive
			}
			oldIdentity = st.Identity
		})
		if err != nil {
			return err
		}

		res, err := link.Pair(ctx, s.alloc.Allocate(nil))
		if err != nil {
			s.logError(log.LayerLink, err, "pair")
			return fmt.Errorf("pair: %w", err)
		}

		st, err = s.update(func(st *pumpstate.State) error {
			now := s.now()
			closeAt := now
			if st.IsAbandoned() && !st.Recovery.AbandonedAt.IsZero() {
				closeAt = st.Recovery.AbandonedAt
			}
			closed = st.Ledger.CloseOpen(closeAt)
			st.Alerts.Clear()
			st.Recovery = nil
			st.Lanes.Reset()
			st.Identity = s.alloc.Allocate(&res.Address)
			st.Pod = &pod.PodState{
				Address:       res.Address,
				ActivatedAt:   ackTime(res.ActivatedAt, now),
				SetupComplete: true,
				Active:        true,
				SessionKeys:   append([]byte(nil), res.SessionKeys...),
			}
			st.PodAttachmentConfirmed = false
			st.AcknowledgedTimeOffsetAlert = false
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recovery.Reset()
	s.metrics.RecordSettled(0, 0, len(closed.Estimated))
	s.logState(log.StateEntityPairing, oldIdentity.String(), st.Identity.String(), "paired")
	s.logSettled(st.Identity, closed)
	s.infoLog("pod paired", "identity", st.Identity.String(), "address", fmt.Sprintf("%08X", st.Pod.Address))

	if s.reportSettled(ctx) {
		st = s.agg.Snapshot()
	}
	return st, nil
}

// ClearFault forgets the last reported pod fault. The next status raises it
// again if the pod still reports it.
func (s *PodService) ClearFault() (*pumpstate.State, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	var code uint8
	st, err := s.update(func(st *pumpstate.State) error {
		if st.Pod == nil {
			return ErrNotPaired
		}
		if st.Pod.Fault != nil {
			code = st.Pod.Fault.Code
		}
		st.Pod.Fault = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logState(log.StateEntityPairing, fmt.Sprintf("fault %d", code), "cleared", "")
	return st, nil
}

// ConfirmAttachment records that the user attached the pod to the body.
func (s *PodService) ConfirmAttachment() (*pumpstate.State, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	return s.update(func(st *pumpstate.State) error {
		if st.Pod == nil || !st.Identity.IsActivated() {
			return ErrNotPaired
		}
		st.PodAttachmentConfirmed = true
		return nil
	})
}
