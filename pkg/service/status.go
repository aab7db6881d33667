package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/loopwire/podcore/pkg/alert"
	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/log"
	"github.com/loopwire/podcore/pkg/pumpstate"
	"github.com/loopwire/podcore/pkg/session"
	"github.com/loopwire/podcore/pkg/transport"
)

// Status refresh triggers, as they appear in the protocol log.
const (
	triggerRefresh   = "refresh"
	triggerScheduled = "scheduled"
	triggerRecovery  = "recovery"
)

// RefreshStatus queries the pod and applies the answer: pod fields, alert
// sets, the outcome of any uncertain command and the dose ledger. Callers
// that arrive while a refresh is running share its result.
func (s *PodService) RefreshStatus(ctx context.Context) (*pumpstate.State, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	v, err, _ := s.refreshGroup.Do(triggerRefresh, func() (any, error) {
		return s.refresh(ctx, triggerRefresh, false)
	})
	if err != nil {
		return nil, err
	}
	return v.(*pumpstate.State), nil
}

// TryRefreshStatus refreshes only if the link is idle. It returns
// session.ErrBusy otherwise.
func (s *PodService) TryRefreshStatus(ctx context.Context) (*pumpstate.State, error) {
	if s.closed() {
		return nil, ErrClosed
	}
	return s.refresh(ctx, triggerScheduled, true)
}

// refresh runs one status exchange and reports what settled.
func (s *PodService) refresh(ctx context.Context, trigger string, try bool) (*pumpstate.State, error) {
	var st *pumpstate.State
	fn := func(ctx context.Context, link transport.Transport) error {
		var err error
		st, err = s.queryStatus(ctx, link, trigger)
		return err
	}

	var err error
	if try {
		err = s.session.TryDo(ctx, fn)
	} else {
		err = s.session.Do(ctx, fn)
	}
	if errors.Is(err, session.ErrBusy) {
		s.metrics.RecordRefresh("skipped")
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if s.reportSettled(ctx) {
		st = s.agg.Snapshot()
	}
	return st, nil
}

// queryStatus reads and applies a status. The session is held.
func (s *PodService) queryStatus(ctx context.Context, link transport.Transport, trigger string) (*pumpstate.State, error) {
	var identity ids.Identity
	var err error
	s.agg.View(func(st *pumpstate.State) {
		switch {
		case st.IsAbandoned():
			err = fmt.Errorf("%w: pod was abandoned", ErrNotPaired)
		case !st.Identity.IsActivated() || st.Pod == nil:
			err = ErrNotPaired
		}
		identity = st.Identity
	})
	if err != nil {
		return nil, err
	}

	status, err := link.QueryStatus(ctx, identity)
	if err != nil {
		s.metrics.RecordRefresh("error")
		s.logError(log.LayerLink, err, "status "+trigger)
		return nil, fmt.Errorf("query status: %w", err)
	}

	st, err := s.applyStatus(identity, status, trigger)
	if err != nil {
		s.metrics.RecordRefresh("error")
		return nil, err
	}
	s.metrics.RecordRefresh("ok")
	return st, nil
}

// statusEffects collects what one status application changed.
type statusEffects struct {
	resolved *command.PendingCommand
	outcome  command.Outcome
	doses    doseChanges
	settled  dose.Result
	alerts   alert.Change
	fault    bool
}

// applyStatus applies status in one update.
func (s *PodService) applyStatus(identity ids.Identity, status transport.Status, trigger string) (*pumpstate.State, error) {
	now := s.now()
	var fx statusEffects

	st, err := s.update(func(st *pumpstate.State) error {
		if st.Identity != identity || st.Pod == nil {
			return fmt.Errorf("%w: pod changed during status query", ErrNotPaired)
		}

		// The pending command is settled against the pod state it was
		// issued on, before the status fields overwrite it.
		if p := st.Pending.Pending(); p != nil {
			fx.resolved = p
			fx.outcome = command.OutcomeNack
			if status.LastProgramSequence >= p.Sequence {
				fx.outcome = command.OutcomeAck
			}
			if _, err := st.Pending.Resolve(p.Handle(), fx.outcome); err != nil {
				return err
			}
			settleLane(st, *p)
			if fx.outcome == command.OutcomeAck {
				changes, err := s.applyAck(st, *p, p.SubmittedAt, false)
				if err != nil {
					return err
				}
				fx.doses = changes
			}
		}

		ps := st.Pod
		ps.LastStatusAt = ackTime(status.TakenAt, now)
		ps.Suspended = status.Suspended
		if status.Reservoir != nil {
			v := *status.Reservoir
			ps.ReservoirLevel = &v
		}
		if status.LastProgramSequence > ps.LastProgramSequence {
			ps.LastProgramSequence = status.LastProgramSequence
		}
		if status.Fault != nil && ps.Fault == nil {
			f := *status.Fault
			ps.Fault = &f
			fx.fault = true
		}
		ps.Active = status.Active && ps.Fault == nil

		fx.alerts = st.Alerts.ApplyDeviceReport(status.Alerts)
		if slices.Contains(fx.alerts.Raised, alert.TimeOffsetChangeDetected) {
			st.AcknowledgedTimeOffsetAlert = false
		}

		fx.settled = st.Ledger.Reconcile(status.History)
		return nil
	})
	if err != nil {
		s.logError(log.LayerEngine, err, "apply status")
		return nil, err
	}

	s.logStatus(identity, status, trigger)
	if p := fx.resolved; p != nil {
		s.logCommand(identity, *p, log.PhaseOutcome, fx.outcome.String(), "resolved by status", nil)
		s.logState(log.StateEntityPending, "uncertain", fx.outcome.String(), trigger)
		s.infoLog("uncertain command resolved", "command", p.String(), "outcome", fx.outcome.String())
		if err := s.recovery.Resolve(fx.outcome); err != nil && !errors.Is(err, ErrNotUncertain) {
			s.warnLog("recovery resolve failed", "error", err)
		}
	}
	if fx.fault {
		s.warnLog("pod reported a fault", "code", status.Fault.Code, "message", status.Fault.Message)
		code := int(status.Fault.Code)
		s.logEvent(identity, log.Event{
			Direction: log.DirectionIn,
			Layer:     log.LayerLink,
			Category:  log.CategoryError,
			Error:     &log.ErrorEventData{Layer: log.LayerLink, Message: status.Fault.Message, Code: &code, Context: "pod fault"},
		})
	}
	s.logDoses(identity, fx.doses)
	s.logSettled(identity, fx.settled)
	s.logAlertChange(fx.alerts)
	s.metrics.RecordSettled(len(fx.settled.Finalized), len(fx.settled.Discarded), len(fx.settled.Estimated))
	return st, nil
}

// reportSettled hands settled, unreported doses to the history reporter
// and marks them reported. Doses are reported at most once per successful
// report. It reports whether the ledger changed.
func (s *PodService) reportSettled(ctx context.Context) bool {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()

	var pending []dose.UnfinalizedDose
	var identity ids.Identity
	s.agg.View(func(st *pumpstate.State) {
		pending = st.Ledger.Unreported()
		identity = st.Identity
	})
	if len(pending) == 0 {
		return false
	}

	if r := s.config.HistoryReporter; r != nil {
		if err := r.ReportDoses(ctx, pending); err != nil {
			s.warnLog("dose report failed, will retry", "doses", len(pending), "error", err)
			s.logError(log.LayerLedger, err, "report doses")
			return false
		}
	}

	reported := make([]uuid.UUID, 0, len(pending))
	for _, d := range pending {
		reported = append(reported, d.ID)
	}
	var compacted int
	_, err := s.update(func(st *pumpstate.State) error {
		st.Ledger.MarkReported(reported)
		compacted = st.Ledger.Compact(s.now().Add(-s.config.HistoryRetention))
		return nil
	})
	if err != nil {
		s.warnLog("could not mark doses reported", "error", err)
		return false
	}

	for _, d := range pending {
		s.metrics.RecordReported(d.Delivered, d.Estimated)
		s.logDose(identity, log.DoseReported, d)
	}
	s.debugLog("doses reported", "count", len(pending), "compacted", compacted)
	return true
}
