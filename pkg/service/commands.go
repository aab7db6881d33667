package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/loopwire/podcore/pkg/alert"
	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/log"
	"github.com/loopwire/podcore/pkg/pod"
	"github.com/loopwire/podcore/pkg/pumpstate"
	"github.com/loopwire/podcore/pkg/transport"
)

// MaxTempBasalDuration is the longest temp basal the pod accepts.
const MaxTempBasalDuration = 12 * time.Hour

// Result describes an acknowledged command.
type Result struct {
	Command command.PendingCommand
	AckedAt time.Time

	// Doses are the ledger entries the acknowledgment created or changed.
	Doses []dose.UnfinalizedDose

	// State is the pump state right after the acknowledgment.
	State *pumpstate.State
}

// Bolus delivers units. Automatic boluses follow the automatic beep policy.
func (s *PodService) Bolus(ctx context.Context, units float64, automatic bool) (*Result, error) {
	if !(units > 0) || math.IsInf(units, 0) {
		return nil, fmt.Errorf("%w: bolus of %v U", ErrInvalidRequest, units)
	}
	return s.submit(ctx, command.KindBolus, func(st *pumpstate.State) command.Payload {
		pref := st.BeepPreference()
		beep := pref.ShouldBeepForManualCommand()
		if automatic {
			beep = pref.ShouldBeepForAutomaticBolus()
		}
		return command.Payload{Units: units, Automatic: automatic, Beep: beep}
	})
}

// CancelBolus stops a running bolus.
func (s *PodService) CancelBolus(ctx context.Context) (*Result, error) {
	return s.submit(ctx, command.KindCancel, func(st *pumpstate.State) command.Payload {
		return command.Payload{Target: command.KindBolus, Beep: st.BeepPreference().ShouldBeepForManualCommand()}
	})
}

// SetTempBasal runs rate U/h for duration, replacing any running temp
// basal.
func (s *PodService) SetTempBasal(ctx context.Context, rate float64, duration time.Duration, automatic bool) (*Result, error) {
	if !(rate >= 0) || rate > pod.MaxBasalRate {
		return nil, fmt.Errorf("%w: temp basal rate %v U/h", ErrInvalidRequest, rate)
	}
	if duration <= 0 || duration > MaxTempBasalDuration {
		return nil, fmt.Errorf("%w: temp basal duration %s", ErrInvalidRequest, duration)
	}
	return s.submit(ctx, command.KindProgramTempBasal, func(st *pumpstate.State) command.Payload {
		return command.Payload{
			Rate:      rate,
			Duration:  duration,
			Automatic: automatic,
			Beep:      !automatic && st.BeepPreference().ShouldBeepForManualCommand(),
		}
	})
}

// CancelTempBasal stops a running temp basal.
func (s *PodService) CancelTempBasal(ctx context.Context) (*Result, error) {
	return s.submit(ctx, command.KindCancel, func(st *pumpstate.State) command.Payload {
		return command.Payload{Target: command.KindProgramTempBasal}
	})
}

// Suspend stops all delivery.
func (s *PodService) Suspend(ctx context.Context) (*Result, error) {
	return s.submit(ctx, command.KindSuspend, func(st *pumpstate.State) command.Payload {
		return command.Payload{Beep: st.BeepPreference().ShouldBeepForManualCommand()}
	})
}

// Resume restarts scheduled basal delivery.
func (s *PodService) Resume(ctx context.Context) (*Result, error) {
	return s.submit(ctx, command.KindResume, func(st *pumpstate.State) command.Payload {
		return command.Payload{
			Rate: st.ScheduledBasalRate(s.now()),
			Beep: st.BeepPreference().ShouldBeepForManualCommand(),
		}
	})
}

// ProgramBasal installs schedule on the pod.
func (s *PodService) ProgramBasal(ctx context.Context, schedule pod.BasalSchedule) (*Result, error) {
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return s.submit(ctx, command.KindProgramBasal, func(st *pumpstate.State) command.Payload {
		return command.Payload{
			Rate:     schedule.RateAt(s.now(), st.Location()),
			Schedule: slices.Clone(schedule.Entries),
		}
	})
}

// AcknowledgeAlert acknowledges code. An alert the pod still reports is
// silenced on the pod first; any other pending alert is acknowledged
// locally.
func (s *PodService) AcknowledgeAlert(ctx context.Context, code alert.Code) (*pumpstate.State, error) {
	var active, pending bool
	s.agg.View(func(st *pumpstate.State) {
		active = st.Alerts.IsActive(code)
		pending = st.Alerts.IsPending(code)
	})

	if active {
		res, err := s.submit(ctx, command.KindAcknowledgeAlert, func(st *pumpstate.State) command.Payload {
			return command.Payload{Alerts: []alert.Code{code}}
		})
		if err != nil {
			return nil, err
		}
		return res.State, nil
	}

	if !pending {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotPending, code)
	}
	if s.closed() {
		return nil, ErrClosed
	}
	var change alert.Change
	st, err := s.update(func(st *pumpstate.State) error {
		change = acknowledgeAlert(st, code)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logAlertChange(change)
	return st, nil
}

func acknowledgeAlert(st *pumpstate.State, code alert.Code) alert.Change {
	if code == alert.TimeOffsetChangeDetected {
		st.AcknowledgedTimeOffsetAlert = true
	}
	return st.Alerts.Acknowledge(code)
}

// submit runs one command through the session.
func (s *PodService) submit(ctx context.Context, kind command.Kind, build func(st *pumpstate.State) command.Payload) (*Result, error) {
	if s.closed() {
		return nil, ErrClosed
	}

	// Fail fast on a busy lane instead of queueing behind the session.
	var payload command.Payload
	var err error
	s.agg.View(func(st *pumpstate.State) {
		payload = build(st)
		if err = admit(st, kind); err != nil {
			return
		}
		if p := st.Pending.Pending(); p != nil && p.Uncertain {
			err = fmt.Errorf("%w: %s", ErrAlreadyPending, p)
			return
		}
		err = laneFree(st, kind, payload)
	})
	if err != nil {
		return nil, err
	}

	var res *Result
	err = s.session.Do(ctx, func(ctx context.Context, link transport.Transport) error {
		var err error
		res, err = s.exchange(ctx, link, kind, payload)
		return err
	})
	return res, err
}

// admit checks whether st accepts a command of kind at all.
func admit(st *pumpstate.State, kind command.Kind) error {
	switch {
	case st.IsAbandoned():
		return fmt.Errorf("%w: pod was abandoned", ErrNotPaired)
	case !st.Identity.IsActivated() || st.Pod == nil:
		return ErrNotPaired
	case command.IsDosing(kind) && st.IsFaulted():
		return fmt.Errorf("%w: code %d", ErrDeviceFaulted, st.Pod.Fault.Code)
	}
	return nil
}

// exchange records, sends and resolves one command. The session is held.
func (s *PodService) exchange(ctx context.Context, link transport.Transport, kind command.Kind, payload command.Payload) (*Result, error) {
	var identity ids.Identity
	pending, err := s.rec.Begin(kind, payload, func(st *pumpstate.State) error {
		if err := admit(st, kind); err != nil {
			return err
		}
		if p := st.Pending.Pending(); p != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyPending, p)
		}
		identity = st.Identity
		return nil
	})
	if err != nil {
		return nil, err
	}
	h := pending.Handle()
	s.logCommand(identity, pending, log.PhaseSubmitted, "", "", nil)
	s.debugLog("command submitted", "command", pending.String())

	if err := ctx.Err(); err != nil {
		if _, werr := s.rec.Withdraw(h); werr != nil {
			return nil, errors.Join(err, werr)
		}
		s.metrics.RecordCommand(string(kind), "withdrawn")
		s.logCommand(identity, pending, log.PhaseOutcome, "withdrawn", err.Error(), nil)
		return nil, err
	}

	start := s.now()
	resp, sendErr := link.Send(ctx, transport.Command{
		ID:       pending.ID,
		Sequence: pending.Sequence,
		Identity: identity,
		Kind:     kind,
		Payload:  payload,
	})
	elapsed := s.now().Sub(start)

	switch {
	case sendErr == nil:
		at := ackTime(resp.AckedAt, s.now())
		var changes doseChanges
		st, err := s.rec.Resolve(h, command.OutcomeAck, func(st *pumpstate.State, p command.PendingCommand) error {
			var err error
			changes, err = s.applyAck(st, p, at, false)
			return err
		})
		if err != nil {
			// The pod ran the command but the ack could not be stored.
			// Status will settle it.
			s.warnLog("could not record acknowledged command", "command", pending.String(), "error", err)
			return nil, s.enterUncertain(identity, pending, err, elapsed)
		}
		s.metrics.RecordCommand(string(kind), command.OutcomeAck.String())
		s.logCommand(identity, pending, log.PhaseOutcome, command.OutcomeAck.String(), "", &elapsed)
		s.logDoses(identity, changes)
		s.debugLog("command acknowledged", "command", pending.String(), "elapsed", elapsed)
		return &Result{Command: pending, AckedAt: at, Doses: changes.doses(), State: st}, nil

	case transport.IsRejected(sendErr):
		s.metrics.RecordCommand(string(kind), command.OutcomeNack.String())
		s.logCommand(identity, pending, log.PhaseOutcome, command.OutcomeNack.String(), sendErr.Error(), &elapsed)
		if _, err := s.rec.Resolve(h, command.OutcomeNack, nil); err != nil {
			return nil, errors.Join(fmt.Errorf("%s: %w", kind, sendErr), err)
		}
		s.infoLog("command rejected", "command", pending.String(), "error", sendErr)
		return nil, fmt.Errorf("%s: %w", kind, sendErr)

	default:
		return nil, s.enterUncertain(identity, pending, sendErr, elapsed)
	}
}

// enterUncertain tags the pending command and hands it to recovery.
func (s *PodService) enterUncertain(identity ids.Identity, pending command.PendingCommand, cause error, elapsed time.Duration) error {
	if _, err := s.rec.MarkUncertain(pending.Handle()); err != nil {
		s.warnLog("could not persist uncertain command", "command", pending.String(), "error", err)
	}
	pending.Uncertain = true
	pending.UncertainSince = s.now()

	s.metrics.RecordCommand(string(pending.Kind), command.OutcomeTimeout.String())
	s.logCommand(identity, pending, log.PhaseOutcome, command.OutcomeTimeout.String(), cause.Error(), &elapsed)
	s.logState(log.StateEntityPending, "in-flight", "uncertain", cause.Error())
	s.warnLog("command outcome unknown, starting recovery", "command", pending.String(), "error", cause)

	s.recovery.Enter()
	return &UncertainError{Command: pending, Err: cause}
}

// doseChange is one ledger effect of a command.
type doseChange struct {
	action log.DoseAction
	dose   dose.UnfinalizedDose
}

type doseChanges []doseChange

func (c doseChanges) doses() []dose.UnfinalizedDose {
	out := make([]dose.UnfinalizedDose, 0, len(c))
	for _, ch := range c {
		out = append(out, ch.dose)
	}
	return out
}

// applyAck applies an executed command to st. at is when the pod ran it.
// Estimated entries come from commands that were assumed to run.
func (s *PodService) applyAck(st *pumpstate.State, p command.PendingCommand, at time.Time, estimated bool) (doseChanges, error) {
	var changes doseChanges
	truncate := func(kind dose.Kind) {
		if d, ok := st.Ledger.Truncate(kind, at); ok {
			changes = append(changes, doseChange{action: log.DoseTruncated, dose: d})
		}
	}
	record := func(d dose.UnfinalizedDose) error {
		d.Sequence = p.Sequence
		d.ProgrammedAt = at
		d.Automatic = p.Payload.Automatic
		d.Estimated = estimated
		rec, err := st.Ledger.Record(d)
		if err != nil {
			return err
		}
		changes = append(changes, doseChange{action: log.DoseRecorded, dose: rec})
		return nil
	}

	if st.Pod != nil && !estimated && p.Sequence > st.Pod.LastProgramSequence {
		st.Pod.LastProgramSequence = p.Sequence
	}
	suspended := st.Pod != nil && st.Pod.Suspended
	pl := p.Payload

	var err error
	switch p.Kind {
	case command.KindBolus:
		err = record(dose.UnfinalizedDose{
			Kind:     dose.KindBolus,
			Units:    pl.Units,
			Duration: dose.BolusDuration(pl.Units, s.config.BolusDeliveryRate),
		})

	case command.KindProgramTempBasal:
		truncate(dose.KindTempBasal)
		err = record(dose.UnfinalizedDose{Kind: dose.KindTempBasal, Rate: pl.Rate, Duration: pl.Duration})

	case command.KindProgramBasal:
		if len(pl.Schedule) > 0 {
			st.BasalSchedule = pod.BasalSchedule{Entries: slices.Clone(pl.Schedule)}
		}
		if !suspended {
			truncate(dose.KindBasal)
			err = record(dose.UnfinalizedDose{Kind: dose.KindBasal, Rate: pl.Rate})
		}

	case command.KindSuspend:
		truncate(dose.KindSuspend)
		truncate(dose.KindBolus)
		truncate(dose.KindTempBasal)
		truncate(dose.KindBasal)
		err = record(dose.UnfinalizedDose{Kind: dose.KindSuspend})
		if st.Pod != nil {
			st.Pod.Suspended = true
		}

	case command.KindResume:
		if suspended {
			truncate(dose.KindSuspend)
			err = record(dose.UnfinalizedDose{Kind: dose.KindBasal, Rate: pl.Rate})
			st.Pod.Suspended = false
		}

	case command.KindCancel:
		switch pl.Target {
		case command.KindBolus:
			truncate(dose.KindBolus)
		case command.KindProgramTempBasal:
			truncate(dose.KindTempBasal)
		}

	case command.KindAcknowledgeAlert:
		for _, code := range pl.Alerts {
			acknowledgeAlert(st, code)
		}
	}
	return changes, err
}
