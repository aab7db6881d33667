package service

import (
	"time"

	"github.com/loopwire/podcore/pkg/alert"
	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/log"
	"github.com/loopwire/podcore/pkg/transport"
)

// logEvent fills the common fields and hands ev to the protocol logger.
func (s *PodService) logEvent(identity ids.Identity, ev log.Event) {
	if s.plog == nil {
		return
	}
	ev.Timestamp = s.now()
	ev.SessionID = s.sessionID
	ev.ControllerID = identity.ControllerID
	ev.PodID = identity.PodID
	s.plog.Log(ev)
}

func (s *PodService) logCommand(identity ids.Identity, p command.PendingCommand, phase log.CommandPhase, outcome, reason string, elapsed *time.Duration) {
	if s.plog == nil {
		return
	}
	ev := &log.CommandEvent{
		CommandID: p.ID.String(),
		Sequence:  p.Sequence,
		Kind:      p.Kind,
		Phase:     phase,
		Outcome:   outcome,
		Reason:    reason,
		Elapsed:   elapsed,
	}
	direction := log.DirectionIn
	if phase == log.PhaseSubmitted {
		payload := p.Payload
		ev.Payload = &payload
		ev.Fingerprint = command.Fingerprint(p.Kind, p.Payload)
		direction = log.DirectionOut
	}
	s.logEvent(identity, log.Event{
		Direction: direction,
		Layer:     log.LayerEngine,
		Category:  log.CategoryCommand,
		Command:   ev,
	})
}

func (s *PodService) logStatus(identity ids.Identity, status transport.Status, trigger string) {
	if s.plog == nil {
		return
	}
	ev := &log.StatusEvent{
		LastProgramSequence: status.LastProgramSequence,
		Suspended:           status.Suspended,
		Reservoir:           status.Reservoir,
		HistoryRecords:      len(status.History.Records),
		Trigger:             trigger,
	}
	for _, c := range status.Alerts {
		ev.Alerts = append(ev.Alerts, string(c))
	}
	if status.Fault != nil {
		code := status.Fault.Code
		ev.FaultCode = &code
	}
	s.logEvent(identity, log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerLink,
		Category:  log.CategoryStatus,
		Status:    ev,
	})
}

func (s *PodService) logState(entity log.StateEntity, oldState, newState, reason string) {
	if s.plog == nil {
		return
	}
	s.logEvent(s.Identity(), log.Event{
		Direction: log.DirectionLocal,
		Layer:     log.LayerEngine,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (s *PodService) logAlertChange(change alert.Change) {
	if s.plog == nil || change.Empty() {
		return
	}
	for _, c := range change.Raised {
		s.logState(log.StateEntityAlert, "", string(c), "raised")
	}
	for _, c := range change.Cleared {
		s.logState(log.StateEntityAlert, string(c), "", "cleared")
	}
	for _, c := range change.Acknowledged {
		s.logState(log.StateEntityAlert, string(c), string(c), "acknowledged")
	}
}

func (s *PodService) logDose(identity ids.Identity, action log.DoseAction, d dose.UnfinalizedDose) {
	if s.plog == nil {
		return
	}
	s.logEvent(identity, log.Event{
		Direction: log.DirectionLocal,
		Layer:     log.LayerLedger,
		Category:  log.CategoryDose,
		Dose: &log.DoseEvent{
			DoseID:    d.ID.String(),
			Kind:      string(d.Kind),
			Sequence:  d.Sequence,
			Action:    action,
			Units:     d.Units,
			Rate:      d.Rate,
			Delivered: d.Delivered,
			Estimated: d.Estimated,
		},
	})
}

func (s *PodService) logDoses(identity ids.Identity, changes doseChanges) {
	for _, c := range changes {
		s.logDose(identity, c.action, c.dose)
	}
}

func (s *PodService) logSettled(identity ids.Identity, res dose.Result) {
	for _, d := range res.Finalized {
		s.logDose(identity, log.DoseFinalized, d)
	}
	for _, d := range res.Discarded {
		s.logDose(identity, log.DoseDiscarded, d)
	}
	for _, d := range res.Estimated {
		s.logDose(identity, log.DoseEstimated, d)
	}
}

// logError records err at layer.
func (s *PodService) logError(layer log.Layer, err error, context string) {
	if s.plog == nil || err == nil {
		return
	}
	s.logEvent(s.Identity(), log.Event{
		Direction: log.DirectionLocal,
		Layer:     layer,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: context,
		},
	})
}
