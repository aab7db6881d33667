package pumpstate

import (
	"time"

	"github.com/loopwire/podcore/pkg/alert"
	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/engage"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/persistence"
	"github.com/loopwire/podcore/pkg/pod"
)

// StaleTolerance is how old the last status may be before pump data is
// considered stale.
const StaleTolerance = 6 * time.Minute

// State is the full pump state. Values handed out by the aggregate are
// copies; mutating them has no effect.
type State struct {
	Identity ids.Identity

	IsOnboarded                   bool
	InitialConfigurationCompleted bool
	PodAttachmentConfirmed        bool
	AcknowledgedTimeOffsetAlert   bool

	Pod *pod.PodState

	// TimeZone is the offset from GMT in seconds.
	TimeZone      int
	BasalSchedule pod.BasalSchedule
	InsulinType   pod.InsulinType

	ConfirmationBeeps                 bool
	ScheduledExpirationReminderOffset *time.Duration
	DefaultExpirationReminderOffset   time.Duration
	LowReservoirReminderValue         float64

	Ledger  *dose.Ledger
	Alerts  *alert.Manager
	Pending command.Slot

	// Lanes are not persisted; they are derived from Pending on load.
	Lanes *engage.Set[command.Lane]

	NextSequence uint32
	Recovery     *persistence.RecoveryMarker
}

// Fresh returns the state of a controller with no pod.
func Fresh(alloc *ids.Allocator) *State {
	return &State{
		Identity:                        alloc.Allocate(nil),
		IsOnboarded:                     true,
		InitialConfigurationCompleted:   true,
		DefaultExpirationReminderOffset: pod.DefaultExpirationReminderOffset,
		LowReservoirReminderValue:       pod.DefaultLowReservoirReminder,
		Ledger:                          dose.NewLedger(),
		Alerts:                          alert.NewManager(),
		Lanes:                           newLanes(),
		NextSequence:                    1,
	}
}

func newLanes() *engage.Set[command.Lane] {
	return engage.NewSet(command.Lanes...)
}

// FromDocument rebuilds state from a decoded document. Documents without an
// identity get the legacy identity of their pod.
func FromDocument(doc *persistence.Document, alloc *ids.Allocator) *State {
	s := &State{
		IsOnboarded:                       doc.IsOnboarded,
		InitialConfigurationCompleted:     doc.InitialConfigurationCompleted,
		PodAttachmentConfirmed:            doc.PodAttachmentConfirmed,
		AcknowledgedTimeOffsetAlert:       doc.AcknowledgedTimeOffsetAlert,
		Pod:                               doc.PodState.Clone(),
		TimeZone:                          doc.TimeZone,
		BasalSchedule:                     doc.BasalSchedule.Clone(),
		InsulinType:                       doc.InsulinType,
		ConfirmationBeeps:                 doc.ConfirmationBeeps,
		ScheduledExpirationReminderOffset: doc.ScheduledExpirationReminderOffset,
		DefaultExpirationReminderOffset:   doc.DefaultExpirationReminderOffset,
		LowReservoirReminderValue:         doc.LowReservoirReminderValue,
		Ledger:                            dose.Restore(doc.UnstoredDoses),
		Alerts:                            alert.Restore(doc.ActiveAlerts, doc.AlertsWithPendingAcknowledgment),
		Pending:                           command.RestoreSlot(doc.PendingCommand),
		Lanes:                             newLanes(),
		NextSequence:                      max(doc.NextSequence, 1),
		Recovery:                          doc.Recovery,
	}

	switch {
	case doc.ControllerID != nil:
		s.Identity = ids.Identity{ControllerID: *doc.ControllerID, PodID: *doc.PodID}
	case doc.PodState != nil:
		s.Identity = alloc.Legacy(doc.PodState.Address)
	default:
		s.Identity = alloc.Allocate(nil)
	}

	if p := doc.PendingCommand; p != nil {
		// Sequences never go backwards, even if nextSequence was lost.
		s.NextSequence = max(s.NextSequence, p.Sequence+1)
		s.deriveLane(p)
	}
	return s
}

// deriveLane puts the pending command's lane back into flight.
func (s *State) deriveLane(p *command.PendingCommand) {
	lane, dir := command.LaneOf(p.Kind, p.Payload)
	if lane == command.LaneNone {
		return
	}
	state := engage.Engaging
	if dir == command.Disengage {
		state = engage.Disengaging
	}
	s.Lanes.Restore(lane, state)
}

// Document converts the state to its persisted form.
func (s *State) Document() *persistence.Document {
	controller, podID := s.Identity.ControllerID, s.Identity.PodID
	return &persistence.Document{
		IsOnboarded:                       s.IsOnboarded,
		InitialConfigurationCompleted:     s.InitialConfigurationCompleted,
		PodAttachmentConfirmed:            s.PodAttachmentConfirmed,
		AcknowledgedTimeOffsetAlert:       s.AcknowledgedTimeOffsetAlert,
		PodState:                          s.Pod.Clone(),
		TimeZone:                          s.TimeZone,
		BasalSchedule:                     s.BasalSchedule.Clone(),
		InsulinType:                       s.InsulinType,
		ControllerID:                      &controller,
		PodID:                             &podID,
		ConfirmationBeeps:                 s.ConfirmationBeeps,
		ScheduledExpirationReminderOffset: s.ScheduledExpirationReminderOffset,
		DefaultExpirationReminderOffset:   s.DefaultExpirationReminderOffset,
		LowReservoirReminderValue:         s.LowReservoirReminderValue,
		UnstoredDoses:                     s.Ledger.Entries(),
		PendingCommand:                    s.Pending.Pending(),
		ActiveAlerts:                      s.Alerts.Active(),
		AlertsWithPendingAcknowledgment:   s.Alerts.PendingAcknowledgment(),
		NextSequence:                      s.NextSequence,
		Recovery:                          cloneMarker(s.Recovery),
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	cp := *s
	cp.Pod = s.Pod.Clone()
	cp.BasalSchedule = s.BasalSchedule.Clone()
	cp.Ledger = s.Ledger.Clone()
	cp.Alerts = s.Alerts.Clone()
	cp.Pending = s.Pending.Clone()
	cp.Lanes = s.Lanes.Clone()
	cp.Recovery = cloneMarker(s.Recovery)
	if s.ScheduledExpirationReminderOffset != nil {
		v := *s.ScheduledExpirationReminderOffset
		cp.ScheduledExpirationReminderOffset = &v
	}
	return &cp
}

func cloneMarker(m *persistence.RecoveryMarker) *persistence.RecoveryMarker {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Command != nil {
		c := *m.Command
		cp.Command = &c
	}
	return &cp
}

// Location returns the pump time zone.
func (s *State) Location() *time.Location {
	return time.FixedZone("", s.TimeZone)
}

// BeepPreference returns the confirmation beep policy.
func (s *State) BeepPreference() pod.BeepPreference {
	return pod.BeepPreferenceFromConfirmationBeeps(s.ConfirmationBeeps)
}

// HasActivePod reports whether a paired pod is delivering.
func (s *State) HasActivePod() bool {
	return s.Pod.IsActive()
}

// HasSetupPod reports whether the pod finished setup.
func (s *State) HasSetupPod() bool {
	return s.Pod.IsSetupComplete()
}

// IsFaulted reports whether the pod reported a fault.
func (s *State) IsFaulted() bool {
	return s.Pod.IsFaulted()
}

// IsAbandoned reports whether the user abandoned the current pod.
func (s *State) IsAbandoned() bool {
	return s.Recovery != nil && s.Recovery.Abandoned
}

// ReservoirLevel returns the last reported reservoir level.
func (s *State) ReservoirLevel() (float64, bool) {
	if s.Pod == nil || s.Pod.ReservoirLevel == nil {
		return 0, false
	}
	return *s.Pod.ReservoirLevel, true
}

// IsPumpDataStale reports whether the last status is older than
// StaleTolerance at now.
func (s *State) IsPumpDataStale(now time.Time) bool {
	if s.Pod == nil || s.Pod.LastStatusAt.IsZero() {
		return true
	}
	return now.Sub(s.Pod.LastStatusAt) > StaleTolerance
}

// ScheduledBasalRate returns the scheduled basal rate at t.
func (s *State) ScheduledBasalRate(t time.Time) float64 {
	return s.BasalSchedule.RateAt(t, s.Location())
}
