package alert

import (
	"maps"
	"slices"
)

// Code identifies an alert condition.
type Code string

// Known alert codes.
const (
	LowReservoir             Code = "lowReservoir"
	PodExpiring              Code = "podExpiring"
	PodExpireImminent        Code = "podExpireImminent"
	SuspendInProgress        Code = "suspendInProgress"
	SuspendEnded             Code = "suspendEnded"
	FinishSetupReminder      Code = "finishSetupReminder"
	TimeOffsetChangeDetected Code = "timeOffsetChangeDetected"
	UnexpectedAlert          Code = "unexpectedAlert"
)

// Known reports whether c is one of the codes above.
func (c Code) Known() bool {
	switch c {
	case LowReservoir, PodExpiring, PodExpireImminent, SuspendInProgress,
		SuspendEnded, FinishSetupReminder, TimeOffsetChangeDetected, UnexpectedAlert:
		return true
	default:
		return false
	}
}

// Change describes the effect of one report or acknowledgment.
type Change struct {
	// Raised are codes that became active.
	Raised []Code

	// Cleared are codes that left the active set.
	Cleared []Code

	// Acknowledged are codes removed from the pending set.
	Acknowledged []Code
}

// Empty reports whether nothing changed.
func (c Change) Empty() bool {
	return len(c.Raised) == 0 && len(c.Cleared) == 0 && len(c.Acknowledged) == 0
}

// Manager holds the active and pending-acknowledgment sets.
// It is not safe for concurrent use; the pump state aggregate owns it.
type Manager struct {
	active  map[Code]struct{}
	pending map[Code]struct{}
}

// NewManager creates a manager with empty sets.
func NewManager() *Manager {
	return Restore(nil, nil)
}

// Restore creates a manager from persisted sets.
func Restore(active, pending []Code) *Manager {
	m := &Manager{
		active:  make(map[Code]struct{}, len(active)),
		pending: make(map[Code]struct{}, len(pending)),
	}
	for _, c := range active {
		m.active[c] = struct{}{}
	}
	for _, c := range pending {
		m.pending[c] = struct{}{}
	}
	return m
}

// ApplyDeviceReport reconciles the sets with the codes the pod reports.
func (m *Manager) ApplyDeviceReport(reported []Code) Change {

	seen := make(map[Code]struct{}, len(reported))
	var change Change

	for _, c := range reported {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := m.active[c]; !ok {
			m.active[c] = struct{}{}
			m.pending[c] = struct{}{}
			change.Raised = append(change.Raised, c)
		}
	}

	for c := range m.active {
		if _, ok := seen[c]; !ok {
			delete(m.active, c)
			change.Cleared = append(change.Cleared, c)
		}
	}

	slices.Sort(change.Raised)
	slices.Sort(change.Cleared)
	return change
}

// Acknowledge removes code from the pending set whether or not it is active.
func (m *Manager) Acknowledge(code Code) Change {

	if _, ok := m.pending[code]; !ok {
		return Change{}
	}
	delete(m.pending, code)
	return Change{Acknowledged: []Code{code}}
}

// Clone returns an independent copy.
func (m *Manager) Clone() *Manager {
	return &Manager{
		active:  maps.Clone(m.active),
		pending: maps.Clone(m.pending),
	}
}

// Clear empties both sets. Used when the pod is replaced.
func (m *Manager) Clear() {
	clear(m.active)
	clear(m.pending)
}

// IsActive reports whether code is currently reported by the pod.
func (m *Manager) IsActive(code Code) bool {
	_, ok := m.active[code]
	return ok
}

// IsPending reports whether code awaits acknowledgment.
func (m *Manager) IsPending(code Code) bool {
	_, ok := m.pending[code]
	return ok
}

// Active returns the active codes, sorted.
func (m *Manager) Active() []Code {
	return sortedKeys(m.active)
}

// PendingAcknowledgment returns the codes awaiting acknowledgment, sorted.
func (m *Manager) PendingAcknowledgment() []Code {
	return sortedKeys(m.pending)
}

func sortedKeys(set map[Code]struct{}) []Code {
	out := make([]Code, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
