package pod

import "time"

// Defaults carried over from the pod's reminder configuration.
const (
	DefaultExpirationReminderOffset = 2 * time.Hour
	DefaultLowReservoirReminder     = 10.0

	// Lifetime is the nominal pod wear time.
	Lifetime = 72 * time.Hour
)

// Fault describes a pod fault condition reported by status.
type Fault struct {
	Code       uint8     `json:"code"`
	Message    string    `json:"message,omitempty"`
	ReportedAt time.Time `json:"reportedAt"`
}

// PodState is the per-pod session blob. Beyond the address and activity
// fields the engine treats it as opaque.
type PodState struct {
	Address             uint32    `json:"address"`
	ActivatedAt         time.Time `json:"activatedAt,omitzero"`
	SetupComplete       bool      `json:"setupComplete"`
	Active              bool      `json:"active"`
	Suspended           bool      `json:"suspended,omitempty"`
	ReservoirLevel      *float64  `json:"reservoirLevel,omitempty"`
	LastStatusAt        time.Time `json:"lastStatusAt,omitzero"`
	LastProgramSequence uint32    `json:"lastProgramSequence,omitempty"`
	Fault               *Fault    `json:"fault,omitempty"`
	SessionKeys         []byte    `json:"sessionKeys,omitempty"`
}

// Clone returns a deep copy.
func (p *PodState) Clone() *PodState {
	if p == nil {
		return nil
	}
	cp := *p
	if p.ReservoirLevel != nil {
		v := *p.ReservoirLevel
		cp.ReservoirLevel = &v
	}
	if p.Fault != nil {
		f := *p.Fault
		cp.Fault = &f
	}
	if p.SessionKeys != nil {
		cp.SessionKeys = append([]byte(nil), p.SessionKeys...)
	}
	return &cp
}

// IsActive reports whether the pod is paired and delivering.
func (p *PodState) IsActive() bool {
	return p != nil && p.Active
}

// IsSetupComplete reports whether pairing and priming finished.
func (p *PodState) IsSetupComplete() bool {
	return p != nil && p.SetupComplete
}

// IsFaulted reports whether the pod reported a fault that was not cleared.
func (p *PodState) IsFaulted() bool {
	return p != nil && p.Fault != nil
}

// ExpiresAt returns the nominal expiration time, or zero if not activated.
func (p *PodState) ExpiresAt() time.Time {
	if p == nil || p.ActivatedAt.IsZero() {
		return time.Time{}
	}
	return p.ActivatedAt.Add(Lifetime)
}
