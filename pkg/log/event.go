package log

import (
	"time"

	"github.com/loopwire/podcore/pkg/command"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies one engine run (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow relative to the controller.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// ControllerID and PodID identify the session pair.
	ControllerID uint32 `cbor:"6,keyasint,omitempty"`
	PodID        uint32 `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Command     *CommandEvent     `cbor:"10,keyasint,omitempty"`
	Status      *StatusEvent      `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Dose        *DoseEvent        `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates data received from the pod.
	DirectionIn Direction = 0
	// DirectionOut indicates data sent to the pod.
	DirectionOut Direction = 1
	// DirectionLocal indicates an event that involved no exchange.
	DirectionLocal Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerLink is the boundary to the pod link.
	LayerLink Layer = 0
	// LayerEngine is the command engine.
	LayerEngine Layer = 1
	// LayerLedger is the dose ledger.
	LayerLedger Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerLink:
		return "LINK"
	case LayerEngine:
		return "ENGINE"
	case LayerLedger:
		return "LEDGER"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryCommand indicates a command submission or outcome.
	CategoryCommand Category = 0
	// CategoryStatus indicates a status answer.
	CategoryStatus Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryDose indicates a ledger event.
	CategoryDose Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryCommand:
		return "COMMAND"
	case CategoryStatus:
		return "STATUS"
	case CategoryState:
		return "STATE"
	case CategoryDose:
		return "DOSE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// CommandPhase distinguishes the submission of a command from its outcome.
type CommandPhase uint8

const (
	// PhaseSubmitted is logged after the pending command is persisted.
	PhaseSubmitted CommandPhase = 0
	// PhaseOutcome is logged when the link returns.
	PhaseOutcome CommandPhase = 1
)

// String returns the phase name.
func (p CommandPhase) String() string {
	switch p {
	case PhaseSubmitted:
		return "SUBMITTED"
	case PhaseOutcome:
		return "OUTCOME"
	default:
		return "UNKNOWN"
	}
}

// CommandEvent captures one command.
type CommandEvent struct {
	CommandID   string           `cbor:"1,keyasint"`
	Sequence    uint32           `cbor:"2,keyasint"`
	Kind        command.Kind     `cbor:"3,keyasint"`
	Phase       CommandPhase     `cbor:"4,keyasint"`
	Payload     *command.Payload `cbor:"5,keyasint,omitempty"`
	Fingerprint string           `cbor:"6,keyasint,omitempty"`

	// Outcome is ack, nack, timeout or withdrawn (outcome phase only).
	Outcome string `cbor:"7,keyasint,omitempty"`

	// Reason carries the rejection reason or link error.
	Reason string `cbor:"8,keyasint,omitempty"`

	// Elapsed is the time spent in the link. Stored as nanoseconds.
	Elapsed *time.Duration `cbor:"9,keyasint,omitempty"`
}

// StatusEvent captures a status answer.
type StatusEvent struct {
	LastProgramSequence uint32   `cbor:"1,keyasint"`
	Suspended           bool     `cbor:"2,keyasint,omitempty"`
	Reservoir           *float64 `cbor:"3,keyasint,omitempty"`
	Alerts              []string `cbor:"4,keyasint,omitempty"`
	FaultCode           *uint8   `cbor:"5,keyasint,omitempty"`
	HistoryRecords      int      `cbor:"6,keyasint,omitempty"`

	// Trigger names what asked for the status (refresh, recovery).
	Trigger string `cbor:"7,keyasint,omitempty"`
}

// StateChangeEvent captures engine state transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityLane indicates an engagement lane change.
	StateEntityLane StateEntity = 0
	// StateEntityPending indicates a pending-command change.
	StateEntityPending StateEntity = 1
	// StateEntityRecovery indicates a recovery state change.
	StateEntityRecovery StateEntity = 2
	// StateEntityPairing indicates a pairing or identity change.
	StateEntityPairing StateEntity = 3
	// StateEntityAlert indicates an alert set change.
	StateEntityAlert StateEntity = 4
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityLane:
		return "LANE"
	case StateEntityPending:
		return "PENDING"
	case StateEntityRecovery:
		return "RECOVERY"
	case StateEntityPairing:
		return "PAIRING"
	case StateEntityAlert:
		return "ALERT"
	default:
		return "UNKNOWN"
	}
}

// DoseAction is what happened to a ledger entry.
type DoseAction uint8

const (
	DoseRecorded  DoseAction = 0
	DoseTruncated DoseAction = 1
	DoseFinalized DoseAction = 2
	DoseDiscarded DoseAction = 3
	DoseEstimated DoseAction = 4
	DoseReported  DoseAction = 5
)

// String returns the action name.
func (a DoseAction) String() string {
	switch a {
	case DoseRecorded:
		return "RECORDED"
	case DoseTruncated:
		return "TRUNCATED"
	case DoseFinalized:
		return "FINALIZED"
	case DoseDiscarded:
		return "DISCARDED"
	case DoseEstimated:
		return "ESTIMATED"
	case DoseReported:
		return "REPORTED"
	default:
		return "UNKNOWN"
	}
}

// DoseEvent captures a ledger decision.
type DoseEvent struct {
	DoseID    string     `cbor:"1,keyasint"`
	Kind      string     `cbor:"2,keyasint"`
	Sequence  uint32     `cbor:"3,keyasint,omitempty"`
	Action    DoseAction `cbor:"4,keyasint"`
	Units     float64    `cbor:"5,keyasint,omitempty"`
	Rate      float64    `cbor:"6,keyasint,omitempty"`
	Delivered float64    `cbor:"7,keyasint,omitempty"`
	Estimated bool       `cbor:"8,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
