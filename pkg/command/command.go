package command

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/loopwire/podcore/pkg/alert"
	"github.com/loopwire/podcore/pkg/pod"
)

// Kind identifies a pod command.
type Kind string

// Command kinds.
const (
	KindProgramBasal     Kind = "programBasal"
	KindProgramTempBasal Kind = "programTempBasal"
	KindBolus            Kind = "bolus"
	KindSuspend          Kind = "suspend"
	KindResume           Kind = "resume"
	KindCancel           Kind = "cancel"
	KindAcknowledgeAlert Kind = "acknowledgeAlert"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindProgramBasal, KindProgramTempBasal, KindBolus, KindSuspend,
		KindResume, KindCancel, KindAcknowledgeAlert:
		return true
	default:
		return false
	}
}

// Lane identifies the engagement lane a command occupies.
type Lane uint8

const (
	// LaneNone is used by commands that are not tracked by a lane.
	LaneNone Lane = iota

	// LaneSuspend covers suspend and resume.
	LaneSuspend

	// LaneBolus covers bolus and bolus cancel.
	LaneBolus

	// LaneTempBasal covers temp basal and temp basal cancel.
	LaneTempBasal
)

// Lanes lists the tracked lanes in display order.
var Lanes = []Lane{LaneSuspend, LaneBolus, LaneTempBasal}

// String returns the lane name.
func (l Lane) String() string {
	switch l {
	case LaneNone:
		return "none"
	case LaneSuspend:
		return "suspend"
	case LaneBolus:
		return "bolus"
	case LaneTempBasal:
		return "tempBasal"
	default:
		return "unknown"
	}
}

// Direction says whether a command starts or stops the activity of its lane.
type Direction uint8

const (
	// Engage starts the lane's activity (bolus, temp basal, suspend).
	Engage Direction = iota

	// Disengage stops it (cancel, resume).
	Disengage
)

// Payload carries the parameters of a command. Fields not used by a kind are
// left zero.
type Payload struct {
	// Units is the bolus volume in units.
	Units float64 `json:"units,omitempty" cbor:"1,keyasint,omitempty"`

	// Rate is the basal or temp basal rate in units per hour.
	Rate float64 `json:"rate,omitempty" cbor:"2,keyasint,omitempty"`

	// Duration is the temp basal or basal segment duration.
	Duration time.Duration `json:"duration,omitempty" cbor:"3,keyasint,omitempty"`

	// Target is the kind a cancel command stops.
	Target Kind `json:"target,omitempty" cbor:"4,keyasint,omitempty"`

	// Alerts are the codes an acknowledge-alert command silences.
	Alerts []alert.Code `json:"alerts,omitempty" cbor:"5,keyasint,omitempty"`

	// Automatic marks commands issued by the dosing algorithm.
	Automatic bool `json:"automatic,omitempty" cbor:"6,keyasint,omitempty"`

	// Beep requests a confirmation beep from the pod.
	Beep bool `json:"beep,omitempty" cbor:"7,keyasint,omitempty"`

	// Schedule is the basal schedule a program-basal command installs.
	// Rate then holds the rate of the segment running at submission.
	Schedule []pod.BasalEntry `json:"schedule,omitempty" cbor:"8,keyasint,omitempty"`
}

// LaneOf returns the lane and direction of a command.
func LaneOf(kind Kind, p Payload) (Lane, Direction) {
	switch kind {
	case KindBolus:
		return LaneBolus, Engage
	case KindProgramTempBasal:
		return LaneTempBasal, Engage
	case KindSuspend:
		return LaneSuspend, Engage
	case KindResume:
		return LaneSuspend, Disengage
	case KindCancel:
		switch p.Target {
		case KindBolus:
			return LaneBolus, Disengage
		case KindProgramTempBasal:
			return LaneTempBasal, Disengage
		}
	}
	return LaneNone, Engage
}

// AffectsDelivery reports whether an ack of this kind changes insulin
// delivery and therefore touches the dose ledger.
func AffectsDelivery(kind Kind) bool {
	switch kind {
	case KindProgramBasal, KindProgramTempBasal, KindBolus, KindSuspend, KindResume, KindCancel:
		return true
	default:
		return false
	}
}

// IsDosing reports whether the kind starts insulin delivery. Dosing commands
// are refused while the pod is faulted.
func IsDosing(kind Kind) bool {
	switch kind {
	case KindProgramBasal, KindProgramTempBasal, KindBolus, KindResume:
		return true
	default:
		return false
	}
}

// fingerprintMode encodes payloads canonically so equal commands hash equally.
var fingerprintMode cbor.EncMode

func init() {
	var err error
	fingerprintMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create fingerprint CBOR encoder mode: %v", err))
	}
}

// Fingerprint returns a short stable digest of kind and payload, used to
// correlate log lines for the same command across restarts.
func Fingerprint(kind Kind, p Payload) string {
	data, err := fingerprintMode.Marshal(struct {
		Kind    Kind    `cbor:"1,keyasint"`
		Payload Payload `cbor:"2,keyasint"`
	}{kind, p})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}
