package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loopwire/podcore/pkg/alert"
	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/pod"
)

// Link errors.
var (
	// ErrRejected is matched by every *RejectedError.
	ErrRejected = errors.New("pod rejected command")

	// ErrNoResponse means the pod did not answer in time.
	ErrNoResponse = errors.New("no response from pod")

	// ErrDisconnected means the link dropped during the exchange.
	ErrDisconnected = errors.New("link disconnected")
)

// RejectedError is a definitive refusal. The pod did not execute the command.
type RejectedError struct {
	Code   uint8
	Reason string
}

// Error implements error.
func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("pod rejected command (code %d)", e.Code)
	}
	return fmt.Sprintf("pod rejected command: %s (code %d)", e.Reason, e.Code)
}

// Is matches ErrRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// IsRejected reports whether err is a definitive refusal.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Command is one command as handed to the link.
type Command struct {
	ID       uuid.UUID
	Sequence uint32
	Identity ids.Identity
	Kind     command.Kind
	Payload  command.Payload
}

// Response is the acknowledgment of a command.
type Response struct {
	// AckedAt is the pod's time of execution. Zero means unknown.
	AckedAt time.Time
}

// Status is a status snapshot reported by the pod.
type Status struct {
	TakenAt             time.Time
	Active              bool
	Suspended           bool
	BolusRunning        bool
	TempBasalRunning    bool
	Reservoir           *float64
	Alerts              []alert.Code
	Fault               *pod.Fault
	LastProgramSequence uint32
	History             dose.HistorySnapshot
}

// PairResult is the outcome of a successful pairing.
type PairResult struct {
	Address     uint32
	SessionKeys []byte
	ActivatedAt time.Time
}

// Transport is the link to one pod. Implementations need not be safe for
// concurrent use; the engine serializes every call.
type Transport interface {
	// Send hands a command to the pod. A nil error is an ack.
	Send(ctx context.Context, cmd Command) (Response, error)

	// QueryStatus reads the pod status and recent history.
	QueryStatus(ctx context.Context, id ids.Identity) (Status, error)

	// Pair pairs a new pod using the given identity.
	Pair(ctx context.Context, id ids.Identity) (PairResult, error)
}
