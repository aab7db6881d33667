package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/engage"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/log"
	"github.com/loopwire/podcore/pkg/persistence"
	"github.com/loopwire/podcore/pkg/recovery"
	"github.com/loopwire/podcore/pkg/transport"
)

// Service errors.
var (
	ErrAlreadyStarted = errors.New("service already started")
	ErrNotStarted     = errors.New("service not started")
	ErrClosed         = errors.New("service closed")

	// ErrAlreadyPending means another command is outstanding.
	ErrAlreadyPending = command.ErrAlreadyPending

	// ErrOperationInProgress means the command's lane is busy.
	ErrOperationInProgress = engage.ErrOperationInProgress

	// ErrCommunicationTimeout means the pod did not answer. The command is
	// uncertain, not failed.
	ErrCommunicationTimeout = errors.New("communication timeout")

	// ErrDeliveryUncertain means the command may or may not have run.
	ErrDeliveryUncertain = errors.New("delivery uncertain")

	// ErrDeviceRejected means the pod refused the command.
	ErrDeviceRejected = transport.ErrRejected

	// ErrDeviceFaulted blocks dosing until the fault is cleared or the pod
	// is replaced.
	ErrDeviceFaulted = errors.New("pod faulted")

	// ErrMalformedPersistedState means the stored state could not be loaded.
	ErrMalformedPersistedState = persistence.ErrMalformedPersistedState

	// ErrInvariantViolation means an update would break a state invariant.
	ErrInvariantViolation = errors.New("invariant violation")

	ErrNotPaired       = errors.New("no active pod")
	ErrPodActive       = errors.New("a pod is already active")
	ErrNotUncertain    = recovery.ErrNotUncertain
	ErrAlertNotPending = errors.New("alert not pending")
	ErrInvalidRequest  = errors.New("invalid request")
)

// UncertainError is returned when a command's outcome is unknown. It
// matches ErrDeliveryUncertain and ErrCommunicationTimeout.
type UncertainError struct {
	Command command.PendingCommand
	Err     error
}

// Error implements error.
func (e *UncertainError) Error() string {
	return fmt.Sprintf("%s: delivery uncertain: %v", e.Command.String(), e.Err)
}

// Unwrap returns the classification errors and the link error.
func (e *UncertainError) Unwrap() []error {
	return []error{ErrDeliveryUncertain, ErrCommunicationTimeout, e.Err}
}

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateRunning - background loops are running.
	StateRunning

	// StateStopped - service has been closed.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a PodService.
type Config struct {
	// ControllerID is this controller's half of every session pair.
	ControllerID uint32 `yaml:"controllerId"`

	// RefreshInterval is the period of the background status refresh.
	// Zero disables it.
	RefreshInterval time.Duration `yaml:"refreshInterval"`

	// StaleTolerance is how old status may be before pump data is stale.
	StaleTolerance time.Duration `yaml:"staleTolerance"`

	// RecoveryBackoff is the probe cadence while a command is uncertain.
	RecoveryBackoff recovery.BackoffConfig `yaml:"recoveryBackoff"`

	// ProbeTimeout bounds one background recovery probe.
	ProbeTimeout time.Duration `yaml:"probeTimeout"`

	// BolusDeliveryRate is the pod's bolus rate in U/s.
	BolusDeliveryRate float64 `yaml:"bolusDeliveryRate"`

	// HistoryRetention is how long reported doses stay in the ledger.
	HistoryRetention time.Duration `yaml:"historyRetention"`

	// StrictInvariants panics on an invariant violation instead of
	// rejecting the update. Meant for development builds and tests.
	StrictInvariants bool `yaml:"strictInvariants"`

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger `yaml:"-"`

	// ProtocolLogger receives command, status and ledger events. Nil
	// disables protocol logging.
	ProtocolLogger log.Logger `yaml:"-"`

	// Registerer receives the metrics collectors. Nil uses a private
	// registry.
	Registerer prometheus.Registerer `yaml:"-"`

	// HistoryReporter receives settled doses. Nil drops them after they
	// settle.
	HistoryReporter dose.HistoryReporter `yaml:"-"`

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time `yaml:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ControllerID:      ids.LegacyControllerID,
		RefreshInterval:   3 * time.Minute,
		StaleTolerance:    6 * time.Minute,
		RecoveryBackoff:   recovery.DefaultBackoffConfig(),
		ProbeTimeout:      30 * time.Second,
		BolusDeliveryRate: 0.025,
		HistoryRetention:  24 * time.Hour,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.ControllerID == ids.NotActivated:
		return fmt.Errorf("%w: controller ID %08X is reserved", ids.ErrInvalidControllerID, c.ControllerID)
	case c.BolusDeliveryRate <= 0:
		return errors.New("bolus delivery rate must be positive")
	case c.RefreshInterval < 0, c.StaleTolerance < 0, c.HistoryRetention < 0, c.ProbeTimeout < 0:
		return errors.New("durations must not be negative")
	}
	return nil
}
