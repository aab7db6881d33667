package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loopwire/podcore/pkg/alert"
	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/pod"
)

// CurrentVersion is the document version written by Encode.
const CurrentVersion = 2

// ErrMalformedPersistedState is returned when a document cannot be loaded.
var ErrMalformedPersistedState = errors.New("malformed persisted state")

// RecoveryMarker records that the user abandoned an uncertain command. The
// pod's remaining state is discarded on the next pairing.
type RecoveryMarker struct {
	Abandoned   bool                    `json:"abandoned"`
	AbandonedAt time.Time               `json:"abandonedAt,omitzero"`
	Command     *command.PendingCommand `json:"command,omitempty"`
}

// Document is the persisted pump state.
type Document struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt,omitzero"`

	IsOnboarded                   bool `json:"isOnboarded"`
	InitialConfigurationCompleted bool `json:"initialConfigurationCompleted"`
	PodAttachmentConfirmed        bool `json:"podAttachmentConfirmed,omitempty"`
	AcknowledgedTimeOffsetAlert   bool `json:"acknowledgedTimeOffsetAlert,omitempty"`

	PodState      *pod.PodState     `json:"podState,omitempty"`
	TimeZone      int               `json:"timeZone"`
	BasalSchedule pod.BasalSchedule `json:"basalSchedule"`
	InsulinType   pod.InsulinType   `json:"insulinType"`

	// ControllerID and PodID are nil in documents written before
	// identities were persisted.
	ControllerID *uint32 `json:"controllerId,omitempty"`
	PodID        *uint32 `json:"podId,omitempty"`

	ConfirmationBeeps                 bool           `json:"confirmationBeeps"`
	ScheduledExpirationReminderOffset *time.Duration `json:"scheduledExpirationReminderOffset,omitempty"`
	DefaultExpirationReminderOffset   time.Duration  `json:"defaultExpirationReminderOffset"`
	LowReservoirReminderValue         float64        `json:"lowReservoirReminderValue"`

	UnstoredDoses                   []dose.UnfinalizedDose  `json:"unstoredDoses,omitempty"`
	PendingCommand                  *command.PendingCommand `json:"pendingCommand,omitempty"`
	ActiveAlerts                    []alert.Code            `json:"activeAlerts,omitempty"`
	AlertsWithPendingAcknowledgment []alert.Code            `json:"alertsWithPendingAcknowledgment,omitempty"`

	NextSequence uint32          `json:"nextSequence,omitempty"`
	Recovery     *RecoveryMarker `json:"recovery,omitempty"`
}

// TimeZoneLocation returns the document time zone as a fixed location.
func (d *Document) TimeZoneLocation() *time.Location {
	return time.FixedZone("", d.TimeZone)
}

// Encode serializes doc at CurrentVersion.
func Encode(doc *Document) ([]byte, error) {
	out := *doc
	out.Version = CurrentVersion
	if out.SavedAt.IsZero() {
		out.SavedAt = time.Now()
	}
	return json.MarshalIndent(&out, "", "  ")
}

// Decode parses, migrates and validates a document.
func Decode(data []byte) (*Document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPersistedState, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedPersistedState)
	}

	version, err := versionOf(raw)
	if err != nil {
		return nil, err
	}
	if raw, err = Migrate(raw, version); err != nil {
		return nil, err
	}
	applyDefaults(raw)

	if _, ok := raw["basalSchedule"]; !ok {
		return nil, fmt.Errorf("%w: missing basalSchedule", ErrMalformedPersistedState)
	}

	// Round-trip the normalized map into the typed document.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPersistedState, err)
	}
	doc := &Document{}
	if err := json.NewDecoder(bytes.NewReader(normalized)).Decode(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPersistedState, err)
	}
	doc.Version = CurrentVersion

	if err := validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func versionOf(raw map[string]json.RawMessage) (int, error) {
	v, ok := raw["version"]
	if !ok {
		return 0, fmt.Errorf("%w: missing version", ErrMalformedPersistedState)
	}
	var version int
	if err := json.Unmarshal(v, &version); err != nil {
		return 0, fmt.Errorf("%w: version: %v", ErrMalformedPersistedState, err)
	}
	if version < 1 || version > CurrentVersion {
		return 0, fmt.Errorf("%w: unknown version %d", ErrMalformedPersistedState, version)
	}
	return version, nil
}

// applyDefaults fills keys that older writers did not emit.
func applyDefaults(raw map[string]json.RawMessage) {
	setDefault := func(key string, value any) {
		if _, ok := raw[key]; ok {
			return
		}
		b, _ := json.Marshal(value)
		raw[key] = b
	}

	if _, ok := raw["confirmationBeeps"]; !ok {
		if legacy, ok := raw["bolusBeeps"]; ok {
			raw["confirmationBeeps"] = legacy
		}
	}
	delete(raw, "bolusBeeps")

	setDefault("isOnboarded", true)
	setDefault("initialConfigurationCompleted", true)
	setDefault("confirmationBeeps", false)
	setDefault("insulinType", pod.InsulinNovolog)
	setDefault("defaultExpirationReminderOffset", pod.DefaultExpirationReminderOffset)
	setDefault("lowReservoirReminderValue", pod.DefaultLowReservoirReminder)
	setDefault("timeZone", 0)
}

func validate(doc *Document) error {
	if len(doc.BasalSchedule.Entries) > 0 {
		if err := doc.BasalSchedule.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPersistedState, err)
		}
	}
	if !doc.InsulinType.Valid() {
		return fmt.Errorf("%w: insulin type %d", ErrMalformedPersistedState, doc.InsulinType)
	}
	if (doc.ControllerID == nil) != (doc.PodID == nil) {
		return fmt.Errorf("%w: partial identity", ErrMalformedPersistedState)
	}
	if doc.ControllerID != nil && *doc.ControllerID == ids.NotActivated {
		return fmt.Errorf("%w: controller ID is the unpaired sentinel", ErrMalformedPersistedState)
	}
	if doc.ControllerID != nil && *doc.ControllerID == *doc.PodID {
		return fmt.Errorf("%w: pod ID equals controller ID", ErrMalformedPersistedState)
	}
	if p := doc.PendingCommand; p != nil && !p.Kind.Valid() {
		return fmt.Errorf("%w: pending command kind %q", ErrMalformedPersistedState, p.Kind)
	}
	for _, d := range doc.UnstoredDoses {
		if !d.Kind.Valid() {
			return fmt.Errorf("%w: dose kind %q", ErrMalformedPersistedState, d.Kind)
		}
	}
	return nil
}
