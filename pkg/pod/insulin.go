package pod

import "fmt"

// InsulinType is the insulin formulation in the pod.
type InsulinType int

// Insulin types, in the persisted numeric order.
const (
	InsulinNovolog InsulinType = iota
	InsulinHumalog
	InsulinApidra
	InsulinFiasp
	InsulinLyumjev
	InsulinAfrezza
)

// String returns the brand name.
func (t InsulinType) String() string {
	switch t {
	case InsulinNovolog:
		return "Novolog"
	case InsulinHumalog:
		return "Humalog"
	case InsulinApidra:
		return "Apidra"
	case InsulinFiasp:
		return "Fiasp"
	case InsulinLyumjev:
		return "Lyumjev"
	case InsulinAfrezza:
		return "Afrezza"
	default:
		return fmt.Sprintf("InsulinType(%d)", int(t))
	}
}

// Valid reports whether t is a known type.
func (t InsulinType) Valid() bool {
	return t >= InsulinNovolog && t <= InsulinAfrezza
}

// BeepPreference selects which commands request a confirmation beep.
type BeepPreference int

const (
	// BeepSilent never beeps.
	BeepSilent BeepPreference = iota

	// BeepManualCommands beeps for user-initiated commands.
	BeepManualCommands

	// BeepExtended also beeps for automatic boluses.
	BeepExtended
)

// BeepPreferenceFromConfirmationBeeps maps the persisted boolean to a
// preference.
func BeepPreferenceFromConfirmationBeeps(enabled bool) BeepPreference {
	if enabled {
		return BeepManualCommands
	}
	return BeepSilent
}

// String returns the preference name.
func (b BeepPreference) String() string {
	switch b {
	case BeepSilent:
		return "silent"
	case BeepManualCommands:
		return "manualCommands"
	case BeepExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// ShouldBeepForManualCommand reports whether user commands beep.
func (b BeepPreference) ShouldBeepForManualCommand() bool {
	return b == BeepManualCommands || b == BeepExtended
}

// ShouldBeepForAutomaticBolus reports whether automatic boluses beep.
func (b BeepPreference) ShouldBeepForAutomaticBolus() bool {
	return b == BeepExtended
}
