package ids

import (
	"errors"
	"fmt"
)

const (
	// NotActivated is the pod ID used before a pod has been paired.
	NotActivated uint32 = 0xFFFFFFFE

	// LegacyControllerID is the controller ID used by documents written
	// before identities were persisted.
	LegacyControllerID uint32 = 4242
)

// ErrInvalidControllerID is returned when the controller ID cannot form a
// valid session pair.
var ErrInvalidControllerID = errors.New("invalid controller ID")

// Identity is the controller/pod identifier pair for one pod session.
type Identity struct {
	ControllerID uint32 `json:"controllerId"`
	PodID        uint32 `json:"podId"`
}

// IsActivated reports whether the identity belongs to a paired pod.
func (id Identity) IsActivated() bool {
	return id.PodID != NotActivated
}

// Valid reports whether the pair is usable for a protocol exchange.
func (id Identity) Valid() bool {
	return id.ControllerID != id.PodID && id.ControllerID != NotActivated
}

// String returns the pair in the hex form used by pod diagnostics.
func (id Identity) String() string {
	return fmt.Sprintf("%08X/%08X", id.ControllerID, id.PodID)
}

// Allocator derives identities for a fixed controller ID.
type Allocator struct {
	controllerID uint32
}

// NewAllocator creates an allocator for the given controller ID.
func NewAllocator(controllerID uint32) (*Allocator, error) {
	if controllerID == NotActivated {
		return nil, fmt.Errorf("%w: %08X is reserved", ErrInvalidControllerID, controllerID)
	}
	return &Allocator{controllerID: controllerID}, nil
}

// ControllerID returns the configured controller ID.
func (a *Allocator) ControllerID() uint32 {
	return a.controllerID
}

// Allocate returns the identity for a pod with the given address.
// A nil address yields the not-activated identity.
func (a *Allocator) Allocate(address *uint32) Identity {
	if address == nil {
		return Identity{ControllerID: a.controllerID, PodID: NotActivated}
	}
	return Identity{ControllerID: a.controllerID, PodID: a.increment(*address)}
}

// increment returns the first value after id that is neither the controller
// ID nor the sentinel. At most two values are skipped.
func (a *Allocator) increment(id uint32) uint32 {
	candidate := id + 1
	for candidate == a.controllerID || candidate == NotActivated {
		candidate++
	}
	return candidate
}

// Legacy rebuilds the identity of a pod paired before identities were
// persisted: the legacy controller ID and the raw pod address. A collision
// falls back to the allocator derivation.
func (a *Allocator) Legacy(address uint32) Identity {
	id := Identity{ControllerID: LegacyControllerID, PodID: address}
	if id.Valid() && id.PodID != NotActivated {
		return id
	}
	legacy := &Allocator{controllerID: LegacyControllerID}
	return legacy.Allocate(&address)
}
