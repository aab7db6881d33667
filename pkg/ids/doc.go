// Package ids allocates the controller/pod identifier pair used to address
// protocol exchanges with a pod.
//
// # Identity Rules
//
//   - The controller ID is configuration, injected into the Allocator.
//   - Before pairing, the pod ID is the NotActivated sentinel.
//   - After pairing, the pod ID is derived from the pod's physical address by
//     incrementing it. If the increment lands on the controller ID or on the
//     sentinel, the next value is tried, deterministically.
//   - The controller ID and the pod ID are never equal.
//
// An identity is fixed from the moment a pairing attempt starts until the pod
// is deactivated or replaced. Allocate is a pure function; callers persist the
// result and reuse it instead of re-deriving it each session.
package ids
