// Package alert tracks the lifecycle of pod-raised alert conditions.
//
// Two sets are maintained independently:
//
//   - Active: conditions the pod is currently reporting.
//   - PendingAcknowledgment: conditions the user has not acknowledged yet.
//
// A newly reported code enters both sets. When the pod stops reporting a code
// it leaves Active only; it stays pending until the user acknowledges it, so a
// transient condition that cleared on its own is still presented. Reporting a
// code again after it left Active re-adds it to both sets.
package alert
