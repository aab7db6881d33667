// Package pumpstate holds the pump state aggregate.
//
// Every mutation goes through Aggregate.Update: the current state is
// cloned, the change is applied to the clone, the clone is persisted, and
// only then does it replace the current state. A failed persist leaves the
// aggregate untouched. Observers receive a full snapshot after each
// successful update, in registration order, before the next update's
// notifications.
package pumpstate
