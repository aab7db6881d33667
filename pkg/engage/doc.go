// Package engage implements the per-operation engagement state machine.
//
// Each lane is one of:
//
//	STABLE       no command of this lane is in flight
//	ENGAGING     a command starting the lane's activity is in flight
//	DISENGAGING  a command stopping it is in flight, or an engaging command
//	             is being withdrawn before it was sent
//
// Allowed transitions:
//
//	STABLE -> ENGAGING -> STABLE                  success or nack
//	STABLE -> ENGAGING -> DISENGAGING -> STABLE   withdrawn before send
//	STABLE -> DISENGAGING -> STABLE               cancel/resume command
//
// Lanes are transient. They are never persisted; on restart they are derived
// from the pending command, which is the single source of truth.
package engage
