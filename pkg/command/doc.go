// Package command defines pod commands and the durable record of a command
// whose outcome is not yet known.
//
// # Write-Ahead Intent
//
// A PendingCommand is created before the command is handed to the transport,
// so a crash during or after the send always leaves a trace. The record is
// cleared only by a definitive ack or nack. A timeout or disconnect marks it
// uncertain instead; uncertain records are resolved by querying pod status.
//
// # Single Slot
//
// At most one command is outstanding. Slot enforces this: Begin fails with
// ErrAlreadyPending while a record exists.
package command
