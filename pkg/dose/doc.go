// Package dose keeps the provisional dose ledger.
//
// Acknowledged dose-affecting commands create open entries. Device history
// snapshots confirm, discard or close them; once settled an entry is handed
// to the history collaborator exactly once and later compacted away.
//
// The ledger is not safe for concurrent use. The pump state aggregate owns
// it and mutates clones under its own lock.
package dose
