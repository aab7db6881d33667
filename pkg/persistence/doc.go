// Package persistence stores the pump state document.
//
// The document is a versioned JSON object. Load-time migrations bring older
// versions up to CurrentVersion before decoding; a document that cannot be
// migrated or decoded is reported as ErrMalformedPersistedState and the
// caller must start from a fresh, not-activated state.
//
// Stores only move bytes. FileStore writes a JSON state file atomically,
// BoltStore keeps the document and the reported dose history in a bbolt
// database, and MemoryStore is used by tests and dry runs.
package persistence
