// Package transport defines the contract between the command engine and the
// link to the pod.
//
// The link itself (radio, framing, encryption) lives outside this module.
// The engine only needs three exchanges:
//
//	┌──────────────┬──────────────────────────────────────────┐
//	│ Send         │ ack, nack (*RejectedError) or no answer  │
//	├──────────────┼──────────────────────────────────────────┤
//	│ QueryStatus  │ delivery state, alerts, history snapshot │
//	├──────────────┼──────────────────────────────────────────┤
//	│ Pair         │ pod address and session keys             │
//	└──────────────┴──────────────────────────────────────────┘
//
// Any Send error other than a *RejectedError leaves the outcome unknown.
// The caller must treat the command as possibly executed.
package transport
