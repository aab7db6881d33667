// Package recovery drives resolution of commands whose outcome is unknown.
//
// When a command times out the engine cannot tell whether the pod executed
// it. The Controller repeatedly probes pod status until the outcome is
// known or the user abandons the pod:
//
//	IDLE ──Enter──▶ UNCERTAIN ──Resolve──▶ RESOLVED
//	                    │
//	                    └──Abandon──▶ ABANDONED
//
// Probes are spaced with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s, 32s
//  3. Maximum delay: 60 seconds
//  4. Continue at 60s until resolved
//
// There is no timeout to failure. A command stays uncertain until a status
// answer settles it or Abandon is called.
package recovery
