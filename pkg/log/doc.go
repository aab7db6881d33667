// Package log provides structured protocol logging for the pod engine.
//
// Protocol capture is separate from operational logging (slog). It records
// every command handed to the link, every status answer, state transitions
// and ledger decisions as a machine-readable trace that can be replayed
// when investigating a dosing question.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/lib/podcore/session.plog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
//   - Link: commands sent and their outcome (CommandEvent), status
//     answers (StatusEvent)
//   - Engine: lane, pending-command, recovery and pairing transitions
//     (StateChangeEvent)
//   - Ledger: dose recording and settlement (DoseEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with the .plog extension.
// "podctl log view" prints and filters them.
package log
