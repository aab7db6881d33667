// Package podsim provides a simulated pod for tests and the interactive CLI.
//
// The simulated pod implements transport.Transport. It executes commands
// against an in-memory delivery model and reports status and history the
// way a real pod would:
//   - Boluses run at a fixed delivery rate
//   - Temp basals and basal programs run until their duration ends or a
//     cancel, suspend or new program stops them
//   - History records carry the program sequence of the command that
//     started them and are dropped once they age past the retention horizon
//   - Alerts and faults can be raised from the outside
//
// Failures are injected with FailNext. A dropped-before-execute failure
// loses the command; a dropped-after-execute failure runs it and loses the
// acknowledgment. Both surface as transport.ErrNoResponse.
//
// Time comes from Config.Now, so tests drive the pod with a Clock.
package podsim
