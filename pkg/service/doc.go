// Package service provides the pod command engine.
//
// PodService ties the lower-level components into one API:
//
//   - pumpstate.Aggregate holds the persisted pump state and notifies
//     observers after every change
//   - session.Owner serializes every use of the pod link
//   - the recorder writes each command ahead of sending it, in the same
//     update that moves its lane to engaging
//   - recovery.Controller probes pod status while a command's outcome is
//     unknown
//   - dose.Ledger reconciles acknowledged doses against pod history
//   - alert.Manager tracks active and unacknowledged alerts
//
// Example usage:
//
//	cfg := service.DefaultConfig()
//	cfg.Logger = slog.Default()
//
//	svc, err := service.New(link, persistence.NewFileStore(path), cfg)
//	if errors.Is(err, service.ErrMalformedPersistedState) {
//	    // svc is usable and reports no paired pod.
//	}
//	svc.Start(ctx)
//	defer svc.Close()
//
//	_, err = svc.Bolus(ctx, 2.5, false)
//	if errors.Is(err, service.ErrDeliveryUncertain) {
//	    // Recovery runs in the background; watch Snapshot().Pending.
//	}
//
// # Command Lifecycle
//
// A command is persisted as the pending command before it is handed to
// the link. An acknowledgment or rejection clears it. Any other link error
// marks it uncertain and leaves it in place; the recovery controller then
// queries status until the pod's last program sequence shows whether the
// command ran. Uncertainty is never given up automatically. Only Abandon
// drops an uncertain command, and the pod must then be replaced.
//
// # Status
//
// RefreshStatus queues behind any command. The background refresh uses
// TryRefreshStatus and skips a round while the link is busy.
package service
