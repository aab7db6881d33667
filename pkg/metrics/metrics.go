// Package metrics exposes Prometheus collectors for the command engine.
//
// All collectors are registered on the registerer passed to New. A nil
// registerer uses a private registry so several engines can coexist in one
// process (and in tests).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "podcore"

// Metrics holds the engine's collectors.
type Metrics struct {
	// CommandsTotal counts command outcomes.
	// Labels: kind, outcome (ack, nack, timeout, withdrawn, abandoned)
	CommandsTotal *prometheus.CounterVec

	// PendingUncertain is 1 while a command's outcome is unknown.
	PendingUncertain prometheus.Gauge

	// RecoveryAttemptsTotal counts recovery probes.
	// Labels: result (resolved, unresolved, error)
	RecoveryAttemptsTotal *prometheus.CounterVec

	// LedgerEntries tracks ledger size by status.
	LedgerEntries *prometheus.GaugeVec

	// DosesSettledTotal counts settled ledger entries.
	// Labels: result (finalized, discarded, estimated)
	DosesSettledTotal *prometheus.CounterVec

	// UnitsReportedTotal sums delivered units handed to the history sink.
	// Labels: source (confirmed, estimated)
	UnitsReportedTotal *prometheus.CounterVec

	// Alerts tracks alert set sizes.
	// Labels: set (active, pending)
	Alerts *prometheus.GaugeVec

	// StatusRefreshTotal counts status refreshes.
	// Labels: result (ok, error, skipped)
	StatusRefreshTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers the collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}
	if reg == nil {
		m.registry = prometheus.NewRegistry()
		reg = m.registry
	}
	f := promauto.With(reg)

	m.CommandsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Pod commands by kind and outcome.",
	}, []string{"kind", "outcome"})

	m.PendingUncertain = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_uncertain",
		Help:      "Whether a command with unknown outcome is pending (1) or not (0).",
	})

	m.RecoveryAttemptsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovery_attempts_total",
		Help:      "Recovery status probes by result.",
	}, []string{"result"})

	m.LedgerEntries = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ledger_entries",
		Help:      "Dose ledger entries by status.",
	}, []string{"status"})

	m.DosesSettledTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "doses_settled_total",
		Help:      "Ledger entries settled by result.",
	}, []string{"result"})

	m.UnitsReportedTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "units_reported_total",
		Help:      "Insulin units reported to dose history by source.",
	}, []string{"source"})

	m.Alerts = f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "alerts",
		Help:      "Alerts by set.",
	}, []string{"set"})

	m.StatusRefreshTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_refresh_total",
		Help:      "Status refreshes by result.",
	}, []string{"result"})

	return m
}

// Registry returns the private registry, or nil when an external
// registerer was supplied.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCommand counts one command outcome.
func (m *Metrics) RecordCommand(kind, outcome string) {
	m.CommandsTotal.WithLabelValues(kind, outcome).Inc()
}

// SetUncertain sets the uncertainty gauge.
func (m *Metrics) SetUncertain(uncertain bool) {
	if uncertain {
		m.PendingUncertain.Set(1)
	} else {
		m.PendingUncertain.Set(0)
	}
}

// RecordRecoveryAttempt counts one recovery probe.
func (m *Metrics) RecordRecoveryAttempt(resolved bool, err error) {
	switch {
	case err != nil:
		m.RecoveryAttemptsTotal.WithLabelValues("error").Inc()
	case resolved:
		m.RecoveryAttemptsTotal.WithLabelValues("resolved").Inc()
	default:
		m.RecoveryAttemptsTotal.WithLabelValues("unresolved").Inc()
	}
}

// SetLedger publishes ledger sizes.
func (m *Metrics) SetLedger(counts map[string]int) {
	for status, n := range counts {
		m.LedgerEntries.WithLabelValues(status).Set(float64(n))
	}
}

// RecordSettled counts settled entries.
func (m *Metrics) RecordSettled(finalized, discarded, estimated int) {
	m.DosesSettledTotal.WithLabelValues("finalized").Add(float64(finalized))
	m.DosesSettledTotal.WithLabelValues("discarded").Add(float64(discarded))
	m.DosesSettledTotal.WithLabelValues("estimated").Add(float64(estimated))
}

// RecordReported adds reported units.
func (m *Metrics) RecordReported(units float64, estimated bool) {
	source := "confirmed"
	if estimated {
		source = "estimated"
	}
	m.UnitsReportedTotal.WithLabelValues(source).Add(units)
}

// SetAlerts publishes alert set sizes.
func (m *Metrics) SetAlerts(active, pending int) {
	m.Alerts.WithLabelValues("active").Set(float64(active))
	m.Alerts.WithLabelValues("pending").Set(float64(pending))
}

// RecordRefresh counts one status refresh.
func (m *Metrics) RecordRefresh(result string) {
	m.StatusRefreshTotal.WithLabelValues(result).Inc()
}
