package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewPrivateRegistry(t *testing.T) {
	a := New(nil)
	b := New(nil)
	if a.Registry() == nil || a.Registry() == b.Registry() {
		t.Fatal("each nil-registerer Metrics needs its own registry")
	}

	reg := prometheus.NewRegistry()
	m := New(reg)
	if m.Registry() != nil {
		t.Error("Registry() should be nil with an external registerer")
	}
	m.RecordCommand("bolus", "ack")
	if n := testutil.CollectAndCount(m.CommandsTotal); n != 1 {
		t.Errorf("CommandsTotal series = %d, want 1", n)
	}
}

func TestRecorders(t *testing.T) {
	m := New(nil)

	m.RecordCommand("bolus", "ack")
	m.RecordCommand("bolus", "ack")
	m.RecordCommand("bolus", "timeout")
	if v := testutil.ToFloat64(m.CommandsTotal.WithLabelValues("bolus", "ack")); v != 2 {
		t.Errorf("commands[bolus,ack] = %v, want 2", v)
	}

	m.SetUncertain(true)
	if v := testutil.ToFloat64(m.PendingUncertain); v != 1 {
		t.Errorf("pending_uncertain = %v, want 1", v)
	}
	m.SetUncertain(false)
	if v := testutil.ToFloat64(m.PendingUncertain); v != 0 {
		t.Errorf("pending_uncertain = %v, want 0", v)
	}

	m.RecordRecoveryAttempt(false, errors.New("timeout"))
	m.RecordRecoveryAttempt(false, nil)
	m.RecordRecoveryAttempt(true, nil)
	for _, result := range []string{"error", "unresolved", "resolved"} {
		if v := testutil.ToFloat64(m.RecoveryAttemptsTotal.WithLabelValues(result)); v != 1 {
			t.Errorf("recovery[%s] = %v, want 1", result, v)
		}
	}

	m.SetLedger(map[string]int{"open": 2, "finalized": 1})
	if v := testutil.ToFloat64(m.LedgerEntries.WithLabelValues("open")); v != 2 {
		t.Errorf("ledger[open] = %v, want 2", v)
	}

	m.RecordSettled(2, 1, 0)
	if v := testutil.ToFloat64(m.DosesSettledTotal.WithLabelValues("finalized")); v != 2 {
		t.Errorf("settled[finalized] = %v, want 2", v)
	}

	m.RecordReported(1.5, false)
	m.RecordReported(0.5, true)
	if v := testutil.ToFloat64(m.UnitsReportedTotal.WithLabelValues("confirmed")); v != 1.5 {
		t.Errorf("units[confirmed] = %v, want 1.5", v)
	}

	m.SetAlerts(2, 1)
	if v := testutil.ToFloat64(m.Alerts.WithLabelValues("pending")); v != 1 {
		t.Errorf("alerts[pending] = %v, want 1", v)
	}

	m.RecordRefresh("skipped")
	if v := testutil.ToFloat64(m.StatusRefreshTotal.WithLabelValues("skipped")); v != 1 {
		t.Errorf("refresh[skipped] = %v, want 1", v)
	}
}
