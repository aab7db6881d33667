package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/log"
	"github.com/loopwire/podcore/pkg/persistence"
	"github.com/loopwire/podcore/pkg/podsim"
	"github.com/loopwire/podcore/pkg/recovery"
	"github.com/loopwire/podcore/pkg/transport"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

const testControllerID uint32 = 0x00C0FFEE

// harness wires a service to a simulated pod and an in-memory store.
type harness struct {
	clock *podsim.Clock
	pod   *podsim.Pod
	store *persistence.MemoryStore
	svc   *PodService

	mu      sync.Mutex
	reports [][]dose.UnfinalizedDose
	events  []log.Event
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	clock := podsim.NewClock(t0)
	h := &harness{
		clock: clock,
		pod:   podsim.New(podsim.Config{Now: clock.Now}),
		store: persistence.NewMemoryStore(),
	}
	h.svc = h.open(t, h.pod, opts...)
	return h
}

func (h *harness) config(opts ...func(*Config)) Config {
	cfg := DefaultConfig()
	cfg.ControllerID = testControllerID
	cfg.RefreshInterval = 0
	cfg.StrictInvariants = true
	cfg.RecoveryBackoff = recovery.BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond}
	cfg.Now = h.clock.Now
	cfg.HistoryReporter = dose.HistoryReporterFunc(func(_ context.Context, doses []dose.UnfinalizedDose) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.reports = append(h.reports, doses)
		return nil
	})
	cfg.ProtocolLogger = log.LoggerFunc(func(ev log.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev)
	})
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (h *harness) open(t *testing.T, link transport.Transport, opts ...func(*Config)) *PodService {
	t.Helper()
	svc, err := New(link, h.store, h.config(opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// restart closes the service and opens a new one on the same store and pod.
func (h *harness) restart(t *testing.T, opts ...func(*Config)) {
	t.Helper()
	require.NoError(t, h.svc.Close())
	h.svc = h.open(t, h.pod, opts...)
}

func (h *harness) pair(t *testing.T) {
	t.Helper()
	_, err := h.svc.Pair(context.Background())
	require.NoError(t, err)
}

func (h *harness) reported() []dose.UnfinalizedDose {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []dose.UnfinalizedDose
	for _, batch := range h.reports {
		out = append(out, batch...)
	}
	return out
}

func (h *harness) commandEvents() []*log.CommandEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*log.CommandEvent
	for _, ev := range h.events {
		if ev.Command != nil {
			out = append(out, ev.Command)
		}
	}
	return out
}

func ledgerOf(t *testing.T, svc *PodService, kind dose.Kind) []dose.UnfinalizedDose {
	t.Helper()
	var out []dose.UnfinalizedDose
	for _, e := range svc.Snapshot().Ledger.Entries() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
