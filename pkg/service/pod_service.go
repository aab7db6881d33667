package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/log"
	"github.com/loopwire/podcore/pkg/metrics"
	"github.com/loopwire/podcore/pkg/persistence"
	"github.com/loopwire/podcore/pkg/pumpstate"
	"github.com/loopwire/podcore/pkg/recovery"
	"github.com/loopwire/podcore/pkg/session"
	"github.com/loopwire/podcore/pkg/transport"
)

// PodService is the command engine for one pod link.
type PodService struct {
	mu sync.RWMutex

	config Config
	state  ServiceState

	alloc    *ids.Allocator
	agg      *pumpstate.Aggregate
	session  *session.Owner
	recovery *recovery.Controller
	rec      *recorder
	metrics  *metrics.Metrics

	// Protocol capture
	plog      log.Logger
	sessionID string

	refreshGroup singleflight.Group
	reportMu     sync.Mutex

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a service for link, loading state from store.
//
// If the stored document is malformed the service is still returned,
// holding a fresh state with no paired pod, together with an error that
// matches ErrMalformedPersistedState. Any other load error is fatal.
//
// A pending command found in the store is marked uncertain and recovery
// starts for it.
func New(link transport.Transport, store persistence.Store, config Config) (*PodService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	alloc, err := ids.NewAllocator(config.ControllerID)
	if err != nil {
		return nil, err
	}

	initial, loadErr := pumpstate.Load(store, alloc)
	if loadErr != nil && !errors.Is(loadErr, ErrMalformedPersistedState) {
		return nil, loadErr
	}

	s := &PodService{
		config:    config,
		state:     StateIdle,
		alloc:     alloc,
		agg:       pumpstate.NewAggregate(store, initial, config.Logger, config.Now),
		session:   session.New(link),
		metrics:   metrics.New(config.Registerer),
		plog:      config.ProtocolLogger,
		sessionID: uuid.New().String(),
	}
	s.rec = &recorder{svc: s}

	s.recovery = recovery.NewController(s.probe, recovery.Config{
		Backoff:      config.RecoveryBackoff,
		ProbeTimeout: config.ProbeTimeout,
		Logger:       config.Logger,
	})
	s.recovery.OnStateChange(s.handleRecoveryStateChange)
	s.recovery.OnAttempt(func(attempt int, resolved bool, err error) {
		s.metrics.RecordRecoveryAttempt(resolved, err)
	})

	s.agg.Subscribe(pumpstate.ObserverFunc(s.publish))
	s.publish(initial)

	if loadErr != nil {
		s.warnLog("persisted state is malformed, starting without a pod", "error", loadErr)
		s.logError(log.LayerEngine, loadErr, "load")
	}

	if err := s.resumeRecovery(initial); err != nil {
		return nil, err
	}
	return s, loadErr
}

// resumeRecovery brings back the recovery state of a loaded document.
func (s *PodService) resumeRecovery(st *pumpstate.State) error {
	if st.IsAbandoned() {
		s.recovery.Restore(recovery.StateAbandoned)
		return nil
	}

	p := st.Pending.Pending()
	if p == nil {
		return nil
	}
	if !p.Uncertain {
		// The process stopped while the command was on the link.
		if _, err := s.rec.MarkUncertain(p.Handle()); err != nil {
			return fmt.Errorf("mark restored command uncertain: %w", err)
		}
	}
	s.infoLog("resuming recovery for restored command", "command", p.String())
	s.recovery.Enter()
	return nil
}

// State returns the current service state.
func (s *PodService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start launches the recovery and status refresh loops.
func (s *PodService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrClosed
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)

	s.recovery.Start()
	if s.config.RefreshInterval > 0 {
		s.group.Go(func() error {
			return s.refreshLoop(ctx)
		})
	}

	s.state = StateRunning
	s.infoLog("pod service started", "session_id", s.sessionID, "identity", s.Identity().String())
	return nil
}

// Close stops the background loops. Commands fail with ErrClosed
// afterwards.
func (s *PodService) Close() error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	cancel, group := s.cancel, s.group
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if group != nil {
		err = group.Wait()
	}
	s.recovery.Close()
	return err
}

func (s *PodService) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.TryRefreshStatus(ctx); err != nil &&
				!errors.Is(err, session.ErrBusy) && !errors.Is(err, ErrNotPaired) && ctx.Err() == nil {
				s.warnLog("scheduled status refresh failed", "error", err)
			}
		}
	}
}

func (s *PodService) closed() bool {
	return s.State() == StateStopped
}

// Snapshot returns a copy of the pump state.
func (s *PodService) Snapshot() *pumpstate.State {
	return s.agg.Snapshot()
}

// Identity returns the current session pair.
func (s *PodService) Identity() ids.Identity {
	var id ids.Identity
	s.agg.View(func(st *pumpstate.State) { id = st.Identity })
	return id
}

// RecoveryState returns the state of the recovery controller.
func (s *PodService) RecoveryState() recovery.State {
	return s.recovery.State()
}

// SessionID returns the protocol log correlation ID of this run.
func (s *PodService) SessionID() string {
	return s.sessionID
}

// Metrics returns the service's collectors.
func (s *PodService) Metrics() *metrics.Metrics {
	return s.metrics
}

// IsPumpDataStale reports whether the last status is older than the
// configured tolerance.
func (s *PodService) IsPumpDataStale() bool {
	var last time.Time
	s.agg.View(func(st *pumpstate.State) {
		if st.Pod != nil {
			last = st.Pod.LastStatusAt
		}
	})
	return last.IsZero() || s.now().Sub(last) > s.config.StaleTolerance
}

// Subscribe registers an observer of pump state changes. Observers are
// called synchronously in registration order and must not call back into
// the service.
func (s *PodService) Subscribe(o pumpstate.Observer) uuid.UUID {
	return s.agg.Subscribe(o)
}

// Unsubscribe removes an observer.
func (s *PodService) Unsubscribe(id uuid.UUID) bool {
	return s.agg.Unsubscribe(id)
}

// publish updates the state gauges. It is the first observer.
func (s *PodService) publish(st *pumpstate.State) {
	counts := map[string]int{
		string(dose.StatusOpen):      0,
		string(dose.StatusFinalized): 0,
		string(dose.StatusDiscarded): 0,
	}
	for status, n := range st.Ledger.Counts() {
		counts[string(status)] = n
	}
	s.metrics.SetLedger(counts)
	s.metrics.SetAlerts(len(st.Alerts.Active()), len(st.Alerts.PendingAcknowledgment()))

	p := st.Pending.Pending()
	s.metrics.SetUncertain(p != nil && p.Uncertain)
}

func (s *PodService) handleRecoveryStateChange(oldState, newState recovery.State) {
	s.infoLog("recovery state changed", "from", oldState.String(), "to", newState.String())
	s.logState(log.StateEntityRecovery, oldState.String(), newState.String(), "")
}

func (s *PodService) now() time.Time {
	return s.config.Now()
}

// debugLog logs a debug message if logging is enabled.
func (s *PodService) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

func (s *PodService) infoLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Info(msg, args...)
	}
}

func (s *PodService) warnLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Warn(msg, args...)
	}
}
