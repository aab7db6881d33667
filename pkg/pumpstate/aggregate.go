package pumpstate

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/persistence"
)

// ErrPersist wraps store failures during Update.
var ErrPersist = errors.New("persist pump state")

// Observer is notified after every state change.
type Observer interface {
	PumpStateDidChange(s *State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(s *State)

// PumpStateDidChange calls f.
func (f ObserverFunc) PumpStateDidChange(s *State) { f(s) }

type subscription struct {
	id       uuid.UUID
	observer Observer
}

// Load reads the stored state. A missing document yields a fresh state. A
// document that cannot be decoded also yields a fresh, not-activated state,
// together with the decode error.
func Load(store persistence.Store, alloc *ids.Allocator) (*State, error) {
	data, err := store.Load()
	if err != nil {
		return Fresh(alloc), fmt.Errorf("load pump state: %w", err)
	}
	if data == nil {
		return Fresh(alloc), nil
	}
	doc, err := persistence.Decode(data)
	if err != nil {
		return Fresh(alloc), err
	}
	return FromDocument(doc, alloc), nil
}

// Aggregate owns the pump state.
type Aggregate struct {
	mu    sync.Mutex
	state *State
	store persistence.Store

	// notifyMu orders notifications. It is taken before mu is released so
	// snapshots are delivered in update order.
	notifyMu sync.Mutex

	obsMu     sync.RWMutex
	observers []subscription

	logger *slog.Logger
	now    func() time.Time
}

// NewAggregate creates an aggregate around initial. Nil logger disables
// logging; nil now uses time.Now.
func NewAggregate(store persistence.Store, initial *State, logger *slog.Logger, now func() time.Time) *Aggregate {
	if now == nil {
		now = time.Now
	}
	return &Aggregate{
		state:  initial,
		store:  store,
		logger: logger,
		now:    now,
	}
}

// Snapshot returns a copy of the current state.
func (a *Aggregate) Snapshot() *State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// View runs fn against the current state under the lock. fn must not
// retain or modify s.
func (a *Aggregate) View(fn func(s *State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.state)
}

// Update applies fn to a copy of the state, persists the copy and installs
// it. If fn or the store fails the state is unchanged and the error is
// returned. Observers must not call Update from their callback.
func (a *Aggregate) Update(fn func(s *State) error) (*State, error) {
	a.mu.Lock()

	next := a.state.Clone()
	if err := fn(next); err != nil {
		a.mu.Unlock()
		return nil, err
	}

	doc := next.Document()
	doc.SavedAt = a.now()
	data, err := persistence.Encode(doc)
	if err == nil {
		err = a.store.Save(data)
	}
	if err != nil {
		a.mu.Unlock()
		if a.logger != nil {
			a.logger.Error("persist pump state failed", "error", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	a.state = next
	snapshot := next.Clone()

	a.notifyMu.Lock()
	a.mu.Unlock()
	defer a.notifyMu.Unlock()

	a.notify(snapshot)
	return snapshot, nil
}

// Subscribe registers an observer and returns its subscription ID.
func (a *Aggregate) Subscribe(o Observer) uuid.UUID {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	id := uuid.New()
	a.observers = append(a.observers, subscription{id: id, observer: o})
	return id
}

// Unsubscribe removes an observer. It reports whether id was registered.
func (a *Aggregate) Unsubscribe(id uuid.UUID) bool {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	n := len(a.observers)
	a.observers = slices.DeleteFunc(a.observers, func(s subscription) bool { return s.id == id })
	return len(a.observers) != n
}

// ObserverCount returns the number of registered observers.
func (a *Aggregate) ObserverCount() int {
	a.obsMu.RLock()
	defer a.obsMu.RUnlock()
	return len(a.observers)
}

// notify delivers snapshot to every observer in registration order. Each
// observer gets its own copy.
func (a *Aggregate) notify(snapshot *State) {
	a.obsMu.RLock()
	observers := slices.Clone(a.observers)
	a.obsMu.RUnlock()

	for i, sub := range observers {
		s := snapshot
		if i < len(observers)-1 {
			s = snapshot.Clone()
		}
		sub.observer.PumpStateDidChange(s)
	}
}
