package pumpstate

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwire/podcore/pkg/alert"
	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/engage"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/persistence"
	"github.com/loopwire/podcore/pkg/pod"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func allocator(t *testing.T) *ids.Allocator {
	t.Helper()
	a, err := ids.NewAllocator(ids.LegacyControllerID)
	require.NoError(t, err)
	return a
}

func newAggregate(t *testing.T, store persistence.Store) *Aggregate {
	return NewAggregate(store, Fresh(allocator(t)), nil, func() time.Time { return now })
}

func TestUpdatePersistsAndNotifies(t *testing.T) {
	store := persistence.NewMemoryStore()
	agg := newAggregate(t, store)

	var order []string
	agg.Subscribe(ObserverFunc(func(s *State) { order = append(order, "first") }))
	id := agg.Subscribe(ObserverFunc(func(s *State) {
		order = append(order, "second")
		assert.Equal(t, 0.9, s.BasalSchedule.Entries[0].Rate)
	}))

	_, err := agg.Update(func(s *State) error {
		s.BasalSchedule = pod.BasalSchedule{Entries: []pod.BasalEntry{{Start: 0, Rate: 0.9}}}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, store.Saves())

	data, err := store.Load()
	require.NoError(t, err)
	doc, err := persistence.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 0.9, doc.BasalSchedule.Entries[0].Rate)
	assert.True(t, doc.SavedAt.Equal(now))

	assert.True(t, agg.Unsubscribe(id))
	assert.False(t, agg.Unsubscribe(id))
	assert.Equal(t, 1, agg.ObserverCount())
}

func TestUpdateFailureLeavesState(t *testing.T) {
	store := persistence.NewMemoryStore()
	agg := newAggregate(t, store)

	notified := 0
	agg.Subscribe(ObserverFunc(func(*State) { notified++ }))

	boom := errors.New("boom")
	_, err := agg.Update(func(s *State) error {
		s.NextSequence = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)

	store.SaveErr = errors.New("disk full")
	_, err = agg.Update(func(s *State) error {
		s.NextSequence = 42
		return nil
	})
	assert.ErrorIs(t, err, ErrPersist)

	assert.Equal(t, uint32(1), agg.Snapshot().NextSequence)
	assert.Zero(t, notified)
}

func TestSnapshotIsolation(t *testing.T) {
	agg := newAggregate(t, persistence.NewMemoryStore())

	snap := agg.Snapshot()
	snap.Alerts.ApplyDeviceReport([]alert.Code{alert.LowReservoir})
	_, err := snap.Pending.Begin(command.KindBolus, command.Payload{Units: 1}, 1, now)
	require.NoError(t, err)

	fresh := agg.Snapshot()
	assert.Empty(t, fresh.Alerts.Active())
	assert.False(t, fresh.Pending.HasPending())
}

func TestNotificationsFollowUpdateOrder(t *testing.T) {
	agg := newAggregate(t, persistence.NewMemoryStore())

	var mu sync.Mutex
	var seen []uint32
	agg.Subscribe(ObserverFunc(func(s *State) {
		mu.Lock()
		seen = append(seen, s.NextSequence)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.Update(func(s *State) error {
				s.NextSequence++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, seen, 50)
	for i, v := range seen {
		assert.Equal(t, uint32(i+2), v, "notification %d out of order", i)
	}
}

func TestLoad(t *testing.T) {
	alloc := allocator(t)

	t.Run("Empty", func(t *testing.T) {
		s, err := Load(persistence.NewMemoryStore(), alloc)
		require.NoError(t, err)
		assert.False(t, s.Identity.IsActivated())
		assert.True(t, s.IsOnboarded)
	})

	t.Run("MalformedFailsClosed", func(t *testing.T) {
		store := persistence.NewMemoryStore()
		require.NoError(t, store.Save([]byte(`{"version": 9}`)))

		s, err := Load(store, alloc)
		assert.ErrorIs(t, err, persistence.ErrMalformedPersistedState)
		require.NotNil(t, s)
		assert.False(t, s.Identity.IsActivated())
		assert.False(t, s.HasActivePod())
		assert.False(t, s.Pending.HasPending())
	})

	t.Run("LegacyIdentity", func(t *testing.T) {
		store := persistence.NewMemoryStore()
		require.NoError(t, store.Save([]byte(`{
			"version": 1,
			"podState": {"address": 521142288, "active": true, "basalSchedule": {"entries": [{"startTime": 0, "rate": 1}]}}
		}`)))

		s, err := Load(store, alloc)
		require.NoError(t, err)
		assert.Equal(t, ids.Identity{ControllerID: ids.LegacyControllerID, PodID: 521142288}, s.Identity)
	})

	t.Run("DerivesLaneFromPending", func(t *testing.T) {
		tests := []struct {
			name    string
			kind    command.Kind
			payload command.Payload
			lane    command.Lane
			state   engage.State
		}{
			{"TempBasal", command.KindProgramTempBasal, command.Payload{Rate: 1, Duration: time.Hour}, command.LaneTempBasal, engage.Engaging},
			{"CancelBolus", command.KindCancel, command.Payload{Target: command.KindBolus}, command.LaneBolus, engage.Disengaging},
			{"Resume", command.KindResume, command.Payload{}, command.LaneSuspend, engage.Disengaging},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				src := Fresh(alloc)
				_, err := src.Pending.Begin(tt.kind, tt.payload, 7, now)
				require.NoError(t, err)
				src.NextSequence = 3

				data, err := persistence.Encode(src.Document())
				require.NoError(t, err)
				store := persistence.NewMemoryStore()
				require.NoError(t, store.Save(data))

				s, err := Load(store, alloc)
				require.NoError(t, err)
				assert.Equal(t, tt.state, s.Lanes.State(tt.lane))
				assert.Equal(t, uint32(8), s.NextSequence)
				for _, other := range command.Lanes {
					if other != tt.lane {
						assert.Equal(t, engage.Stable, s.Lanes.State(other))
					}
				}
			})
		}
	})
}

func TestIsPumpDataStale(t *testing.T) {
	s := Fresh(allocator(t))
	assert.True(t, s.IsPumpDataStale(now), "no pod")

	s.Pod = &pod.PodState{LastStatusAt: now.Add(-5 * time.Minute)}
	assert.False(t, s.IsPumpDataStale(now))
	assert.True(t, s.IsPumpDataStale(now.Add(2*time.Minute)))

	_, ok := s.ReservoirLevel()
	assert.False(t, ok)
	level := 42.5
	s.Pod.ReservoirLevel = &level
	got, ok := s.ReservoirLevel()
	assert.True(t, ok)
	assert.Equal(t, 42.5, got)
}
