package persistence

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Migration upgrades a raw document by one version. It must not modify its
// input.
type Migration func(raw map[string]json.RawMessage) (map[string]json.RawMessage, error)

// migrations maps a version to the step that upgrades it to the next one.
var migrations = map[int]Migration{
	1: migrateV1,
}

// Migrate applies every step from version up to CurrentVersion, in order.
func Migrate(raw map[string]json.RawMessage, version int) (map[string]json.RawMessage, error) {
	for v := version; v < CurrentVersion; v++ {
		step, ok := migrations[v]
		if !ok {
			return nil, fmt.Errorf("%w: no migration from version %d", ErrMalformedPersistedState, v)
		}
		next, err := step(raw)
		if err != nil {
			return nil, fmt.Errorf("migrate v%d: %w", v, err)
		}
		raw = next
	}
	return raw, nil
}

// migrateV1 moves the basal schedule out of the pod state.
func migrateV1(raw map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	out := maps.Clone(raw)

	podRaw, ok := raw["podState"]
	if !ok {
		return nil, fmt.Errorf("%w: v1 document without podState", ErrMalformedPersistedState)
	}
	var podState map[string]json.RawMessage
	if err := json.Unmarshal(podRaw, &podState); err != nil || podState == nil {
		return nil, fmt.Errorf("%w: v1 podState is not an object", ErrMalformedPersistedState)
	}
	schedule, ok := podState["basalSchedule"]
	if !ok {
		return nil, fmt.Errorf("%w: v1 podState without basalSchedule", ErrMalformedPersistedState)
	}

	podState = maps.Clone(podState)
	delete(podState, "basalSchedule")
	rewritten, err := json.Marshal(podState)
	if err != nil {
		return nil, err
	}

	out["podState"] = rewritten
	out["basalSchedule"] = schedule
	out["version"] = json.RawMessage("2")
	return out, nil
}
