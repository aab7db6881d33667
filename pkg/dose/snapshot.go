package dose

import "time"

// HistoryRecord is one delivery record from the pod's history.
type HistoryRecord struct {
	// Sequence is the program sequence number, or 0 when unknown.
	Sequence  uint32        `json:"sequence,omitempty"`
	Kind      Kind          `json:"kind"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration,omitempty"`
	Delivered float64       `json:"delivered"`
	Rejected  bool          `json:"rejected,omitempty"`
	Complete  bool          `json:"complete,omitempty"`
}

// HistorySnapshot is the pod's view of recent delivery at TakenAt. Records
// that started before HorizonStart are no longer retained by the pod.
type HistorySnapshot struct {
	TakenAt      time.Time       `json:"takenAt"`
	HorizonStart time.Time       `json:"horizonStart"`
	Records      []HistoryRecord `json:"records,omitempty"`
}

func (r *HistoryRecord) end(takenAt time.Time) time.Time {
	if r.Duration == 0 && r.Kind != KindBolus {
		return takenAt
	}
	return r.StartedAt.Add(r.Duration)
}

// Key returns the identity of r used to track which entry consumed it.
func (r *HistoryRecord) Key() RecordKey {
	return RecordKey{Kind: r.Kind, Sequence: r.Sequence, StartedAt: r.StartedAt}
}

func (k RecordKey) matches(r *HistoryRecord) bool {
	return k.Kind == r.Kind && k.Sequence == r.Sequence && k.StartedAt.Equal(r.StartedAt)
}
