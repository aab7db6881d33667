package pod

import (
	"errors"
	"testing"
	"time"
)

func TestBasalScheduleValidate(t *testing.T) {
	tests := []struct {
		name    string
		entries []BasalEntry
		wantErr error
	}{
		{"Valid", []BasalEntry{{0, 1.0}, {3600 * 6, 0.8}}, nil},
		{"Empty", nil, ErrEmptySchedule},
		{"NotMidnight", []BasalEntry{{60, 1.0}}, ErrScheduleStart},
		{"OutOfOrder", []BasalEntry{{0, 1.0}, {7200, 1.0}, {3600, 1.0}}, ErrScheduleOrder},
		{"Duplicate", []BasalEntry{{0, 1.0}, {0, 1.0}}, ErrScheduleOrder},
		{"Negative", []BasalEntry{{0, -0.1}}, ErrScheduleRate},
		{"TooHigh", []BasalEntry{{0, MaxBasalRate + 1}}, ErrScheduleRate},
		{"PastDay", []BasalEntry{{0, 1.0}, {86400, 1.0}}, ErrScheduleSpansDay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := BasalSchedule{Entries: tt.entries}.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBasalScheduleSegment(t *testing.T) {
	loc := time.FixedZone("test", -5*3600)
	s := BasalSchedule{Entries: []BasalEntry{{0, 0.5}, {6 * 3600, 1.2}, {22 * 3600, 0.7}}}

	tests := []struct {
		name      string
		at        time.Time
		rate      float64
		remaining time.Duration
	}{
		{"Midnight", time.Date(2026, 1, 2, 0, 0, 0, 0, loc), 0.5, 6 * time.Hour},
		{"Morning", time.Date(2026, 1, 2, 7, 30, 0, 0, loc), 1.2, 14*time.Hour + 30*time.Minute},
		{"Late", time.Date(2026, 1, 2, 23, 0, 0, 0, loc), 0.7, time.Hour},
		// 12:00 UTC is 07:00 in the schedule's zone.
		{"OtherZone", time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC), 1.2, 15 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, remaining := s.Segment(tt.at, loc)
			if rate != tt.rate {
				t.Errorf("rate = %v, want %v", rate, tt.rate)
			}
			if remaining != tt.remaining {
				t.Errorf("remaining = %v, want %v", remaining, tt.remaining)
			}
			if got := s.RateAt(tt.at, loc); got != tt.rate {
				t.Errorf("RateAt() = %v, want %v", got, tt.rate)
			}
		})
	}
}

func TestPodStateClone(t *testing.T) {
	level := 50.0
	p := &PodState{
		Address:        0x1F000001,
		Active:         true,
		ReservoirLevel: &level,
		Fault:          &Fault{Code: 0x14},
		SessionKeys:    []byte{1, 2, 3},
	}

	c := p.Clone()
	*c.ReservoirLevel = 10
	c.Fault.Code = 1
	c.SessionKeys[0] = 9

	if *p.ReservoirLevel != 50 {
		t.Error("clone shares reservoir level")
	}
	if p.Fault.Code != 0x14 {
		t.Error("clone shares fault")
	}
	if p.SessionKeys[0] != 1 {
		t.Error("clone shares session keys")
	}

	var nilState *PodState
	if nilState.Clone() != nil || nilState.IsActive() || nilState.IsFaulted() {
		t.Error("nil pod state should be inactive")
	}
}

func TestPodStateExpiresAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	p := &PodState{ActivatedAt: at}
	if got := p.ExpiresAt(); !got.Equal(at.Add(72 * time.Hour)) {
		t.Errorf("ExpiresAt() = %v", got)
	}
	if !(&PodState{}).ExpiresAt().IsZero() {
		t.Error("ExpiresAt() of unactivated pod should be zero")
	}
}

func TestBeepPreference(t *testing.T) {
	tests := []struct {
		pref      BeepPreference
		manual    bool
		automatic bool
		name      string
	}{
		{BeepSilent, false, false, "silent"},
		{BeepManualCommands, true, false, "manualCommands"},
		{BeepExtended, true, true, "extended"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.pref.ShouldBeepForManualCommand() != tt.manual {
				t.Errorf("ShouldBeepForManualCommand() = %v", !tt.manual)
			}
			if tt.pref.ShouldBeepForAutomaticBolus() != tt.automatic {
				t.Errorf("ShouldBeepForAutomaticBolus() = %v", !tt.automatic)
			}
			if tt.pref.String() != tt.name {
				t.Errorf("String() = %q", tt.pref.String())
			}
		})
	}

	if BeepPreferenceFromConfirmationBeeps(true) != BeepManualCommands {
		t.Error("confirmation beeps on should map to manualCommands")
	}
}

func TestInsulinType(t *testing.T) {
	if InsulinNovolog.String() != "Novolog" || InsulinLyumjev.String() != "Lyumjev" {
		t.Error("unexpected insulin names")
	}
	if InsulinType(42).Valid() {
		t.Error("InsulinType(42) should be invalid")
	}
}
