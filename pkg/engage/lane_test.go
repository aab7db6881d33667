package engage

import (
	"errors"
	"testing"
)

type op string

func TestLaneTransitions(t *testing.T) {
	t.Run("SuccessPath", func(t *testing.T) {
		l := NewLane(op("bolus"))
		if err := l.Engage(); err != nil {
			t.Fatalf("Engage() error = %v", err)
		}
		if l.State() != Engaging {
			t.Errorf("State() = %v, want ENGAGING", l.State())
		}
		if err := l.Settle(); err != nil {
			t.Fatalf("Settle() error = %v", err)
		}
		if !l.IsStable() {
			t.Errorf("State() = %v, want STABLE", l.State())
		}
	})

	t.Run("WithdrawPath", func(t *testing.T) {
		l := NewLane(op("tempBasal"))
		l.Engage()
		if err := l.Disengage(); err != nil {
			t.Fatalf("Disengage() error = %v", err)
		}
		if l.State() != Disengaging {
			t.Errorf("State() = %v, want DISENGAGING", l.State())
		}
		l.Settle()
		if !l.IsStable() {
			t.Error("lane not stable after settle")
		}
	})

	t.Run("StopCommand", func(t *testing.T) {
		l := NewLane(op("suspend"))
		if err := l.Disengage(); err != nil {
			t.Fatalf("Disengage() from stable error = %v", err)
		}
		if err := l.Disengage(); !errors.Is(err, ErrOperationInProgress) {
			t.Errorf("Disengage() twice error = %v", err)
		}
	})

	t.Run("BusyLaneRejectsEngage", func(t *testing.T) {
		l := NewLane(op("bolus"))
		l.Engage()
		if err := l.Engage(); !errors.Is(err, ErrOperationInProgress) {
			t.Errorf("Engage() on engaging lane error = %v, want ErrOperationInProgress", err)
		}
		l.Disengage()
		if err := l.Engage(); !errors.Is(err, ErrOperationInProgress) {
			t.Errorf("Engage() on disengaging lane error = %v, want ErrOperationInProgress", err)
		}
	})

	t.Run("SettleStable", func(t *testing.T) {
		l := NewLane(op("bolus"))
		if err := l.Settle(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Settle() on stable lane error = %v", err)
		}
	})
}

func TestSet(t *testing.T) {
	s := NewSet(op("suspend"), op("bolus"), op("tempBasal"), op("bolus"))

	if got := len(s.Kinds()); got != 3 {
		t.Fatalf("len(Kinds()) = %d, want 3", got)
	}
	if !s.AllStable() {
		t.Error("new set should be stable")
	}

	s.Lane("bolus").Engage()
	if s.AllStable() {
		t.Error("AllStable() = true with an engaging lane")
	}
	if s.State("tempBasal") != Stable {
		t.Error("lanes are independent")
	}
	if s.State("unknown") != Stable {
		t.Error("unknown kinds report stable")
	}

	c := s.Clone()
	c.Lane("bolus").Settle()
	if s.State("bolus") != Engaging {
		t.Error("mutating the clone changed the original")
	}

	s.Restore("tempBasal", Disengaging)
	snap := s.Snapshot()
	if snap["bolus"] != Stable || snap["tempBasal"] != Disengaging {
		t.Errorf("Snapshot() after Restore = %v", snap)
	}
}
