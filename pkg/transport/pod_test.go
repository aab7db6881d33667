package transport

import (
	"errors"
	"fmt"
	"testing"
)

func TestRejectedError(t *testing.T) {
	err := fmt.Errorf("bolus: %w", &RejectedError{Code: 7, Reason: "reservoir empty"})

	if !errors.Is(err, ErrRejected) {
		t.Error("errors.Is(err, ErrRejected) = false")
	}
	if !IsRejected(err) {
		t.Error("IsRejected() = false")
	}
	if errors.Is(err, ErrNoResponse) {
		t.Error("rejection must not look like a timeout")
	}
	if IsRejected(ErrNoResponse) {
		t.Error("IsRejected(ErrNoResponse) = true")
	}

	want := "bolus: pod rejected command: reservoir empty (code 7)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
