package log

import (
	"testing"
	"time"
)

type recordingLogger struct {
	events []Event
}

func (m *recordingLogger) Log(event Event) {
	m.events = append(m.events, event)
}

func TestNoopLoggerIsZeroValue(t *testing.T) {
	var logger NoopLogger
	logger.Log(Event{})
	logger.Log(Event{Command: &CommandEvent{}, Dose: &DoseEvent{}})
}

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	var fromFunc []string

	multi := NewMultiLogger(a, nil, b, LoggerFunc(func(e Event) { fromFunc = append(fromFunc, e.SessionID) }))
	if multi.Len() != 3 {
		t.Errorf("Len() = %d, want 3 (nil skipped)", multi.Len())
	}

	multi.Log(Event{Timestamp: time.Now(), SessionID: "s-1"})

	for i, l := range []*recordingLogger{a, b} {
		if len(l.events) != 1 || l.events[0].SessionID != "s-1" {
			t.Errorf("logger %d: events = %+v", i, l.events)
		}
	}
	if len(fromFunc) != 1 {
		t.Errorf("LoggerFunc calls = %d", len(fromFunc))
	}

	NewMultiLogger().Log(Event{})
}
