package log

import (
	"context"
	"fmt"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger at a fixed level.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter creates an adapter that logs at Debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy that logs at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.PodID != 0 {
		attrs = append(attrs, slog.String("pod_id", fmt.Sprintf("%08X", event.PodID)))
	}

	switch {
	case event.Command != nil:
		c := event.Command
		attrs = append(attrs,
			slog.String("cmd_id", c.CommandID),
			slog.Uint64("seq", uint64(c.Sequence)),
			slog.String("kind", string(c.Kind)),
			slog.String("phase", c.Phase.String()),
		)
		if c.Outcome != "" {
			attrs = append(attrs, slog.String("outcome", c.Outcome))
		}
		if c.Reason != "" {
			attrs = append(attrs, slog.String("reason", c.Reason))
		}
		if c.Elapsed != nil {
			attrs = append(attrs, slog.Duration("elapsed", *c.Elapsed))
		}
	case event.Status != nil:
		s := event.Status
		attrs = append(attrs,
			slog.Uint64("last_seq", uint64(s.LastProgramSequence)),
			slog.Bool("suspended", s.Suspended),
			slog.Int("history_records", s.HistoryRecords),
		)
		if s.Reservoir != nil {
			attrs = append(attrs, slog.Float64("reservoir", *s.Reservoir))
		}
		if s.FaultCode != nil {
			attrs = append(attrs, slog.Int("fault_code", int(*s.FaultCode)))
		}
		if s.Trigger != "" {
			attrs = append(attrs, slog.String("trigger", s.Trigger))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Dose != nil:
		d := event.Dose
		attrs = append(attrs,
			slog.String("dose_id", d.DoseID),
			slog.String("dose_kind", d.Kind),
			slog.String("action", d.Action.String()),
			slog.Float64("delivered", d.Delivered),
			slog.Bool("estimated", d.Estimated),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), a.level, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
