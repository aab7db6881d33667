package podsim

import (
	"context"
	"encoding/binary"
	"slices"
	"sync"
	"time"

	"github.com/loopwire/podcore/pkg/alert"
	"github.com/loopwire/podcore/pkg/command"
	"github.com/loopwire/podcore/pkg/dose"
	"github.com/loopwire/podcore/pkg/ids"
	"github.com/loopwire/podcore/pkg/pod"
	"github.com/loopwire/podcore/pkg/transport"
)

// Rejection codes reported by the simulated pod.
const (
	RejectInjected     uint8 = 0x01
	RejectBolusRunning uint8 = 0x02
	RejectSuspended    uint8 = 0x03
	RejectReservoir    uint8 = 0x04
	RejectFaulted      uint8 = 0x05
	RejectNotPaired    uint8 = 0x06
)

// FailureMode selects how the next command fails.
type FailureMode uint8

const (
	// FailNone executes the command normally.
	FailNone FailureMode = iota

	// FailReject refuses the command.
	FailReject

	// FailDropBeforeExecute loses the command before the pod sees it.
	FailDropBeforeExecute

	// FailDropAfterExecute runs the command and loses the acknowledgment.
	FailDropAfterExecute
)

// String returns the mode name.
func (m FailureMode) String() string {
	switch m {
	case FailNone:
		return "none"
	case FailReject:
		return "reject"
	case FailDropBeforeExecute:
		return "drop-before"
	case FailDropAfterExecute:
		return "drop-after"
	default:
		return "unknown"
	}
}

// ParseFailureMode parses a mode name as returned by String.
func ParseFailureMode(s string) (FailureMode, bool) {
	for _, m := range []FailureMode{FailNone, FailReject, FailDropBeforeExecute, FailDropAfterExecute} {
		if m.String() == s {
			return m, true
		}
	}
	return FailNone, false
}

// Config configures a simulated pod.
type Config struct {
	// Address is the address of the first pod. Each later pairing uses the
	// next address, as a replacement pod would.
	Address uint32

	// Reservoir is the fill volume in units.
	Reservoir float64

	// BolusRate is the bolus delivery rate in U/s.
	BolusRate float64

	// HistoryRetention is how far back the pod keeps history records.
	HistoryRetention time.Duration

	// LowReservoirAlert raises the low reservoir alert at or below this
	// level.
	LowReservoirAlert float64

	// Now returns the pod's time. Nil uses time.Now.
	Now func() time.Time
}

// DefaultConfig returns a configuration matching a freshly filled pod.
func DefaultConfig() Config {
	return Config{
		Address:           0x1F0E89F0,
		Reservoir:         200,
		BolusRate:         0.025,
		HistoryRetention:  8 * time.Hour,
		LowReservoirAlert: pod.DefaultLowReservoirReminder,
	}
}

// Pod is a simulated pod. It is safe for concurrent use.
type Pod struct {
	mu  sync.Mutex
	cfg Config

	pairings     int
	paired       bool
	controllerID uint32
	address      uint32
	activatedAt  time.Time

	suspended  bool
	basalRate  float64
	lastSeq    uint32
	consumed   float64
	deliveries []*delivery

	alerts     map[alert.Code]struct{}
	lowRaised  bool
	fault      *pod.Fault
	failures   []FailureMode
	statusFail int

	sent []transport.Command
}

// New creates an unpaired simulated pod. Zero fields of cfg take their
// defaults.
func New(cfg Config) *Pod {
	def := DefaultConfig()
	if cfg.Address == 0 {
		cfg.Address = def.Address
	}
	if cfg.Reservoir <= 0 {
		cfg.Reservoir = def.Reservoir
	}
	if cfg.BolusRate <= 0 {
		cfg.BolusRate = def.BolusRate
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = def.HistoryRetention
	}
	if cfg.LowReservoirAlert <= 0 {
		cfg.LowReservoirAlert = def.LowReservoirAlert
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pod{
		cfg:    cfg,
		alerts: make(map[alert.Code]struct{}),
	}
}

// Pair activates a new pod for the controller in id.
func (p *Pod) Pair(ctx context.Context, id ids.Identity) (transport.PairResult, error) {
	if err := ctx.Err(); err != nil {
		return transport.PairResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Now()
	p.address = p.cfg.Address + uint32(p.pairings)
	p.pairings++
	p.paired = true
	p.controllerID = id.ControllerID
	p.activatedAt = now
	p.suspended = false
	p.basalRate = 0
	p.lastSeq = 0
	p.consumed = 0
	p.deliveries = nil
	p.alerts = make(map[alert.Code]struct{})
	p.lowRaised = false
	p.fault = nil

	keys := make([]byte, 16)
	binary.BigEndian.PutUint32(keys[0:], id.ControllerID)
	binary.BigEndian.PutUint32(keys[4:], p.address)
	binary.BigEndian.PutUint64(keys[8:], uint64(now.UnixNano()))

	return transport.PairResult{
		Address:     p.address,
		SessionKeys: keys,
		ActivatedAt: now,
	}, nil
}

// Send executes cmd.
func (p *Pod) Send(ctx context.Context, cmd transport.Command) (transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return transport.Response{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sent = append(p.sent, cmd)

	mode := FailNone
	if len(p.failures) > 0 {
		mode = p.failures[0]
		p.failures = p.failures[1:]
	}

	switch mode {
	case FailReject:
		return transport.Response{}, &transport.RejectedError{Code: RejectInjected, Reason: "injected rejection"}
	case FailDropBeforeExecute:
		return transport.Response{}, transport.ErrNoResponse
	}

	if !p.paired || cmd.Identity.ControllerID != p.controllerID {
		return transport.Response{}, &transport.RejectedError{Code: RejectNotPaired, Reason: "unknown controller"}
	}
	if p.fault != nil {
		return transport.Response{}, &transport.RejectedError{Code: RejectFaulted, Reason: "pod faulted"}
	}

	now := p.cfg.Now()
	if err := p.execute(cmd, now); err != nil {
		return transport.Response{}, err
	}
	p.lastSeq = cmd.Sequence

	if mode == FailDropAfterExecute {
		return transport.Response{}, transport.ErrNoResponse
	}
	return transport.Response{AckedAt: now}, nil
}

func (p *Pod) execute(cmd transport.Command, now time.Time) error {
	pl := cmd.Payload
	switch cmd.Kind {
	case command.KindBolus:
		if p.running(dose.KindBolus, now) {
			return &transport.RejectedError{Code: RejectBolusRunning, Reason: "bolus in progress"}
		}
		if p.suspended {
			return &transport.RejectedError{Code: RejectSuspended, Reason: "delivery suspended"}
		}
		if pl.Units > p.reservoirLevel(now) {
			return &transport.RejectedError{Code: RejectReservoir, Reason: "insufficient reservoir"}
		}
		p.start(cmd.Sequence, dose.KindBolus, now, dose.BolusDuration(pl.Units, p.cfg.BolusRate), pl.Units, 0)

	case command.KindProgramTempBasal:
		if p.suspended {
			return &transport.RejectedError{Code: RejectSuspended, Reason: "delivery suspended"}
		}
		p.stop(dose.KindTempBasal, now)
		p.start(cmd.Sequence, dose.KindTempBasal, now, pl.Duration, 0, pl.Rate)

	case command.KindProgramBasal:
		p.stop(dose.KindBasal, now)
		p.basalRate = pl.Rate
		if !p.suspended {
			p.start(cmd.Sequence, dose.KindBasal, now, 0, 0, pl.Rate)
		}

	case command.KindSuspend:
		p.stop(dose.KindBolus, now)
		p.stop(dose.KindTempBasal, now)
		p.stop(dose.KindBasal, now)
		p.stop(dose.KindSuspend, now)
		p.suspended = true
		p.alerts[alert.SuspendInProgress] = struct{}{}
		p.start(cmd.Sequence, dose.KindSuspend, now, 0, 0, 0)

	case command.KindResume:
		if p.suspended {
			p.stop(dose.KindSuspend, now)
			p.suspended = false
			delete(p.alerts, alert.SuspendInProgress)
			p.start(cmd.Sequence, dose.KindBasal, now, 0, 0, p.basalRate)
		}

	case command.KindCancel:
		switch pl.Target {
		case command.KindBolus:
			p.stop(dose.KindBolus, now)
		case command.KindProgramTempBasal:
			p.stop(dose.KindTempBasal, now)
		}

	case command.KindAcknowledgeAlert:
		for _, c := range pl.Alerts {
			delete(p.alerts, c)
		}
	}
	return nil
}

// QueryStatus reports the pod status and retained history.
func (p *Pod) QueryStatus(ctx context.Context, id ids.Identity) (transport.Status, error) {
	if err := ctx.Err(); err != nil {
		return transport.Status{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.statusFail > 0 {
		p.statusFail--
		return transport.Status{}, transport.ErrNoResponse
	}
	if !p.paired || id.ControllerID != p.controllerID {
		return transport.Status{}, transport.ErrNoResponse
	}

	now := p.cfg.Now()
	horizon := now.Add(-p.cfg.HistoryRetention)
	p.prune(horizon, now)

	reservoir := p.reservoirLevel(now)
	if !p.lowRaised && reservoir <= p.cfg.LowReservoirAlert {
		p.alerts[alert.LowReservoir] = struct{}{}
		p.lowRaised = true
	}

	records := make([]dose.HistoryRecord, 0, len(p.deliveries))
	for _, d := range p.deliveries {
		records = append(records, d.record(now))
	}

	var fault *pod.Fault
	if p.fault != nil {
		f := *p.fault
		fault = &f
	}

	return transport.Status{
		TakenAt:             now,
		Active:              p.fault == nil,
		Suspended:           p.suspended,
		BolusRunning:        p.running(dose.KindBolus, now),
		TempBasalRunning:    p.running(dose.KindTempBasal, now),
		Reservoir:           &reservoir,
		Alerts:              p.alertCodes(),
		Fault:               fault,
		LastProgramSequence: p.lastSeq,
		History: dose.HistorySnapshot{
			TakenAt:      now,
			HorizonStart: horizon,
			Records:      records,
		},
	}, nil
}

func (p *Pod) start(seq uint32, kind dose.Kind, now time.Time, duration time.Duration, units, rate float64) {
	p.deliveries = append(p.deliveries, &delivery{
		seq:      seq,
		kind:     kind,
		start:    now,
		duration: duration,
		units:    units,
		rate:     rate,
	})
}

func (p *Pod) stop(kind dose.Kind, now time.Time) {
	for _, d := range p.deliveries {
		if d.kind == kind && d.runningAt(now) {
			d.stopped = now
		}
	}
}

func (p *Pod) running(kind dose.Kind, now time.Time) bool {
	for _, d := range p.deliveries {
		if d.kind == kind && d.runningAt(now) {
			return true
		}
	}
	return false
}

// prune drops finished deliveries that started before horizon.
func (p *Pod) prune(horizon, now time.Time) {
	p.deliveries = slices.DeleteFunc(p.deliveries, func(d *delivery) bool {
		if !d.start.Before(horizon) || d.runningAt(now) {
			return false
		}
		p.consumed += d.delivered(now)
		return true
	})
}

func (p *Pod) reservoirLevel(now time.Time) float64 {
	used := p.consumed
	for _, d := range p.deliveries {
		used += d.delivered(now)
	}
	return max(p.cfg.Reservoir-used, 0)
}

func (p *Pod) alertCodes() []alert.Code {
	codes := make([]alert.Code, 0, len(p.alerts))
	for c := range p.alerts {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	return codes
}

// FailNext queues failure modes for the next commands, in order.
func (p *Pod) FailNext(modes ...FailureMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, modes...)
}

// FailStatus makes the next n status queries go unanswered.
func (p *Pod) FailStatus(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusFail = n
}

// RaiseAlert makes the pod report code.
func (p *Pod) RaiseAlert(code alert.Code) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts[code] = struct{}{}
}

// ClearAlert stops reporting code.
func (p *Pod) ClearAlert(code alert.Code) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.alerts, code)
}

// InjectFault faults the pod. Delivery stops and every later command is
// rejected.
func (p *Pod) InjectFault(code uint8, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Now()
	for _, d := range p.deliveries {
		if d.runningAt(now) {
			d.stopped = now
		}
	}
	p.fault = &pod.Fault{Code: code, Message: message, ReportedAt: now}
}

// Sent returns every command the pod received, including dropped ones.
func (p *Pod) Sent() []transport.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// LastProgramSequence returns the sequence of the last executed command.
func (p *Pod) LastProgramSequence() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq
}

// Delivered returns the total insulin delivered by the current pod.
func (p *Pod) Delivered() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.cfg.Now()
	return p.cfg.Reservoir - p.reservoirLevel(now)
}

// Suspended reports whether delivery is suspended.
func (p *Pod) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}

// Address returns the address of the current pod, or 0 before pairing.
func (p *Pod) Address() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.address
}

var _ transport.Transport = (*Pod)(nil)
