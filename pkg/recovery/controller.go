package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loopwire/podcore/pkg/command"
)

// Recovery errors.
var (
	ErrNotUncertain = errors.New("no uncertain command")
	ErrClosed       = errors.New("recovery controller closed")
)

// State is the recovery state.
type State uint8

const (
	// StateIdle means no command is uncertain.
	StateIdle State = iota

	// StateUncertain means a command's outcome is unknown and probing runs.
	StateUncertain

	// StateResolved means the last uncertain command was settled by status.
	StateResolved

	// StateAbandoned means the user gave up on the pod.
	StateAbandoned
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateUncertain:
		return "UNCERTAIN"
	case StateResolved:
		return "RESOLVED"
	case StateAbandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// ProbeFunc performs one status probe. It returns true when the probe
// settled the uncertain command.
type ProbeFunc func(ctx context.Context) (bool, error)

// Config configures a Controller.
type Config struct {
	Backoff BackoffConfig

	// ProbeTimeout bounds a single probe started by the background loop.
	ProbeTimeout time.Duration

	// Logger receives operational logs. Nil disables logging.
	Logger *slog.Logger
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		Backoff:      DefaultBackoffConfig(),
		ProbeTimeout: 30 * time.Second,
	}
}

// Controller tracks recovery of one uncertain command at a time.
type Controller struct {
	mu sync.RWMutex

	state   State
	outcome command.Outcome
	closed  bool

	backoff      *Backoff
	probe        ProbeFunc
	probeTimeout time.Duration
	logger       *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	triggerCh chan struct{}

	onStateChange func(oldState, newState State)
	onAttempt     func(attempt int, resolved bool, err error)
}

// NewController creates a controller that settles commands with probe.
func NewController(probe ProbeFunc, cfg Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	return &Controller{
		state:        StateIdle,
		backoff:      NewBackoff(cfg.Backoff),
		probe:        probe,
		probeTimeout: cfg.ProbeTimeout,
		logger:       cfg.Logger,
		ctx:          ctx,
		cancel:       cancel,
		triggerCh:    make(chan struct{}, 1),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Outcome returns the outcome of the last resolution.
func (c *Controller) Outcome() command.Outcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.outcome
}

// Attempts returns the number of background probes since the last Enter.
func (c *Controller) Attempts() int {
	return c.backoff.Attempts()
}

// Enter starts recovery. Calling it while already uncertain only wakes
// the loop.
func (c *Controller) Enter() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	old := c.state
	if old != StateUncertain {
		c.state = StateUncertain
		c.outcome = 0
		c.backoff.Reset()
	}
	c.mu.Unlock()

	if old != StateUncertain {
		c.notify(old, StateUncertain)
	}
	c.trigger()
}

// Resolve records that status settled the command.
func (c *Controller) Resolve(outcome command.Outcome) error {
	c.mu.Lock()
	if c.state != StateUncertain {
		c.mu.Unlock()
		return ErrNotUncertain
	}
	c.state = StateResolved
	c.outcome = outcome
	c.mu.Unlock()

	c.notify(StateUncertain, StateResolved)
	return nil
}

// Abandon stops recovery without an outcome.
func (c *Controller) Abandon() error {
	c.mu.Lock()
	if c.state != StateUncertain {
		c.mu.Unlock()
		return ErrNotUncertain
	}
	c.state = StateAbandoned
	c.mu.Unlock()

	c.notify(StateUncertain, StateAbandoned)
	return nil
}

// Restore sets the state directly. Used on startup to bring back an
// abandoned marker; use Enter to resume probing.
func (c *Controller) Restore(state State) {
	c.mu.Lock()
	old := c.state
	c.state = state
	c.mu.Unlock()

	if old != state {
		c.notify(old, state)
	}
}

// Reset returns to idle. Called when a new pod is paired.
func (c *Controller) Reset() {
	c.Restore(StateIdle)
	c.backoff.Reset()
}

// Attempt runs one probe now. It fails with ErrNotUncertain when there is
// nothing to recover.
func (c *Controller) Attempt(ctx context.Context) (bool, error) {
	if c.State() != StateUncertain {
		return false, ErrNotUncertain
	}
	return c.probe(ctx)
}

// Start launches the background probe loop.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Close stops the loop and waits for it to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Controller) trigger() {
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

func (c *Controller) loop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.triggerCh:
			c.run()
		}
	}
}

// run probes with backoff until the state leaves UNCERTAIN.
func (c *Controller) run() {
	for c.State() == StateUncertain {
		delay := c.backoff.Next()
		attempt := c.backoff.Attempts()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		if c.State() != StateUncertain {
			return
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.probeTimeout)
		resolved, err := c.probe(ctx)
		cancel()

		if c.logger != nil {
			c.logger.Debug("recovery probe",
				"attempt", attempt,
				"delay", delay,
				"resolved", resolved,
				"error", err)
		}

		c.mu.RLock()
		fn := c.onAttempt
		c.mu.RUnlock()
		if fn != nil {
			fn(attempt, resolved, err)
		}
	}
}

func (c *Controller) notify(oldState, newState State) {
	c.mu.RLock()
	fn := c.onStateChange
	c.mu.RUnlock()
	if fn != nil {
		fn(oldState, newState)
	}
}

// OnStateChange sets a callback for state changes.
func (c *Controller) OnStateChange(fn func(oldState, newState State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

// OnAttempt sets a callback for background probe attempts.
func (c *Controller) OnAttempt(fn func(attempt int, resolved bool, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAttempt = fn
}
