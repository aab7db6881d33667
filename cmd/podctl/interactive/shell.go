// Package interactive provides the interactive command-line interface
// for podctl.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/loopwire/podcore/pkg/podsim"
	"github.com/loopwire/podcore/pkg/service"
)

// commandTimeout bounds one shell command. A command still on the link when
// it expires is reported uncertain.
const commandTimeout = 30 * time.Second

// Shell handles interactive mode for podctl.
type Shell struct {
	svc *service.PodService
	sim *podsim.Pod
	rl  *readline.Instance
	out io.Writer

	timeout time.Duration
	now     func() time.Time
}

// New creates a new interactive shell. sim may be nil when the link is not
// simulated; the sim commands are then unavailable.
func New(svc *service.PodService, sim *podsim.Pod) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pod> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	s := newShell(svc, sim, rl.Stdout())
	s.rl = rl
	return s, nil
}

func newShell(svc *service.PodService, sim *podsim.Pod, out io.Writer) *Shell {
	return &Shell{
		svc:     svc,
		sim:     sim,
		out:     out,
		timeout: commandTimeout,
		now:     time.Now,
	}
}

// Stdout returns a writer that coordinates with the readline input.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Stderr returns a writer that coordinates with the readline input. Use it
// for log output so records do not clobber the prompt.
func (s *Shell) Stderr() io.Writer {
	return s.rl.Stderr()
}

// Run starts the interactive command loop. It calls cancel when the user
// quits.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if !s.Execute(ctx, line) {
			cancel()
			return
		}
	}
}

// Execute runs one input line. It returns false when the user asked to
// quit.
func (s *Shell) Execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "pair":
		s.cmdPair(ctx)
	case "confirm":
		s.cmdConfirm()
	case "clear-fault":
		s.cmdClearFault()

	case "bolus", "b":
		s.cmdBolus(ctx, args)
	case "cancel-bolus":
		s.cmdCancelBolus(ctx)
	case "temp", "t":
		s.cmdTempBasal(ctx, args)
	case "cancel-temp":
		s.cmdCancelTempBasal(ctx)
	case "suspend":
		s.cmdSuspend(ctx)
	case "resume":
		s.cmdResume(ctx)
	case "basal":
		s.cmdBasal(ctx, args)
	case "ack":
		s.cmdAcknowledge(ctx, args)

	case "status", "s":
		s.cmdStatus()
	case "refresh", "r":
		s.cmdRefresh(ctx)
	case "ledger", "l":
		s.cmdLedger()
	case "alerts":
		s.cmdAlerts()
	case "recover":
		s.cmdRecover(ctx)
	case "abandon":
		s.cmdAbandon(ctx, args)

	case "sim":
		s.cmdSim(args)
	case "fail":
		s.cmdSim(append([]string{"fail"}, args...))

	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Pod Commands:
  Pairing:
    pair                     - Pair a new pod (replaces a faulted or abandoned pod)
    confirm                  - Confirm the pod is attached
    clear-fault              - Clear a reported pod fault

  Delivery:
    bolus <units> [auto]     - Deliver a bolus
    cancel-bolus             - Stop the running bolus
    temp <U/h> <dur> [auto]  - Run a temp basal (e.g. temp 0.5 30m)
    cancel-temp              - Stop the running temp basal
    suspend | resume         - Suspend or resume all delivery
    basal <rate>[@HH:MM]...  - Program the basal schedule (e.g. basal 0.8 1.2@06:00)
    ack <alert>              - Acknowledge an alert

  State:
    status                   - Show pump state
    refresh                  - Query pod status
    ledger                   - Show dose ledger
    alerts                   - Show active and unacknowledged alerts
    recover                  - Probe the pod for an uncertain command now
    abandon yes              - Give up on an uncertain command and the pod

  Simulation:
    sim fail <mode>...       - Fail next commands (reject, drop-before, drop-after)
    fail <mode>...           - Same as sim fail
    sim status-fail <n>      - Leave the next n status queries unanswered
    sim alert <code>         - Raise an alert on the pod
    sim clear-alert <code>   - Clear an alert on the pod
    sim fault <code> [msg]   - Fault the pod

  Other:
    help                     - Show this help
    quit                     - Exit`)
}
