package interactive

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loopwire/podcore/pkg/alert"
	"github.com/loopwire/podcore/pkg/pod"
	"github.com/loopwire/podcore/pkg/podsim"
	"github.com/loopwire/podcore/pkg/service"
)

func (s *Shell) cmdPair(ctx context.Context) {
	st, err := s.svc.Pair(ctx)
	if err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintf(s.out, "Paired pod %s\n", st.Identity.String())
}

func (s *Shell) cmdConfirm() {
	if _, err := s.svc.ConfirmAttachment(); err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintln(s.out, "Pod attachment confirmed")
}

func (s *Shell) cmdClearFault() {
	if _, err := s.svc.ClearFault(); err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintln(s.out, "Fault cleared")
}

func (s *Shell) cmdBolus(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: bolus <units> [auto]")
		return
	}
	units, err := parseAmount(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid units: %v\n", err)
		return
	}
	s.printResult(s.svc.Bolus(ctx, units, isAutomatic(args[1:])))
}

func (s *Shell) cmdCancelBolus(ctx context.Context) {
	s.printResult(s.svc.CancelBolus(ctx))
}

func (s *Shell) cmdTempBasal(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.out, "Usage: temp <U/h> <duration> [auto]")
		return
	}
	rate, err := strconv.ParseFloat(args[0], 64)
	if err != nil || rate < 0 {
		fmt.Fprintf(s.out, "Invalid rate: %s\n", args[0])
		return
	}
	duration, err := time.ParseDuration(args[1])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid duration: %v\n", err)
		return
	}
	s.printResult(s.svc.SetTempBasal(ctx, rate, duration, isAutomatic(args[2:])))
}

func (s *Shell) cmdCancelTempBasal(ctx context.Context) {
	s.printResult(s.svc.CancelTempBasal(ctx))
}

func (s *Shell) cmdSuspend(ctx context.Context) {
	s.printResult(s.svc.Suspend(ctx))
}

func (s *Shell) cmdResume(ctx context.Context) {
	s.printResult(s.svc.Resume(ctx))
}

func (s *Shell) cmdBasal(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: basal <rate>[@HH:MM] ...")
		return
	}
	schedule, err := parseBasalSchedule(args)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid schedule: %v\n", err)
		return
	}
	s.printResult(s.svc.ProgramBasal(ctx, schedule))
}

func (s *Shell) cmdAcknowledge(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: ack <alert>")
		return
	}
	code, err := parseAlertCode(args[0])
	if err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	if _, err := s.svc.AcknowledgeAlert(ctx, code); err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintf(s.out, "Acknowledged %s\n", code)
}

func (s *Shell) cmdStatus() {
	FormatState(s.out, s.svc.Snapshot(), s.svc.RecoveryState(), s.now())
	if s.svc.IsPumpDataStale() {
		fmt.Fprintln(s.out, "  (pump data is stale, run 'refresh')")
	}
}

func (s *Shell) cmdRefresh(ctx context.Context) {
	st, err := s.svc.RefreshStatus(ctx)
	if err != nil {
		s.printError(err)
		return
	}
	FormatState(s.out, st, s.svc.RecoveryState(), s.now())
}

func (s *Shell) cmdLedger() {
	FormatLedger(s.out, s.svc.Snapshot().Ledger.Entries())
}

func (s *Shell) cmdAlerts() {
	st := s.svc.Snapshot()
	active := st.Alerts.Active()
	pending := st.Alerts.PendingAcknowledgment()
	if len(active) == 0 && len(pending) == 0 {
		fmt.Fprintln(s.out, "No alerts")
		return
	}
	fmt.Fprintf(s.out, "Active:  %s\n", joinCodes(active))
	fmt.Fprintf(s.out, "To ack:  %s\n", joinCodes(pending))
}

func (s *Shell) cmdRecover(ctx context.Context) {
	resolved, err := s.svc.AttemptRecovery(ctx)
	switch {
	case err != nil:
		s.printError(err)
	case resolved:
		fmt.Fprintln(s.out, "Uncertain command resolved")
	default:
		fmt.Fprintln(s.out, "Still uncertain")
	}
}

func (s *Shell) cmdAbandon(ctx context.Context, args []string) {
	if len(args) < 1 || args[0] != "yes" {
		fmt.Fprintln(s.out, "Abandoning assumes the uncertain command ran and retires the pod.")
		fmt.Fprintln(s.out, "Usage: abandon yes")
		return
	}
	if _, err := s.svc.Abandon(ctx); err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintln(s.out, "Pod abandoned. Pair a new pod to continue.")
}

func (s *Shell) cmdSim(args []string) {
	if s.sim == nil {
		fmt.Fprintln(s.out, "No simulated pod")
		return
	}
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: sim <fail|status-fail|alert|clear-alert|fault> ...")
		return
	}

	switch args[0] {
	case "fail":
		modes, err := parseFailureModes(args[1:])
		if err != nil {
			fmt.Fprintln(s.out, err)
			return
		}
		s.sim.FailNext(modes...)
		fmt.Fprintf(s.out, "Next %d command(s) will fail\n", len(modes))

	case "status-fail":
		n := 1
		if len(args) > 1 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v < 0 {
				fmt.Fprintf(s.out, "Invalid count: %s\n", args[1])
				return
			}
			n = v
		}
		s.sim.FailStatus(n)
		fmt.Fprintf(s.out, "Next %d status queries will go unanswered\n", n)

	case "alert", "clear-alert":
		if len(args) < 2 {
			fmt.Fprintf(s.out, "Usage: sim %s <code>\n", args[0])
			return
		}
		code, err := parseAlertCode(args[1])
		if err != nil {
			fmt.Fprintln(s.out, err)
			return
		}
		if args[0] == "alert" {
			s.sim.RaiseAlert(code)
		} else {
			s.sim.ClearAlert(code)
		}
		fmt.Fprintf(s.out, "Pod %s %s\n", args[0], code)

	case "fault":
		if len(args) < 2 {
			fmt.Fprintln(s.out, "Usage: sim fault <code> [message]")
			return
		}
		code, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			fmt.Fprintf(s.out, "Invalid fault code: %s\n", args[1])
			return
		}
		s.sim.InjectFault(uint8(code), strings.Join(args[2:], " "))
		fmt.Fprintf(s.out, "Pod faulted with code 0x%02X\n", code)

	default:
		fmt.Fprintf(s.out, "Unknown sim command: %s\n", args[0])
	}
}

func (s *Shell) printResult(res *service.Result, err error) {
	if err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintf(s.out, "Acknowledged %s at %s\n", res.Command.String(), res.AckedAt.Format(time.TimeOnly))
	for _, d := range res.Doses {
		fmt.Fprintf(s.out, "  %s\n", d.String())
	}
}

func (s *Shell) printError(err error) {
	var uncertain *service.UncertainError
	switch {
	case errors.As(err, &uncertain):
		fmt.Fprintf(s.out, "Delivery uncertain: %s\n", uncertain.Command.String())
		fmt.Fprintln(s.out, "  The pod did not answer. Recovery is probing it; 'recover' probes now, 'abandon yes' gives up.")
	case errors.Is(err, service.ErrAlreadyPending):
		fmt.Fprintf(s.out, "Blocked: %v\n", err)
	case errors.Is(err, service.ErrOperationInProgress):
		fmt.Fprintf(s.out, "Busy: %v\n", err)
	case errors.Is(err, service.ErrDeviceFaulted):
		fmt.Fprintln(s.out, "Pod is faulted. Pair a new pod or 'clear-fault'.")
	case errors.Is(err, service.ErrNotPaired):
		fmt.Fprintln(s.out, "No active pod. Use 'pair' first.")
	default:
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
}

func isAutomatic(args []string) bool {
	return len(args) > 0 && strings.EqualFold(args[0], "auto")
}

// parseAmount parses a positive insulin amount in units.
func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s is not positive", s)
	}
	return v, nil
}

// parseBasalSchedule parses entries of the form rate or rate@HH:MM. The
// first entry starts at midnight when it has no time.
func parseBasalSchedule(args []string) (pod.BasalSchedule, error) {
	var schedule pod.BasalSchedule
	for i, arg := range args {
		rateStr, startStr, hasStart := strings.Cut(arg, "@")
		rate, err := strconv.ParseFloat(rateStr, 64)
		if err != nil {
			return schedule, fmt.Errorf("entry %d: invalid rate %q", i, rateStr)
		}

		var start time.Duration
		switch {
		case hasStart:
			t, err := time.Parse("15:04", startStr)
			if err != nil {
				return schedule, fmt.Errorf("entry %d: invalid start %q", i, startStr)
			}
			start = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
		case i > 0:
			return schedule, fmt.Errorf("entry %d: start time required", i)
		}

		schedule.Entries = append(schedule.Entries, pod.BasalEntry{Start: start.Seconds(), Rate: rate})
	}
	return schedule, schedule.Validate()
}

func parseAlertCode(s string) (alert.Code, error) {
	code := alert.Code(s)
	if !code.Known() {
		return "", fmt.Errorf("unknown alert: %s", s)
	}
	return code, nil
}

func parseFailureModes(args []string) ([]podsim.FailureMode, error) {
	if len(args) == 0 {
		return nil, errors.New("usage: sim fail <reject|drop-before|drop-after>...")
	}
	modes := make([]podsim.FailureMode, 0, len(args))
	for _, arg := range args {
		m, ok := podsim.ParseFailureMode(arg)
		if !ok {
			return nil, fmt.Errorf("unknown failure mode: %s", arg)
		}
		modes = append(modes, m)
	}
	return modes, nil
}
