package commands

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/loopwire/podcore/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Outcomes          map[string]int
	DoseActions       map[log.DoseAction]int
	Sessions          map[string]*SessionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single engine run.
type SessionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Commands  int
	Pods      map[uint32]struct{}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Outcomes:          make(map[string]int),
		DoseActions:       make(map[log.DoseAction]int),
		Sessions:          make(map[string]*SessionStats),
	}

	err := eachEvent(path, log.Filter{}, func(event log.Event) error {
		stats.add(event)
		return nil
	})
	if err != nil {
		return err
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	session, ok := s.Sessions[event.SessionID]
	if !ok {
		session = &SessionStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
			Pods:      make(map[uint32]struct{}),
		}
		s.Sessions[event.SessionID] = session
	}
	session.Events++
	if event.Timestamp.After(session.LastSeen) {
		session.LastSeen = event.Timestamp
	}
	if event.PodID != 0 {
		session.Pods[event.PodID] = struct{}{}
	}

	switch {
	case event.Command != nil:
		if event.Command.Phase == log.PhaseSubmitted {
			session.Commands++
		} else if event.Command.Outcome != "" {
			s.Outcomes[event.Command.Outcome]++
		}
	case event.Dose != nil:
		s.DoseActions[event.Dose.Action]++
	case event.Error != nil:
		s.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprint(w, "=== Pod Protocol Log Statistics ===\n\n")

	if stats.TotalEvents > 0 {
		start, end := stats.TimeRange.Start, stats.TimeRange.End
		fmt.Fprintf(w, "Time Range: %s to %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n\n", end.Sub(start).Round(time.Second))
	}
	fmt.Fprintf(w, "Total Events: %d\n\n", stats.TotalEvents)

	printCounts(w, "Events by Layer", stats.EventsByLayer,
		[]log.Layer{log.LayerLink, log.LayerEngine, log.LayerLedger}, true)
	printCounts(w, "Events by Category", stats.EventsByCategory,
		[]log.Category{log.CategoryCommand, log.CategoryStatus, log.CategoryState, log.CategoryDose, log.CategoryError}, true)
	printCounts(w, "Events by Direction", stats.EventsByDirection,
		[]log.Direction{log.DirectionIn, log.DirectionOut, log.DirectionLocal}, true)

	outcomes := make([]outcomeName, 0, len(stats.Outcomes))
	for o := range stats.Outcomes {
		outcomes = append(outcomes, outcomeName(o))
	}
	slices.Sort(outcomes)
	outcomeCounts := make(map[outcomeName]int, len(stats.Outcomes))
	for o, n := range stats.Outcomes {
		outcomeCounts[outcomeName(o)] = n
	}
	printCounts(w, "Command Outcomes", outcomeCounts, outcomes, false)
	printCounts(w, "Dose Actions", stats.DoseActions, []log.DoseAction{
		log.DoseRecorded, log.DoseTruncated, log.DoseFinalized,
		log.DoseDiscarded, log.DoseEstimated, log.DoseReported,
	}, false)

	printSessions(w, stats.Sessions)

	if stats.Errors > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", stats.Errors)
	}
}

type outcomeName string

func (o outcomeName) String() string { return string(o) }

// printCounts writes the non-zero counts in order under title. An empty
// section is skipped unless always is set.
func printCounts[K interface {
	comparable
	String() string
}](w io.Writer, title string, counts map[K]int, order []K, always bool) {
	if len(counts) == 0 && !always {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, k := range order {
		if n := counts[k]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", k.String()+":", n)
		}
	}
	fmt.Fprintln(w)
}

// printSessions lists sessions in the order they first appeared.
func printSessions(w io.Writer, sessions map[string]*SessionStats) {
	fmt.Fprintf(w, "Sessions: %d\n", len(sessions))
	if len(sessions) == 0 {
		return
	}

	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return sessions[a].FirstSeen.Compare(sessions[b].FirstSeen)
	})

	fmt.Fprintln(w)
	for _, id := range ids {
		ss := sessions[id]
		fmt.Fprintf(w, "  [%s] %d events, %d commands, duration %s\n",
			shortenSessionID(id), ss.Events, ss.Commands, ss.LastSeen.Sub(ss.FirstSeen).Round(time.Millisecond))
		if n := len(ss.Pods); n > 0 {
			fmt.Fprintf(w, "           Pods: %d\n", n)
		}
	}
}
