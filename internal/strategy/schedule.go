package strategy

import (
	"fmt"
	"strconv"
	"strings"
)

// Entry is one target of a schedule and the number of compounding cycles it stays active.
type Entry struct {
	Target string
	Hold   int
}

// Schedule is the ordered list of targets. The head entry is the active one.
type Schedule struct {
	Entries []Entry
}

// ParseSchedule parses a whitespace separated list of targets, each optionally
// followed by a positive hold count: "ETH 3 BTC-DFI".
func ParseSchedule(s string) (Schedule, error) {
	var sched Schedule
	for _, field := range strings.Fields(s) {
		if n, err := strconv.Atoi(field); err == nil {
			if len(sched.Entries) == 0 {
				return Schedule{}, fmt.Errorf("hold count %q before any target", field)
			}
			if n <= 0 {
				return Schedule{}, fmt.Errorf("hold count must be positive, got %d", n)
			}
			last := &sched.Entries[len(sched.Entries)-1]
			if last.Hold != 0 {
				return Schedule{}, fmt.Errorf("target %q has more than one hold count", last.Target)
			}
			last.Hold = n
			continue
		}
		sched.Entries = append(sched.Entries, Entry{Target: field})
	}
	if len(sched.Entries) == 0 {
		return Schedule{}, fmt.Errorf("empty target")
	}
	for i := range sched.Entries {
		if sched.Entries[i].Hold == 0 {
			sched.Entries[i].Hold = 1
		}
	}
	return sched, nil
}

// Head returns the active entry.
func (s Schedule) Head() Entry {
	if len(s.Entries) == 0 {
		return Entry{}
	}
	return s.Entries[0]
}

// Rotating reports whether the schedule has more than one entry.
func (s Schedule) Rotating() bool {
	return len(s.Entries) > 1
}

// Rotate moves the head entry to the tail.
func (s Schedule) Rotate() Schedule {
	if !s.Rotating() {
		return s
	}
	entries := make([]Entry, 0, len(s.Entries))
	entries = append(entries, s.Entries[1:]...)
	entries = append(entries, s.Entries[0])
	return Schedule{Entries: entries}
}

// String renders the schedule in its configuration form. Hold counts of 1 are omitted.
func (s Schedule) String() string {
	parts := make([]string, 0, len(s.Entries)*2)
	for _, e := range s.Entries {
		parts = append(parts, e.Target)
		if e.Hold > 1 {
			parts = append(parts, strconv.Itoa(e.Hold))
		}
	}
	return strings.Join(parts, " ")
}
