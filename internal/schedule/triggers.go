// Package schedule maps wall-clock trigger rules onto ledger actions.
//
// Rules are pure data and the dueness computation is a pure function of
// (rule, last run marker, now), so the same logic drives both the live
// ticker and the startup replay after downtime.
package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind controls what happens to a trigger that fired while the process
// was down.
type Kind int

const (
	// Notify triggers are informational; missed firings are skipped.
	Notify Kind = iota
	// Close triggers guard the month lifecycle; missed firings are
	// replayed in order on startup.
	Close
)

// TimeOfDay is a wall-clock time in the configured timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Rule is one named trigger: a day rule plus a time of day.
// Exactly one of the day fields is set.
type Rule struct {
	Name string
	Kind Kind
	At   TimeOfDay

	Daily      bool
	Weekday    *time.Weekday
	DayOfMonth int // 1..28
	LastDay    bool
}

func DailyRule(name string, kind Kind, at TimeOfDay) Rule {
	return Rule{Name: name, Kind: kind, At: at, Daily: true}
}

func WeeklyRule(name string, kind Kind, wd time.Weekday, at TimeOfDay) Rule {
	return Rule{Name: name, Kind: kind, At: at, Weekday: &wd}
}

func MonthDayRule(name string, kind Kind, day int, at TimeOfDay) Rule {
	return Rule{Name: name, Kind: kind, At: at, DayOfMonth: day}
}

func LastDayRule(name string, kind Kind, at TimeOfDay) Rule {
	return Rule{Name: name, Kind: kind, At: at, LastDay: true}
}

func (r Rule) matchesDay(day time.Time) bool {
	switch {
	case r.Daily:
		return true
	case r.Weekday != nil:
		return day.Weekday() == *r.Weekday
	case r.DayOfMonth > 0:
		return day.Day() == r.DayOfMonth
	case r.LastDay:
		return day.AddDate(0, 0, 1).Day() == 1
	}
	return false
}

// PrevFire returns the most recent scheduled instant of r at or before now,
// in loc. The zero time means the rule never fired (should not happen for
// any rule that recurs at least yearly).
func PrevFire(r Rule, now time.Time, loc *time.Location) time.Time {
	n := now.In(loc)
	for d := 0; d < 370; d++ {
		day := n.AddDate(0, 0, -d)
		if !r.matchesDay(day) {
			continue
		}
		fire := time.Date(day.Year(), day.Month(), day.Day(), r.At.Hour, r.At.Minute, 0, 0, loc)
		if !fire.After(n) {
			return fire
		}
	}
	return time.Time{}
}

// Firing is one due trigger occurrence.
type Firing struct {
	Rule Rule
	At   time.Time
}

// Due returns every trigger whose most recent scheduled instant is later
// than its last recorded run, ordered by firing time. A zero lastRun means
// the trigger has never run; its latest occurrence is treated as due so a
// fresh deployment does not replay arbitrary history.
func Due(rules []Rule, lastRuns map[string]time.Time, now time.Time, loc *time.Location) []Firing {
	var due []Firing
	for _, r := range rules {
		fire := PrevFire(r, now, loc)
		if fire.IsZero() {
			continue
		}
		last := lastRuns[r.Name]
		if last.IsZero() || fire.After(last) {
			due = append(due, Firing{Rule: r, At: fire})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].At.Equal(due[j].At) {
			return due[i].Rule.Name < due[j].Rule.Name
		}
		return due[i].At.Before(due[j].At)
	})
	return due
}
