// Package recurrence expands dosing schedules into concrete instants.
//
// A schedule is a list of zero-padded "HH:MM" slots plus an optional weekday
// subset. Expansion is pure: the same schedule, calendar day and location
// always yield the same instants, which is what lets the dose resolver and the
// missed-dose sweeper agree on which doses should exist.
package recurrence

import (
	"fmt"
	"sort"
	"time"
)

// Spec is the part of a schedule the expander needs.
type Spec struct {
	Times      []string // "HH:MM", 24-hour, zero padded
	DaysOfWeek []int    // 0 = Sunday; nil or empty means every day
}

// Slot is one expanded dose instant.
type Slot struct {
	Time string    // the "HH:MM" slot it came from
	At   time.Time // absolute instant in the expansion location
}

// Day is a calendar date independent of any location.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar day t falls on in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Day: d}
}

// AddDays returns the day n days after d (n may be negative).
func (d Day) AddDays(n int) Day {
	t := time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC)
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Weekday returns the day of week of d.
func (d Day) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

// Start returns local midnight of d in loc.
func (d Day) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Expand returns the scheduled instants of spec on day, evaluated in loc,
// ascending by slot time. Days excluded by the weekday subset yield nil.
// Malformed slots are skipped; schedules are validated before they are stored.
func Expand(spec Spec, day Day, loc *time.Location) []Slot {
	if !OnDay(spec, day) {
		return nil
	}
	times := append([]string(nil), spec.Times...)
	sort.Strings(times)

	out := make([]Slot, 0, len(times))
	for i, hm := range times {
		if i > 0 && times[i-1] == hm {
			continue
		}
		h, m, err := ParseClock(hm)
		if err != nil {
			continue
		}
		out = append(out, Slot{
			Time: hm,
			At:   time.Date(day.Year, day.Month, day.Day, h, m, 0, 0, loc),
		})
	}
	return out
}

// OnDay reports whether spec has any doses on day.
func OnDay(spec Spec, day Day) bool {
	if len(spec.DaysOfWeek) == 0 {
		return true
	}
	wd := int(day.Weekday())
	for _, d := range spec.DaysOfWeek {
		if d == wd {
			return true
		}
	}
	return false
}

// SlotAt reports whether instant is exactly one of spec's expansions on the
// local day it falls on. It returns the matching slot when it is.
func SlotAt(spec Spec, instant time.Time, loc *time.Location) (Slot, bool) {
	for _, s := range Expand(spec, DayOf(instant, loc), loc) {
		if s.At.Equal(instant) {
			return s, true
		}
	}
	return Slot{}, false
}

// DosesPerWeek counts how many slots spec yields over a full week.
func DosesPerWeek(spec Spec) int {
	days := 7
	if len(spec.DaysOfWeek) > 0 {
		seen := make(map[int]struct{}, len(spec.DaysOfWeek))
		for _, d := range spec.DaysOfWeek {
			seen[d] = struct{}{}
		}
		days = len(seen)
	}
	return len(Normalize(spec.Times)) * days
}
