package recurrence

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// ErrInvalidSchedule is wrapped by every ValidationError.
var ErrInvalidSchedule = errors.New("invalid schedule")

// Bounds for Schedule.GracePeriodMinutes.
const (
	MinGraceMinutes = 0
	MaxGraceMinutes = 120
)

var clockRE = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidationError names the offending field of a rejected schedule.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidSchedule.
func (e *ValidationError) Unwrap() error { return ErrInvalidSchedule }

// ParseClock splits a "HH:MM" slot into hour and minute.
func ParseClock(hm string) (hour, minute int, err error) {
	if !clockRE.MatchString(hm) {
		return 0, 0, &ValidationError{Field: "times", Reason: fmt.Sprintf("%q is not HH:MM", hm)}
	}
	hour, _ = strconv.Atoi(hm[:2])
	minute, _ = strconv.Atoi(hm[3:])
	return hour, minute, nil
}

// Validate checks a schedule definition before it is persisted: at least one
// well-formed, unique time; weekdays within 0..6 without duplicates; and a
// grace period within bounds.
func Validate(times []string, days []int, graceMinutes int) error {
	if len(times) == 0 {
		return &ValidationError{Field: "times", Reason: "at least one time is required"}
	}
	seen := make(map[string]struct{}, len(times))
	for _, hm := range times {
		if _, _, err := ParseClock(hm); err != nil {
			return err
		}
		if _, dup := seen[hm]; dup {
			return &ValidationError{Field: "times", Reason: fmt.Sprintf("duplicate time %q", hm)}
		}
		seen[hm] = struct{}{}
	}

	seenDays := make(map[int]struct{}, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return &ValidationError{Field: "days_of_week", Reason: fmt.Sprintf("%d is outside 0..6", d)}
		}
		if _, dup := seenDays[d]; dup {
			return &ValidationError{Field: "days_of_week", Reason: fmt.Sprintf("duplicate weekday %d", d)}
		}
		seenDays[d] = struct{}{}
	}

	if graceMinutes < MinGraceMinutes || graceMinutes > MaxGraceMinutes {
		return &ValidationError{Field: "grace_period_minutes", Reason: fmt.Sprintf("must be between %d and %d", MinGraceMinutes, MaxGraceMinutes)}
	}
	return nil
}

// Normalize returns times sorted ascending with duplicates removed.
func Normalize(times []string) []string {
	out := append([]string(nil), times...)
	sort.Strings(out)
	j := 0
	for i, t := range out {
		if i > 0 && out[j-1] == t {
			continue
		}
		out[j] = t
		j++
	}
	return out[:j]
}

// NormalizeDays returns days sorted ascending; nil stays nil and an empty
// subset collapses to nil ("every day").
func NormalizeDays(days []int) []int {
	if len(days) == 0 {
		return nil
	}
	out := append([]int(nil), days...)
	sort.Ints(out)
	return out
}

// Interval flattens a fixed-interval rule ("every N minutes starting at
// HH:MM, count times") into an explicit slot list. Slots that would roll past
// midnight are dropped.
func Interval(start string, everyMinutes, count int) ([]string, error) {
	h, m, err := ParseClock(start)
	if err != nil {
		return nil, err
	}
	if everyMinutes <= 0 {
		return nil, &ValidationError{Field: "interval", Reason: "must be positive"}
	}
	if count <= 0 {
		return nil, &ValidationError{Field: "count", Reason: "must be positive"}
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		total := h*60 + m + i*everyMinutes
		if total >= 24*60 {
			break
		}
		out = append(out, fmt.Sprintf("%02d:%02d", total/60, total%60))
	}
	return out, nil
}
