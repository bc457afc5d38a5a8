package recurrence

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var zoneEST = time.FixedZone("EST", -5*3600)

func TestExpand_TwiceDaily_EveryWeekday(t *testing.T) {
	spec := Spec{Times: []string{"21:00", "09:00"}}
	start := Day{Year: 2025, Month: time.June, Day: 1} // a Sunday

	for i := 0; i < 7; i++ {
		day := start.AddDays(i)
		slots := Expand(spec, day, zoneEST)
		if len(slots) != 2 {
			t.Fatalf("%s: expected 2 slots, got %d", day, len(slots))
		}
		if slots[0].Time != "09:00" || slots[1].Time != "21:00" {
			t.Fatalf("%s: slots not ascending: %+v", day, slots)
		}
		want0 := time.Date(day.Year, day.Month, day.Day, 9, 0, 0, 0, zoneEST)
		want1 := time.Date(day.Year, day.Month, day.Day, 21, 0, 0, 0, zoneEST)
		if !slots[0].At.Equal(want0) || !slots[1].At.Equal(want1) {
			t.Fatalf("%s: unexpected instants %v %v", day, slots[0].At, slots[1].At)
		}
		if slots[0].At.Location() != zoneEST {
			t.Fatalf("expected instants in the expansion location")
		}
	}
}

func TestExpand_WeekdaySubset(t *testing.T) {
	spec := Spec{Times: []string{"08:00"}, DaysOfWeek: []int{1, 3, 5}}
	sunday := Day{Year: 2025, Month: time.June, Day: 1}
	if sunday.Weekday() != time.Sunday {
		t.Fatalf("fixture is not a Sunday")
	}
	if got := Expand(spec, sunday, zoneEST); len(got) != 0 {
		t.Fatalf("expected no slots on Sunday, got %+v", got)
	}
	if got := Expand(spec, sunday.AddDays(1), zoneEST); len(got) != 1 {
		t.Fatalf("expected one slot on Monday, got %+v", got)
	}
	if got := Expand(spec, sunday.AddDays(2), zoneEST); len(got) != 0 {
		t.Fatalf("expected no slots on Tuesday, got %+v", got)
	}
}

func TestExpand_IsDeterministic_AndSkipsMalformed(t *testing.T) {
	spec := Spec{Times: []string{"12:30", "bad", "07:05", "12:30"}}
	day := Day{Year: 2025, Month: time.January, Day: 15}
	a := Expand(spec, day, time.UTC)
	b := Expand(spec, day, time.UTC)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expansion not deterministic")
	}
	if len(a) != 2 || a[0].Time != "07:05" || a[1].Time != "12:30" {
		t.Fatalf("unexpected slots: %+v", a)
	}
}

func TestSlotAt(t *testing.T) {
	spec := Spec{Times: []string{"08:00", "20:00"}}
	at := time.Date(2025, 2, 10, 20, 0, 0, 0, zoneEST)
	s, ok := SlotAt(spec, at, zoneEST)
	if !ok || s.Time != "20:00" {
		t.Fatalf("expected 20:00 slot, got %+v ok=%v", s, ok)
	}
	// Same wall clock in a different zone is a different instant.
	if _, ok := SlotAt(spec, at.Add(time.Minute), zoneEST); ok {
		t.Fatalf("off-by-a-minute instant must not match")
	}
	// Instant in UTC that equals 08:00 EST still matches once converted.
	utc := time.Date(2025, 2, 10, 13, 0, 0, 0, time.UTC)
	if s, ok := SlotAt(spec, utc, zoneEST); !ok || s.Time != "08:00" {
		t.Fatalf("expected UTC instant to map to 08:00 EST, got %+v ok=%v", s, ok)
	}
}

func TestDayHelpers(t *testing.T) {
	d := Day{Year: 2025, Month: time.March, Day: 1}
	if got := d.AddDays(-1); got != (Day{2025, time.February, 28}) {
		t.Fatalf("AddDays(-1) = %v", got)
	}
	if got := d.String(); got != "2025-03-01" {
		t.Fatalf("String() = %q", got)
	}
	late := time.Date(2025, 3, 2, 2, 0, 0, 0, time.UTC) // still March 1 in EST
	if got := DayOf(late, zoneEST); got != d {
		t.Fatalf("DayOf = %v, want %v", got, d)
	}
	if !d.Start(zoneEST).Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, zoneEST)) {
		t.Fatalf("Start mismatch")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		times []string
		days  []int
		grace int
		field string
	}{
		{"no times", nil, nil, 30, "times"},
		{"bad clock", []string{"24:00"}, nil, 30, "times"},
		{"unpadded", []string{"8:00"}, nil, 30, "times"},
		{"duplicate time", []string{"08:00", "08:00"}, nil, 30, "times"},
		{"weekday range", []string{"08:00"}, []int{7}, 30, "days_of_week"},
		{"duplicate weekday", []string{"08:00"}, []int{1, 1}, 30, "days_of_week"},
		{"grace too big", []string{"08:00"}, nil, 121, "grace_period_minutes"},
		{"grace negative", []string{"08:00"}, nil, -1, "grace_period_minutes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.times, tc.days, tc.grace)
			if !errors.Is(err, ErrInvalidSchedule) {
				t.Fatalf("expected ErrInvalidSchedule, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
		})
	}

	if err := Validate([]string{"00:00", "23:59"}, []int{0, 6}, 120); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize([]string{"21:00", "09:00", "21:00"}); !reflect.DeepEqual(got, []string{"09:00", "21:00"}) {
		t.Fatalf("Normalize = %v", got)
	}
	if NormalizeDays([]int{}) != nil {
		t.Fatalf("empty weekday subset should collapse to nil")
	}
	if got := NormalizeDays([]int{5, 1, 3}); !reflect.DeepEqual(got, []int{1, 3, 5}) {
		t.Fatalf("NormalizeDays = %v", got)
	}
}

func TestInterval(t *testing.T) {
	got, err := Interval("06:00", 8*60, 4)
	if err != nil {
		t.Fatalf("Interval: %v", err)
	}
	// The fourth dose (06:00 next day) rolls past midnight and is dropped.
	if !reflect.DeepEqual(got, []string{"06:00", "14:00", "22:00"}) {
		t.Fatalf("Interval = %v", got)
	}
	if _, err := Interval("06:00", 0, 2); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected error for zero interval, got %v", err)
	}
	if _, err := Interval("6am", 60, 2); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected error for malformed start, got %v", err)
	}
}

func TestDosesPerWeek(t *testing.T) {
	if got := DosesPerWeek(Spec{Times: []string{"08:00", "20:00"}}); got != 14 {
		t.Fatalf("DosesPerWeek daily = %d", got)
	}
	if got := DosesPerWeek(Spec{Times: []string{"08:00"}, DaysOfWeek: []int{1, 3, 5}}); got != 3 {
		t.Fatalf("DosesPerWeek MWF = %d", got)
	}
}
