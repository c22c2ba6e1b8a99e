package slots

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hackgods/clinic-queue/internal/affiliation"
	"github.com/hackgods/clinic-queue/internal/apperr"
)

func hm(h, m int) affiliation.ClockTime {
	return affiliation.ClockTime(h*60 + m)
}

func weekly(day time.Weekday, ranges ...affiliation.TimeRange) *affiliation.Affiliation {
	return &affiliation.Affiliation{
		Status:         affiliation.StatusApproved,
		SlotDuration:   15,
		WeeklySchedule: []affiliation.WeeklyEntry{{Day: day, Ranges: ranges}},
	}
}

func starts(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.Format("15:04"))
	}
	return out
}

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func TestGenerateExcludesPartialTrailingSlot(t *testing.T) {
	g := NewGenerator(time.UTC)
	aff := weekly(time.Monday, affiliation.TimeRange{Start: hm(9, 0), End: hm(9, 40)})

	got, err := g.Generate(aff, monday, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if want := []string{"09:00", "09:15"}; !reflect.DeepEqual(starts(got), want) {
		t.Fatalf("expected %v, got %v", want, starts(got))
	}
	if !got[1].End.Equal(monday.Add(9*time.Hour + 30*time.Minute)) {
		t.Fatalf("unexpected end of last slot %s", got[1].End)
	}
}

func TestGenerateUnavailableOverride(t *testing.T) {
	g := NewGenerator(time.UTC)
	aff := weekly(time.Monday, affiliation.TimeRange{Start: hm(9, 0), End: hm(12, 0)})
	aff.DateOverrides = []affiliation.DateOverride{{Date: "2026-03-02", Unavailable: true}}

	got, err := g.Generate(aff, monday, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no slots on an unavailable day, got %v", starts(got))
	}

	next, err := g.Generate(aff, monday.AddDate(0, 0, 7), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 12 {
		t.Fatalf("override must only affect its own date, got %d slots", len(next))
	}
}

func TestGenerateOverrideRangesReplaceWeekly(t *testing.T) {
	g := NewGenerator(time.UTC)
	aff := weekly(time.Monday, affiliation.TimeRange{Start: hm(9, 0), End: hm(12, 0)})
	aff.DateOverrides = []affiliation.DateOverride{{
		Date:   "2026-03-02",
		Ranges: []affiliation.TimeRange{{Start: hm(15, 0), End: hm(15, 30)}},
	}}

	got, err := g.Generate(aff, monday, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"15:00", "15:15"}; !reflect.DeepEqual(starts(got), want) {
		t.Fatalf("expected %v, got %v", want, starts(got))
	}
}

func TestGenerateNoScheduleForWeekday(t *testing.T) {
	g := NewGenerator(time.UTC)
	aff := weekly(time.Tuesday, affiliation.TimeRange{Start: hm(9, 0), End: hm(12, 0)})

	got, err := g.Generate(aff, monday, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty list, got %v", starts(got))
	}
}

func TestGenerateRemovesTakenSlots(t *testing.T) {
	g := NewGenerator(time.UTC)
	aff := weekly(time.Monday, affiliation.TimeRange{Start: hm(9, 0), End: hm(10, 0)})

	taken := []time.Time{monday.Add(9*time.Hour + 15*time.Minute)}
	got, err := g.Generate(aff, monday, taken)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"09:00", "09:30", "09:45"}; !reflect.DeepEqual(starts(got), want) {
		t.Fatalf("expected %v, got %v", want, starts(got))
	}
}

func TestGenerateInvertedAndEmptyRanges(t *testing.T) {
	g := NewGenerator(time.UTC)
	aff := weekly(time.Monday,
		affiliation.TimeRange{Start: hm(12, 0), End: hm(9, 0)},
		affiliation.TimeRange{Start: hm(10, 0), End: hm(10, 0)},
		affiliation.TimeRange{Start: hm(14, 0), End: hm(14, 15)},
	)

	got, err := g.Generate(aff, monday, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"14:00"}; !reflect.DeepEqual(starts(got), want) {
		t.Fatalf("expected %v, got %v", want, starts(got))
	}
}

func TestGenerateRejectsNonPositiveDuration(t *testing.T) {
	g := NewGenerator(time.UTC)
	aff := weekly(time.Monday, affiliation.TimeRange{Start: hm(9, 0), End: hm(10, 0)})

	for _, d := range []int{0, -5} {
		aff.SlotDuration = d
		if _, err := g.Generate(aff, monday, nil); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("duration %d: expected validation error, got %v", d, err)
		}
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	g := NewGenerator(time.UTC)
	aff := weekly(time.Monday,
		affiliation.TimeRange{Start: hm(14, 0), End: hm(15, 0)},
		affiliation.TimeRange{Start: hm(9, 0), End: hm(10, 0)},
	)
	taken := []time.Time{monday.Add(14 * time.Hour)}

	first, err := g.Generate(aff, monday, taken)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Generate(aff, monday, taken)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated calls must return identical slots")
	}
	if starts(first)[0] != "09:00" {
		t.Fatalf("slots must be ordered, got %v", starts(first))
	}
}

func TestGenerateUsesReferenceZoneWeekday(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	g := NewGenerator(loc)
	aff := weekly(time.Monday, affiliation.TimeRange{Start: hm(9, 0), End: hm(9, 30)})

	// 2026-03-01 20:00 UTC is already Monday 01:30 in the reference zone.
	got, err := g.Generate(aff, time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected Monday slots, got %v", starts(got))
	}
	if got[0].Start.Location() != loc {
		t.Fatal("slots must be expressed in the reference zone")
	}
}

func TestDayWindow(t *testing.T) {
	g := NewGenerator(time.UTC)
	start, end := g.DayWindow(monday.Add(13 * time.Hour))
	if !start.Equal(monday) || !end.Equal(monday.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected window [%s, %s)", start, end)
	}
}
