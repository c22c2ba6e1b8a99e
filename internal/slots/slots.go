// Package slots turns an affiliation's working hours into bookable slots.
package slots

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/hackgods/clinic-queue/internal/affiliation"
	"github.com/hackgods/clinic-queue/internal/apperr"
)

var ErrInvalidSlotDuration = fmt.Errorf("slot duration must be positive: %w", apperr.ErrValidation)

type Slot struct {
	Start time.Time
	End   time.Time
}

// Generator computes slots in one reference time zone, so weekday and
// override lookups never drift across a UTC day boundary.
type Generator struct {
	loc *time.Location
}

func NewGenerator(loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{loc: loc}
}

func (g *Generator) Location() *time.Location {
	return g.loc
}

// ParseDate reads a YYYY-MM-DD calendar date in the reference zone.
func (g *Generator) ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(affiliation.DateLayout, s, g.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD: %w", s, apperr.ErrValidation)
	}
	return d, nil
}

// DayWindow returns [start-of-day, end-of-day) around t in the reference zone.
func (g *Generator) DayWindow(t time.Time) (time.Time, time.Time) {
	local := t.In(g.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)
	return start, start.AddDate(0, 0, 1)
}

// Generate returns the ordered bookable slots of aff on the calendar date
// of day, minus any slot whose start equals one of taken.
//
// The result depends only on its inputs.
func (g *Generator) Generate(aff *affiliation.Affiliation, day time.Time, taken []time.Time) ([]Slot, error) {
	if aff.SlotDuration <= 0 {
		return nil, ErrInvalidSlotDuration
	}

	local := day.In(g.loc)
	y, m, d := local.Date()

	ranges := governingRanges(aff, time.Date(y, m, d, 12, 0, 0, 0, g.loc))
	if len(ranges) == 0 {
		return []Slot{}, nil
	}

	step := affiliation.ClockTime(aff.SlotDuration)
	seen := make(map[int64]bool)
	var out []Slot
	for _, r := range ranges {
		for start := r.Start; start+step <= r.End; start += step {
			s := Slot{
				Start: g.at(y, m, d, start),
				End:   g.at(y, m, d, start+step),
			}
			if seen[s.Start.Unix()] {
				continue
			}
			seen[s.Start.Unix()] = true
			out = append(out, s)
		}
	}

	takenSet := make(map[int64]bool, len(taken))
	for _, t := range taken {
		takenSet[t.Unix()] = true
	}
	out = lo.Filter(out, func(s Slot, _ int) bool {
		return !takenSet[s.Start.Unix()]
	})

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// governingRanges picks the override for the date if one exists, otherwise
// the weekly entry for its weekday. noon is the date at midday in the
// reference zone.
func governingRanges(aff *affiliation.Affiliation, noon time.Time) []affiliation.TimeRange {
	key := noon.Format(affiliation.DateLayout)
	if o, ok := lo.Find(aff.DateOverrides, func(o affiliation.DateOverride) bool { return o.Date == key }); ok {
		if o.Unavailable {
			return nil
		}
		return o.Ranges
	}

	if e, ok := lo.Find(aff.WeeklySchedule, func(e affiliation.WeeklyEntry) bool { return e.Day == noon.Weekday() }); ok {
		return e.Ranges
	}
	return nil
}

func (g *Generator) at(y int, m time.Month, d int, c affiliation.ClockTime) time.Time {
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, g.loc)
}
