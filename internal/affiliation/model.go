package affiliation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusRevoked  Status = "REVOKED"
)

// Party is the side of the relationship that asked for it. The other side
// answers.
type Party string

const (
	PartyDoctor   Party = "DOCTOR"
	PartyFacility Party = "FACILITY"
)

// ClockTime is a wall-clock time of day in minutes after midnight. 24:00 is
// allowed as a range end.
type ClockTime int

const endOfDay ClockTime = 24 * 60

func ParseClock(s string) (ClockTime, error) {
	if len(s) != 5 || s[2] != ':' || !digits(s[:2]) || !digits(s[3:]) {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return ClockTime(h*60 + m), nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Duration is the offset from midnight.
func (c ClockTime) Duration() time.Duration {
	return time.Duration(c) * time.Minute
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type TimeRange struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// WeeklyEntry holds the working ranges for one day of the week.
type WeeklyEntry struct {
	Day    time.Weekday `json:"day"`
	Ranges []TimeRange  `json:"ranges"`
}

// DateOverride replaces the weekly pattern on one calendar date.
type DateOverride struct {
	Date        string      `json:"date"` // YYYY-MM-DD
	Unavailable bool        `json:"unavailable"`
	Ranges      []TimeRange `json:"ranges,omitempty"`
}

const DateLayout = "2006-01-02"

type Affiliation struct {
	ID             uuid.UUID
	DoctorID       uuid.UUID
	FacilityID     uuid.UUID
	Status         Status
	RequestedBy    Party
	WeeklySchedule []WeeklyEntry
	DateOverrides  []DateOverride
	SlotDuration   int // minutes
	UpdatedBy      *uuid.UUID
	UpdatedRole    *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScheduleUpdate carries the fields of an updateSchedule call. Nil fields
// keep their stored value.
type ScheduleUpdate struct {
	WeeklySchedule *[]WeeklyEntry
	DateOverrides  *[]DateOverride
	SlotDuration   *int
	UpdatedBy      uuid.UUID
	UpdatedRole    string
}

func validateRanges(ranges []TimeRange) error {
	for _, r := range ranges {
		if r.Start < 0 || r.End > endOfDay {
			return fmt.Errorf("range %s-%s out of day", r.Start, r.End)
		}
		if r.End <= r.Start {
			return fmt.Errorf("range %s-%s ends before it starts", r.Start, r.End)
		}
	}
	return nil
}

func (u ScheduleUpdate) validate() error {
	if u.WeeklySchedule != nil {
		seen := make(map[time.Weekday]bool)
		for _, e := range *u.WeeklySchedule {
			if e.Day < time.Sunday || e.Day > time.Saturday {
				return fmt.Errorf("day %d out of range", e.Day)
			}
			if seen[e.Day] {
				return fmt.Errorf("day %s listed twice", e.Day)
			}
			seen[e.Day] = true
			if err := validateRanges(e.Ranges); err != nil {
				return err
			}
		}
	}
	if u.DateOverrides != nil {
		seen := make(map[string]bool)
		for _, o := range *u.DateOverrides {
			if _, err := time.Parse(DateLayout, o.Date); err != nil {
				return fmt.Errorf("override date %q must be YYYY-MM-DD", o.Date)
			}
			if seen[o.Date] {
				return fmt.Errorf("override date %s listed twice", o.Date)
			}
			seen[o.Date] = true
			if o.Unavailable && len(o.Ranges) > 0 {
				return fmt.Errorf("override %s cannot be unavailable and carry ranges", o.Date)
			}
			if err := validateRanges(o.Ranges); err != nil {
				return err
			}
		}
	}
	if u.SlotDuration != nil && *u.SlotDuration <= 0 {
		return fmt.Errorf("slot duration must be positive")
	}
	return nil
}
