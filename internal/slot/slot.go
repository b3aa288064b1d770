package slot

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Fixed clinic grid. Not configurable per clinic or doctor.
const (
	DefaultOpenHour    = 9
	DefaultCloseHour   = 17
	DefaultStepMinutes = 30
)

const DateLayout = "2006-01-02"

var (
	ErrInvalidTime = errors.New("invalid time of day, expected HH:MM")
	ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")
)

// TimeOfDay is a wall-clock time expressed as minutes after midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS" (seconds must be zero).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Second() != 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		return NewTimeOfDay(t.Hour(), t.Minute()), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Duration returns the offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Minute
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseDate parses YYYY-MM-DD into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// DateOf drops the clock part of t, keeping the calendar date as seen in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// DaysBetween counts whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// TimeSlot is a bookable (date, time) pair on the clinic grid.
type TimeSlot struct {
	Date time.Time
	Time TimeOfDay
}

func (s TimeSlot) DateString() string { return FormatDate(s.Date) }

// Start is the absolute start instant of the slot in loc.
func (s TimeSlot) Start(loc *time.Location) time.Time {
	y, m, d := s.Date.Date()
	return time.Date(y, m, d, s.Time.Hour(), s.Time.Minute(), 0, 0, loc)
}

// Generate yields the slot start times from openHour (inclusive) to closeHour
// (exclusive) in stepMinutes increments. Each range over the result restarts
// from the first slot.
func Generate(openHour, closeHour, stepMinutes int) iter.Seq[TimeOfDay] {
	return func(yield func(TimeOfDay) bool) {
		if stepMinutes <= 0 || openHour < 0 || closeHour > 24 || openHour >= closeHour {
			return
		}
		end := TimeOfDay(closeHour * 60)
		for t := TimeOfDay(openHour * 60); t < end; t += TimeOfDay(stepMinutes) {
			if !yield(t) {
				return
			}
		}
	}
}

// Grid is a fixed daily slot layout.
type Grid struct {
	OpenHour    int
	CloseHour   int
	StepMinutes int
}

func DefaultGrid() Grid {
	return Grid{
		OpenHour:    DefaultOpenHour,
		CloseHour:   DefaultCloseHour,
		StepMinutes: DefaultStepMinutes,
	}
}

func (g Grid) All() iter.Seq[TimeOfDay] {
	return Generate(g.OpenHour, g.CloseHour, g.StepMinutes)
}

func (g Grid) Times() []TimeOfDay {
	return slices.Collect(g.All())
}

// Contains reports whether t is one of the generated slot times.
func (g Grid) Contains(t TimeOfDay) bool {
	if g.StepMinutes <= 0 {
		return false
	}
	open, end := TimeOfDay(g.OpenHour*60), TimeOfDay(g.CloseHour*60)
	if t < open || t >= end {
		return false
	}
	return int(t-open)%g.StepMinutes == 0
}

func (g Grid) Slots(date time.Time) []TimeSlot {
	d := DateOf(date)
	var out []TimeSlot
	for t := range g.All() {
		out = append(out, TimeSlot{Date: d, Time: t})
	}
	return out
}

// Key identifies one doctor's slot. At most one active appointment may hold a key.
type Key struct {
	DoctorID uuid.UUID
	Date     time.Time
	Time     TimeOfDay
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.DoctorID, FormatDate(k.Date), k.Time)
}
