package clock

import (
	"fmt"
	"sync"
	"time"
)

const DateLayout = "2006-01-02"

// Clock is the source of "now" for everything that reasons about clinic days.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

// ManagedClock is a hand-driven clock for tests.
type ManagedClock struct {
	mu        sync.Mutex
	startTime time.Time
	offset    time.Duration
}

func NewManaged(startTime time.Time) *ManagedClock {
	return &ManagedClock{startTime: startTime}
}

func (c *ManagedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime.Add(c.offset)
}

// WarpForward moves the clock forward and returns the new time.
func (c *ManagedClock) WarpForward(offset time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if offset > 0 {
		c.offset += offset
	}
	return c.startTime.Add(c.offset)
}

// ClinicDay is the half-open window [Start, End) treated as "today" in the
// clinic's timezone. Date is the local calendar date in DateLayout.
type ClinicDay struct {
	Start time.Time
	End   time.Time
	Date  string
}

// Before reports whether d is an earlier calendar day than other.
func (d ClinicDay) Before(other ClinicDay) bool {
	return d.Date < other.Date
}

func (d ClinicDay) String() string {
	return d.Date
}

// DayOf returns the clinic day containing t in loc. Days are computed from
// calendar midnights so DST transitions yield 23 or 25 hour days.
func DayOf(t time.Time, loc *time.Location) ClinicDay {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return ClinicDay{Start: start, End: end, Date: start.Format(DateLayout)}
}

func ParseDay(date string, loc *time.Location) (ClinicDay, error) {
	if loc == nil {
		loc = time.UTC
	}
	parsed, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return ClinicDay{}, fmt.Errorf("parse clinic day %q: %w", date, err)
	}
	return DayOf(parsed, loc), nil
}

// Calendar turns a Clock into clinic-day boundaries.
type Calendar struct {
	clock Clock
}

func NewCalendar(c Clock) *Calendar {
	if c == nil {
		c = New()
	}
	return &Calendar{clock: c}
}

func (c *Calendar) Now() time.Time {
	return c.clock.Now()
}

func (c *Calendar) CurrentClinicDay(loc *time.Location) ClinicDay {
	return DayOf(c.clock.Now(), loc)
}
