/*
Package calendar implements working calendars: recurring weekly attendance
rules expressed in a time zone, plus dated closures (planned leaves).

PURPOSE:
  Work entries need to know when an employee is expected to work. A calendar
  answers two questions for any UTC window:
  - which attendance intervals fall inside it
  - when N working hours starting at a given instant are exhausted

KEY CONCEPTS:
  Attendance: a weekday plus a local time range (e.g. Monday 09:00-17:00)
  Closure:    a dated UTC range during which nobody works (public holiday,
              company closure)
  Work time:  attendance minus closures

TIME ZONES:
  Attendance rules are local to Calendar.Timezone. Expansion happens day by
  day in that zone, so DST transitions move the UTC result, not the wall
  clock. Every returned interval is in UTC.

REVISIONS:
  A Calendar value is immutable once loaded. Two calls with the same
  arguments against the same revision return the same intervals.

SEE ALSO:
  - registry.go: adapts stored calendars to the work-entry core
  - factory/calendar.go: JSON representation
*/
package calendar

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // calendars name IANA zones; do not depend on the host database

	"github.com/shopspring/decimal"
	"github.com/warp/workentry-engine/interval"
)

// ID identifies a calendar.
type ID string

var (
	// ErrCalendarNotFound is returned when a referenced calendar doesn't exist.
	ErrCalendarNotFound = errors.New("calendar not found")

	// ErrPlanExhausted is returned when the requested hours cannot be placed
	// within the planning horizon (typically an empty calendar).
	ErrPlanExhausted = errors.New("calendar has no working time within planning horizon")

	// ErrInvalidCalendar is returned for malformed definitions.
	ErrInvalidCalendar = errors.New("invalid calendar")
)

// =============================================================================
// DEFINITION
// =============================================================================

// Attendance is a recurring weekly working window in local time.
// From and To are offsets from local midnight; To may be 24h.
type Attendance struct {
	Name    string
	Weekday time.Weekday
	From    time.Duration
	To      time.Duration
}

// Closure is a dated range during which the calendar yields no work time.
type Closure struct {
	Name  string
	Start time.Time
	Stop  time.Time
}

// Calendar is a working schedule.
type Calendar struct {
	ID          ID
	Name        string
	Timezone    string
	Attendances []Attendance
	Closures    []Closure
}

// Validate checks the definition and resolves the time zone.
func (c *Calendar) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidCalendar)
	}
	if _, err := c.location(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCalendar, err)
	}
	for _, a := range c.Attendances {
		if a.From < 0 || a.To > 24*time.Hour || a.To <= a.From {
			return fmt.Errorf("%w: attendance %q on %s has range %s-%s", ErrInvalidCalendar, a.Name, a.Weekday, a.From, a.To)
		}
	}
	for _, cl := range c.Closures {
		if !cl.Stop.After(cl.Start) {
			return fmt.Errorf("%w: closure %q ends before it starts", ErrInvalidCalendar, cl.Name)
		}
	}
	return nil
}

// IsEmpty reports whether the calendar defines no attendance at all.
func (c *Calendar) IsEmpty() bool { return c == nil || len(c.Attendances) == 0 }

func (c *Calendar) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// =============================================================================
// EXPANSION
// =============================================================================

// AttendanceIntervals expands the weekly rules into UTC intervals clipped to
// [from, to). Closures are ignored.
func (c *Calendar) AttendanceIntervals(from, to time.Time) ([]interval.Interval[Attendance], error) {
	if c.IsEmpty() || !to.After(from) {
		return nil, nil
	}
	loc, err := c.location()
	if err != nil {
		return nil, err
	}

	// Walk local days with one day of slack on each side so attendances that
	// straddle the window edges after zone conversion are not lost.
	first := from.In(loc).AddDate(0, 0, -1)
	last := to.In(loc).AddDate(0, 0, 1)
	day := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)

	var out []interval.Interval[Attendance]
	for !day.After(last) {
		for _, a := range c.Attendances {
			if a.Weekday != day.Weekday() {
				continue
			}
			start := atOffset(day, a.From, loc)
			stop := atOffset(day, a.To, loc)
			out = append(out, interval.New(start.UTC(), stop.UTC(), a))
		}
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	}
	return interval.Clip(out, interval.NewSpan(from, to)), nil
}

// ClosureIntervals returns the closures intersecting [from, to), clipped.
func (c *Calendar) ClosureIntervals(from, to time.Time) []interval.Span {
	if c == nil {
		return nil
	}
	spans := make([]interval.Span, 0, len(c.Closures))
	for _, cl := range c.Closures {
		spans = append(spans, interval.NewSpan(cl.Start.UTC(), cl.Stop.UTC()))
	}
	return interval.Clip(spans, interval.NewSpan(from, to))
}

// WorkIntervals returns attendance minus closures within [from, to).
func (c *Calendar) WorkIntervals(from, to time.Time) ([]interval.Span, error) {
	att, err := c.AttendanceIntervals(from, to)
	if err != nil {
		return nil, err
	}
	return interval.Union(interval.Subtract(att, c.ClosureIntervals(from, to))), nil
}

// Spans returns the attendance of [from, to) as payload-free spans,
// optionally without closures.
func (c *Calendar) Spans(from, to time.Time, excludeClosures bool) ([]interval.Span, error) {
	if excludeClosures {
		return c.WorkIntervals(from, to)
	}
	att, err := c.AttendanceIntervals(from, to)
	if err != nil {
		return nil, err
	}
	return interval.Union(att), nil
}

// =============================================================================
// PLANNING
// =============================================================================

const (
	planWindow   = 14 * 24 * time.Hour
	planHorizon  = 100 // windows, roughly four years
	nanosPerHour = int64(time.Hour)
)

// PlanHours returns the instant reached after consuming hours of working
// time starting at from. When countLeaves is true closures are skipped,
// otherwise they count as working time.
func (c *Calendar) PlanHours(hours decimal.Decimal, from time.Time, countLeaves bool) (time.Time, error) {
	if hours.IsNegative() {
		return time.Time{}, fmt.Errorf("%w: negative hours %s", ErrInvalidCalendar, hours)
	}
	remaining := time.Duration(hours.Mul(decimal.NewFromInt(nanosPerHour)).Round(0).IntPart())
	if remaining == 0 {
		return from, nil
	}
	if c.IsEmpty() {
		return time.Time{}, ErrPlanExhausted
	}

	cursor := from
	for i := 0; i < planHorizon; i++ {
		spans, err := c.Spans(cursor, cursor.Add(planWindow), countLeaves)
		if err != nil {
			return time.Time{}, err
		}
		for _, s := range spans {
			d := s.Duration()
			if d >= remaining {
				return s.Start.Add(remaining), nil
			}
			remaining -= d
		}
		cursor = cursor.Add(planWindow)
	}
	return time.Time{}, ErrPlanExhausted
}

func atOffset(day time.Time, offset time.Duration, loc *time.Location) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	s := int((offset % time.Minute) / time.Second)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, loc)
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// Weekly builds a calendar with the same local range on each of days.
func Weekly(id ID, name, timezone string, from, to time.Duration, days ...time.Weekday) *Calendar {
	c := &Calendar{ID: id, Name: name, Timezone: timezone}
	for _, d := range days {
		c.Attendances = append(c.Attendances, Attendance{Name: d.String(), Weekday: d, From: from, To: to})
	}
	return c
}

// StandardWeek is Monday to Friday between from and to in timezone.
func StandardWeek(id ID, name, timezone string, from, to time.Duration) *Calendar {
	return Weekly(id, name, timezone, from, to,
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)
}
