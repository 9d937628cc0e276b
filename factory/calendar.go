/*
Package factory provides JSON to Go calendar conversion.

PURPOSE:
  Converts JSON working-calendar definitions into calendar.Calendar values
  and back. Calendars are stored as JSON documents (see store/sqlite and
  store/postgres) and exchanged as JSON over the HTTP API.

JSON SCHEMA:
  {
    "id": "std-40h",
    "name": "Standard 40 hours/week",
    "timezone": "Europe/Brussels",
    "attendances": [
      {"weekday": "monday", "from": "08:00", "to": "12:00"},
      {"weekday": "monday", "from": "13:00", "to": "17:00"}
    ],
    "closures": [
      {"name": "Christmas", "date": "2024-12-25"},
      {"name": "Office move", "start": "2024-03-04T12:00:00Z", "stop": "2024-03-05T12:00:00Z"}
    ]
  }

KEY FEATURES:
  - "from"/"to" are local HH:MM; "to" may be "24:00"
  - a closure either names a whole UTC day ("date") or an explicit range
  - the parsed calendar is validated (time zone, ranges)

USAGE:
  f := NewCalendarFactory()
  cal, err := f.ParseCalendar(jsonStr)
  data, err := json.Marshal(f.ToJSON(cal))

SEE ALSO:
  - calendar/calendar.go: Calendar type definition
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/workentry-engine/calendar"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CalendarJSON is the JSON representation of a working calendar.
type CalendarJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Timezone    string           `json:"timezone,omitempty"` // IANA name, default UTC
	Attendances []AttendanceJSON `json:"attendances"`
	Closures    []ClosureJSON    `json:"closures,omitempty"`
}

// AttendanceJSON is one weekly working window.
type AttendanceJSON struct {
	Name    string `json:"name,omitempty"`
	Weekday string `json:"weekday"` // monday..sunday
	From    string `json:"from"`    // HH:MM
	To      string `json:"to"`      // HH:MM, up to 24:00
}

// ClosureJSON is a dated closure. Either Date or Start/Stop is set.
type ClosureJSON struct {
	Name  string `json:"name,omitempty"`
	Date  string `json:"date,omitempty"`  // YYYY-MM-DD, whole UTC day
	Start string `json:"start,omitempty"` // RFC 3339
	Stop  string `json:"stop,omitempty"`  // RFC 3339
}

// =============================================================================
// CALENDAR FACTORY
// =============================================================================

// CalendarFactory converts JSON calendars to Go structs.
type CalendarFactory struct{}

// NewCalendarFactory creates a new calendar factory.
func NewCalendarFactory() *CalendarFactory {
	return &CalendarFactory{}
}

// ParseCalendar parses a JSON string into a validated Calendar.
func (f *CalendarFactory) ParseCalendar(jsonStr string) (*calendar.Calendar, error) {
	var cj CalendarJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse calendar JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts CalendarJSON to a validated Calendar.
func (f *CalendarFactory) FromJSON(cj CalendarJSON) (*calendar.Calendar, error) {
	cal := &calendar.Calendar{
		ID:       calendar.ID(cj.ID),
		Name:     cj.Name,
		Timezone: cj.Timezone,
	}

	for i, aj := range cj.Attendances {
		weekday, err := parseWeekday(aj.Weekday)
		if err != nil {
			return nil, fmt.Errorf("attendance %d: %w", i, err)
		}
		from, err := parseClock(aj.From)
		if err != nil {
			return nil, fmt.Errorf("attendance %d from: %w", i, err)
		}
		to, err := parseClock(aj.To)
		if err != nil {
			return nil, fmt.Errorf("attendance %d to: %w", i, err)
		}
		cal.Attendances = append(cal.Attendances, calendar.Attendance{
			Name:    aj.Name,
			Weekday: weekday,
			From:    from,
			To:      to,
		})
	}

	for i, clj := range cj.Closures {
		closure, err := parseClosure(clj)
		if err != nil {
			return nil, fmt.Errorf("closure %d: %w", i, err)
		}
		cal.Closures = append(cal.Closures, closure)
	}

	if err := cal.Validate(); err != nil {
		return nil, err
	}
	return cal, nil
}

// ToJSON converts a Calendar to CalendarJSON.
func (f *CalendarFactory) ToJSON(cal *calendar.Calendar) CalendarJSON {
	cj := CalendarJSON{
		ID:          string(cal.ID),
		Name:        cal.Name,
		Timezone:    cal.Timezone,
		Attendances: []AttendanceJSON{},
	}
	for _, a := range cal.Attendances {
		cj.Attendances = append(cj.Attendances, AttendanceJSON{
			Name:    a.Name,
			Weekday: strings.ToLower(a.Weekday.String()),
			From:    formatClock(a.From),
			To:      formatClock(a.To),
		})
	}
	for _, c := range cal.Closures {
		cj.Closures = append(cj.Closures, ClosureJSON{
			Name:  c.Name,
			Start: c.Start.UTC().Format(time.RFC3339),
			Stop:  c.Stop.UTC().Format(time.RFC3339),
		})
	}
	return cj
}

// MarshalCalendar is ToJSON followed by json.Marshal.
func (f *CalendarFactory) MarshalCalendar(cal *calendar.Calendar) (string, error) {
	data, err := json.Marshal(f.ToJSON(cal))
	if err != nil {
		return "", fmt.Errorf("failed to marshal calendar: %w", err)
	}
	return string(data), nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	case "sunday", "sun":
		return time.Sunday, nil
	default:
		return 0, fmt.Errorf("unknown weekday: %q", s)
	}
}

func parseClock(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func formatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int((d%time.Hour)/time.Minute))
}

func parseClosure(cj ClosureJSON) (calendar.Closure, error) {
	if cj.Date != "" {
		d, err := time.Parse("2006-01-02", cj.Date)
		if err != nil {
			return calendar.Closure{}, fmt.Errorf("invalid date format: %w", err)
		}
		return calendar.Closure{Name: cj.Name, Start: d, Stop: d.AddDate(0, 0, 1)}, nil
	}
	start, err := time.Parse(time.RFC3339, cj.Start)
	if err != nil {
		return calendar.Closure{}, fmt.Errorf("invalid start: %w", err)
	}
	stop, err := time.Parse(time.RFC3339, cj.Stop)
	if err != nil {
		return calendar.Closure{}, fmt.Errorf("invalid stop: %w", err)
	}
	return calendar.Closure{Name: cj.Name, Start: start.UTC(), Stop: stop.UTC()}, nil
}
