/*
duration.go - Duration resolution

PURPOSE:
  Computes each entry's duration in hours:
  - calendar-driven type with a calendar on the bound version: the
    attendance hours inside [start, stop), planned leaves excluded
  - anything else: stop - start, rounded to the second

BATCHING:
  Entries sharing (start, stop, calendar) share one calendar query. A batch of
  N entries over G distinct groups costs exactly G calendar calls, so bulk
  generation over many employees on the same schedule stays cheap.

  Entries with a zero start or stop resolve to 0 without any call.

  Resolution never writes.
*/
package workentry

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/workentry-engine/interval"
)

// DurationInput is one entry to resolve, with its type and the calendar of
// its bound version (empty when the version has none).
type DurationInput struct {
	Entry    WorkEntry
	Type     EntryType
	Calendar CalendarID
}

// DurationResolver resolves durations against a working calendar.
type DurationResolver struct {
	calendar WorkingCalendar
}

func NewDurationResolver(cal WorkingCalendar) *DurationResolver {
	return &DurationResolver{calendar: cal}
}

// instant is a map-safe rendition of a time.Time over its full range.
type instant struct {
	sec  int64
	nsec int
}

func instantOf(t time.Time) instant { return instant{sec: t.Unix(), nsec: t.Nanosecond()} }

func (i instant) time() time.Time { return time.Unix(i.sec, int64(i.nsec)).UTC() }

type durationGroup struct {
	start, stop instant
	calendar    CalendarID
}

// Resolve returns the duration of every input, keyed by entry id.
func (r *DurationResolver) Resolve(ctx context.Context, inputs []DurationInput) (map[EntryID]decimal.Decimal, error) {
	out := make(map[EntryID]decimal.Decimal, len(inputs))
	groups := make(map[durationGroup][]EntryID)
	var order []durationGroup

	for _, in := range inputs {
		e := in.Entry
		if e.Start.IsZero() || e.Stop.IsZero() {
			out[e.ID] = decimal.Zero
			continue
		}
		if !in.Type.UsesCalendarDuration || in.Calendar == "" {
			out[e.ID] = HoursOf(e.Stop.Sub(e.Start).Round(time.Second))
			continue
		}
		key := durationGroup{start: instantOf(e.Start), stop: instantOf(e.Stop), calendar: in.Calendar}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e.ID)
	}

	for _, key := range order {
		start, stop := key.start.time(), key.stop.time()
		spans, err := r.calendar.AttendanceIntervals(ctx, key.calendar, start, stop, true)
		if err != nil {
			return nil, fmt.Errorf("resolve duration on calendar %s: %w", key.calendar, err)
		}
		hours := HoursOf(interval.TotalDuration(interval.Clip(interval.Union(spans), interval.NewSpan(start, stop))))
		for _, id := range groups[key] {
			out[id] = hours
		}
	}
	return out, nil
}

var nanosPerHour = decimal.NewFromInt(int64(time.Hour))

// HoursOf converts a duration to decimal hours.
func HoursOf(d time.Duration) decimal.Decimal {
	if d <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(d)).Div(nanosPerHour)
}

// DurationOf converts decimal hours to a duration, rounded to the nanosecond.
func DurationOf(hours decimal.Decimal) time.Duration {
	return time.Duration(hours.Mul(nanosPerHour).Round(0).IntPart())
}
