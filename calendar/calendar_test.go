package calendar_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/interval"
)

// 2024-01-08 is a Monday.
func day(d, hour int) time.Time {
	return time.Date(2024, time.January, d, hour, 0, 0, 0, time.UTC)
}

func nineToFive() *calendar.Calendar {
	return calendar.StandardWeek("std", "Standard 40h", "UTC", 9*time.Hour, 17*time.Hour)
}

// =============================================================================
// EXPANSION
// =============================================================================

func TestAttendance_StandardWeek(t *testing.T) {
	cal := nineToFive()

	spans, err := cal.Spans(day(8, 0), day(15, 0), false)
	require.NoError(t, err)

	// Monday to Friday, 8h each
	require.Len(t, spans, 5)
	assert.Equal(t, interval.NewSpan(day(8, 9), day(8, 17)), spans[0])
	assert.Equal(t, interval.NewSpan(day(12, 9), day(12, 17)), spans[4])
	assert.Equal(t, 40*time.Hour, interval.TotalDuration(spans))
}

func TestAttendance_ClippedToWindow(t *testing.T) {
	cal := nineToFive()

	spans, err := cal.Spans(day(8, 12), day(8, 14), false)
	require.NoError(t, err)

	assert.Equal(t, []interval.Span{interval.NewSpan(day(8, 12), day(8, 14))}, spans)
}

func TestAttendance_LocalTimezone(t *testing.T) {
	// GIVEN: 09-17 in Paris (UTC+1 in January)
	cal := calendar.StandardWeek("paris", "Paris", "Europe/Paris", 9*time.Hour, 17*time.Hour)

	spans, err := cal.Spans(day(8, 0), day(9, 0), false)
	require.NoError(t, err)

	// THEN: 08-16 UTC
	assert.Equal(t, []interval.Span{interval.NewSpan(day(8, 8), day(8, 16))}, spans)
}

func TestWorkIntervals_RemoveClosures(t *testing.T) {
	// GIVEN: Wednesday is a public holiday
	cal := nineToFive()
	cal.Closures = []calendar.Closure{{Name: "Holiday", Start: day(10, 0), Stop: day(11, 0)}}

	// WHEN: Excluding leaves
	work, err := cal.Spans(day(8, 0), day(13, 0), true)
	require.NoError(t, err)
	// THEN: 4 days remain
	assert.Equal(t, 32*time.Hour, interval.TotalDuration(work))

	// WHEN: Including leaves
	all, err := cal.Spans(day(8, 0), day(13, 0), false)
	require.NoError(t, err)
	assert.Equal(t, 40*time.Hour, interval.TotalDuration(all))
}

func TestEmptyCalendar_HasNoAttendance(t *testing.T) {
	cal := &calendar.Calendar{ID: "empty"}

	spans, err := cal.Spans(day(8, 0), day(15, 0), true)
	require.NoError(t, err)
	assert.Empty(t, spans)
	assert.True(t, cal.IsEmpty())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, nineToFive().Validate())

	bad := calendar.Weekly("bad", "Bad", "UTC", 17*time.Hour, 9*time.Hour, time.Monday)
	assert.ErrorIs(t, bad.Validate(), calendar.ErrInvalidCalendar)

	tz := calendar.StandardWeek("tz", "TZ", "Mars/Olympus", 9*time.Hour, 17*time.Hour)
	assert.ErrorIs(t, tz.Validate(), calendar.ErrInvalidCalendar)
}

// =============================================================================
// PLANNING
// =============================================================================

func TestPlanHours_WithinOneDay(t *testing.T) {
	end, err := nineToFive().PlanHours(decimal.NewFromInt(4), day(8, 9), true)
	require.NoError(t, err)
	assert.Equal(t, day(8, 13), end)
}

func TestPlanHours_SpillsOverNight(t *testing.T) {
	// GIVEN: 10 hours from Monday 09:00
	// THEN: Monday 8h + Tuesday 2h -> Tuesday 11:00
	end, err := nineToFive().PlanHours(decimal.NewFromInt(10), day(8, 9), true)
	require.NoError(t, err)
	assert.Equal(t, day(9, 11), end)
}

func TestPlanHours_SkipsClosuresOnlyWhenCountingLeaves(t *testing.T) {
	cal := nineToFive()
	cal.Closures = []calendar.Closure{{Name: "Holiday", Start: day(9, 0), Stop: day(10, 0)}}

	skip, err := cal.PlanHours(decimal.NewFromInt(10), day(8, 9), true)
	require.NoError(t, err)
	assert.Equal(t, day(10, 11), skip)

	through, err := cal.PlanHours(decimal.NewFromInt(10), day(8, 9), false)
	require.NoError(t, err)
	assert.Equal(t, day(9, 11), through)
}

func TestPlanHours_FractionalHours(t *testing.T) {
	end, err := nineToFive().PlanHours(decimal.RequireFromString("1.5"), day(8, 9), true)
	require.NoError(t, err)
	assert.Equal(t, day(8, 10).Add(30*time.Minute), end)
}

func TestPlanHours_EmptyCalendarIsExhausted(t *testing.T) {
	_, err := (&calendar.Calendar{ID: "empty"}).PlanHours(decimal.NewFromInt(1), day(8, 9), true)
	assert.ErrorIs(t, err, calendar.ErrPlanExhausted)
}

// =============================================================================
// REGISTRY
// =============================================================================

func TestRegistry_LoadsByID(t *testing.T) {
	reg := calendar.NewRegistry(calendar.StaticLoader{"std": nineToFive()})
	ctx := context.Background()

	spans, err := reg.AttendanceIntervals(ctx, "std", day(8, 0), day(9, 0), true)
	require.NoError(t, err)
	assert.Len(t, spans, 1)

	end, err := reg.PlanHours(ctx, "std", decimal.NewFromInt(8), day(8, 9), true)
	require.NoError(t, err)
	assert.Equal(t, day(8, 17), end)

	_, err = reg.AttendanceIntervals(ctx, "nope", day(8, 0), day(9, 0), true)
	assert.ErrorIs(t, err, calendar.ErrCalendarNotFound)
}
