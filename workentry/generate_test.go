package workentry_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/interval"
	"github.com/warp/workentry-engine/workentry"
)

// withWednesdayClosure closes the standard calendar on 2024-01-10.
func withWednesdayClosure(t *testing.T, f *fixture) {
	t.Helper()
	cal := calendar.StandardWeek("std", "Standard", "UTC", 9*time.Hour, 17*time.Hour)
	cal.Closures = []calendar.Closure{{Name: "Plant closed", Start: date(2024, time.January, 10), Stop: date(2024, time.January, 11)}}
	require.NoError(t, f.dir.PutCalendar(cal))
}

func TestGenerate_FillsFreeAttendance(t *testing.T) {
	f := newFixture(t)

	// GIVEN: Monday morning already covered
	f.create("E1", typeWork, ts(8, 9, 0), ts(8, 12, 0))

	// WHEN: Generating the week
	got, err := f.coord.Generate(f.ctx, workentry.GenerateRequest{
		Employees: []workentry.EmployeeID{"E1"},
		From:      ts(8, 0, 0),
		To:        ts(13, 0, 0),
		TypeID:    typeAttendance,
	}, workentry.DefaultOptions())
	require.NoError(t, err)

	// THEN: Monday afternoon plus four full days, all draft
	require.Len(t, got, 5)
	assert.True(t, got[0].Start.Equal(ts(8, 12, 0)))
	assert.True(t, got[0].Duration.Equal(decimal.NewFromInt(5)))
	for _, e := range got[1:] {
		assert.True(t, e.Duration.Equal(decimal.NewFromInt(8)), "duration %s", e.Duration)
	}
	for _, e := range got {
		assert.Equal(t, workentry.StateDraft, e.State)
		assert.Equal(t, workentry.VersionID("v-E1"), e.VersionID)
	}

	// AND: A second run finds nothing left to cover
	again, err := f.coord.Generate(f.ctx, workentry.GenerateRequest{
		Employees: []workentry.EmployeeID{"E1"},
		From:      ts(8, 0, 0),
		To:        ts(13, 0, 0),
		TypeID:    typeAttendance,
	}, workentry.DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestGenerate_SkipsClosures(t *testing.T) {
	f := newFixture(t)
	withWednesdayClosure(t, f)

	got, err := f.coord.Generate(f.ctx, workentry.GenerateRequest{
		Employees: []workentry.EmployeeID{"E1", "E2"},
		From:      ts(8, 0, 0),
		To:        ts(13, 0, 0),
		TypeID:    typeAttendance,
	}, workentry.DefaultOptions())
	require.NoError(t, err)

	assert.Len(t, got, 8)
	for _, e := range got {
		assert.NotEqual(t, time.Wednesday, e.Start.Weekday())
	}
}

func TestGenerate_RejectsEmptyWindow(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Generate(f.ctx, workentry.GenerateRequest{Employees: []workentry.EmployeeID{"E1"}, From: ts(8, 0, 0), To: ts(8, 0, 0)}, workentry.DefaultOptions())
	assert.ErrorIs(t, err, workentry.ErrInvalidInterval)
}

func TestUndefinedSlots_IncludesClosures(t *testing.T) {
	f := newFixture(t)
	withWednesdayClosure(t, f)
	f.create("E1", typeWork, ts(9, 9, 0), ts(9, 17, 0))

	got, err := f.coord.UndefinedSlots(f.ctx, "E1", ts(8, 0, 0), ts(13, 0, 0))
	require.NoError(t, err)

	// Tuesday is covered; the closed Wednesday still needs a leave entry
	want := []interval.Span{
		interval.NewSpan(ts(8, 9, 0), ts(8, 17, 0)),
		interval.NewSpan(ts(10, 9, 0), ts(10, 17, 0)),
		interval.NewSpan(ts(11, 9, 0), ts(11, 17, 0)),
		interval.NewSpan(ts(12, 9, 0), ts(12, 17, 0)),
	}
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Start.Equal(got[i].Start) && want[i].Stop.Equal(got[i].Stop), "slot %d: %s", i, got[i])
	}
}

func TestUndefinedSlots_NoContractNoSlots(t *testing.T) {
	f := newFixture(t)
	got, err := f.coord.UndefinedSlots(f.ctx, "nobody", ts(8, 0, 0), ts(13, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

func TestCountConflicts(t *testing.T) {
	f := newFixture(t)
	f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	f.create("E1", typeWork, ts(8, 11, 0), ts(8, 13, 0))
	f.create("E2", typeWork, ts(8, 8, 0), ts(8, 12, 0))

	week := interval.NewSpan(ts(8, 0, 0), ts(13, 0, 0))
	n, err := f.coord.CountConflicts(f.ctx, week, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.coord.CountConflicts(f.ctx, week, []workentry.EmployeeID{"E2"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDanglingEntries_ReportsRevisedAndDeletedVersions(t *testing.T) {
	f := newFixture(t)
	e1 := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	e2 := f.create("E2", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	f.create("E3", typeWork, ts(8, 8, 0), ts(8, 12, 0))

	// GIVEN: E1's version now starts in February and E2's is gone
	f.dir.PutVersion(workentry.ContractVersion{ID: "v-E1", EmployeeID: "E1", CalendarID: "std", DateStart: date(2024, time.February, 1)})
	f.dir.DeleteVersion("v-E2")

	got, err := f.coord.DanglingEntries(f.ctx, interval.NewSpan(ts(1, 0, 0), ts(31, 0, 0)))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, e1.ID, got[0].Entry.ID)
	assert.Equal(t, workentry.DanglingNotCovered, got[0].Reason)
	assert.Equal(t, e2.ID, got[1].Entry.ID)
	assert.Equal(t, workentry.DanglingMissingVersion, got[1].Reason)

	// Nothing was modified
	assert.Equal(t, workentry.StateDraft, f.get(e1.ID).State)
	assert.Equal(t, workentry.VersionID("v-E1"), f.get(e1.ID).VersionID)
}
