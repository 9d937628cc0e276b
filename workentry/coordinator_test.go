package workentry_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/interval"
	"github.com/warp/workentry-engine/workentry"
	"github.com/warp/workentry-engine/workentry/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	typeWork       workentry.TypeID = "work"       // clock duration
	typeAttendance workentry.TypeID = "attendance" // calendar duration
	typeLeave      workentry.TypeID = "leave"      // leave, calendar duration
)

// ts builds a UTC instant in January 2024. The 8th is a Monday.
func ts(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// countingCalendar counts attendance queries.
type countingCalendar struct {
	inner       *calendar.Registry
	attendances atomic.Int64
}

func (c *countingCalendar) AttendanceIntervals(ctx context.Context, id workentry.CalendarID, from, to time.Time, excludeLeaves bool) ([]interval.Span, error) {
	c.attendances.Add(1)
	return c.inner.AttendanceIntervals(ctx, id, from, to, excludeLeaves)
}

func (c *countingCalendar) PlanHours(ctx context.Context, id workentry.CalendarID, hours decimal.Decimal, from time.Time, countLeaves bool) (time.Time, error) {
	return c.inner.PlanHours(ctx, id, hours, from, countLeaves)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.TxMemory
	dir   *store.Directory
	cal   *countingCalendar
	coord *workentry.Coordinator
	log   *logrus.Logger
	logs  *test.Hook
}

// newFixture seeds employees E1..E3 of company C1 on a Mon-Fri 09-17 UTC
// calendar, each with one contract version covering 2024.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := store.NewDirectory()
	require.NoError(t, dir.PutCalendar(calendar.StandardWeek("std", "Standard", "UTC", 9*time.Hour, 17*time.Hour)))

	dir.PutEntryType(workentry.EntryType{ID: typeWork, Code: "WORK", Name: "Work"})
	dir.PutEntryType(workentry.EntryType{ID: typeAttendance, Code: "ATT", Name: "Attendance", UsesCalendarDuration: true})
	dir.PutEntryType(workentry.EntryType{ID: typeLeave, Code: "LEAVE", Name: "Paid leave", IsLeave: true, UsesCalendarDuration: true})

	end := date(2024, time.December, 31)
	for i := 1; i <= 3; i++ {
		emp := workentry.EmployeeID(fmt.Sprintf("E%d", i))
		dir.PutEmployee(workentry.Employee{ID: emp, Name: string(emp), CompanyID: "C1"})
		dir.PutVersion(workentry.ContractVersion{
			ID:         workentry.VersionID(fmt.Sprintf("v-%s", emp)),
			EmployeeID: emp,
			CompanyID:  "C1",
			CalendarID: "std",
			DateStart:  date(2024, time.January, 1),
			DateEnd:    &end,
		})
	}

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	mem := store.NewTxMemory()
	cal := &countingCalendar{inner: calendar.NewRegistry(dir)}
	coord := workentry.NewCoordinator(workentry.Dependencies{
		Store:    mem,
		Registry: dir,
		Calendar: cal,
		Catalog:  dir,
		Logger:   logger,
		Clock:    func() time.Time { return ts(1, 0, 0) },
	})
	return &fixture{t: t, ctx: context.Background(), store: mem, dir: dir, cal: cal, coord: coord, log: logger, logs: hook}
}

func (f *fixture) create(emp workentry.EmployeeID, typ workentry.TypeID, start, stop time.Time) workentry.WorkEntry {
	f.t.Helper()
	got, err := f.coord.Create(f.ctx, []workentry.NewEntry{{EmployeeID: emp, TypeID: typ, Start: start, Stop: stop}}, workentry.DefaultOptions())
	require.NoError(f.t, err)
	require.Len(f.t, got, 1)
	return got[0]
}

func (f *fixture) get(id workentry.EntryID) workentry.WorkEntry {
	f.t.Helper()
	got, err := f.store.Get(f.ctx, []workentry.EntryID{id})
	require.NoError(f.t, err)
	return got[0]
}

func (f *fixture) validate(ids ...workentry.EntryID) workentry.ValidationResult {
	f.t.Helper()
	res, err := f.coord.Validate(f.ctx, ids)
	require.NoError(f.t, err)
	return res
}

// assertNoValidatedOverlap checks that validated entries never overlap.
func (f *fixture) assertNoValidatedOverlap() {
	f.t.Helper()
	all, err := f.store.Find(f.ctx, workentry.Query{States: []workentry.State{workentry.StateValidated}, ActiveOnly: true})
	require.NoError(f.t, err)
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			assert.False(f.t, all[i].Overlaps(all[j]), "validated %s and %s overlap", all[i].ID, all[j].ID)
		}
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_BasicValidate(t *testing.T) {
	f := newFixture(t)

	// GIVEN: One work entry Monday 08:00-12:00
	e := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))

	// WHEN: Validated
	res := f.validate(e.ID)

	// THEN: It is validated with a 4h duration
	assert.True(t, res.OK())
	assert.Equal(t, []workentry.EntryID{e.ID}, res.Validated)
	got := f.get(e.ID)
	assert.Equal(t, workentry.StateValidated, got.State)
	assert.True(t, got.Duration.Equal(decimal.NewFromInt(4)), "duration %s", got.Duration)
	f.assertNoValidatedOverlap()
}

func TestScenario_OverlapRejected(t *testing.T) {
	f := newFixture(t)

	// GIVEN: A validated entry 08:00-12:00
	first := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	require.True(t, f.validate(first.ID).OK())

	// WHEN: An overlapping entry 11:00-13:00 is created and validated
	second := f.create("E1", typeWork, ts(8, 11, 0), ts(8, 13, 0))
	res := f.validate(second.ID)

	// THEN: Validation fails and both entries end in conflict
	assert.False(t, res.OK())
	assert.True(t, contains(res.Conflicts[second.ID], workentry.ReasonOverlap))
	assert.Equal(t, workentry.StateConflict, f.get(first.ID).State)
	assert.Equal(t, workentry.StateConflict, f.get(second.ID).State)
	f.assertNoValidatedOverlap()
}

func TestScenario_TouchingAccepted(t *testing.T) {
	f := newFixture(t)

	morning := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	afternoon := f.create("E1", typeWork, ts(8, 12, 0), ts(8, 16, 0))
	assert.Equal(t, workentry.StateDraft, afternoon.State)

	res := f.validate(morning.ID, afternoon.ID)

	assert.True(t, res.OK())
	assert.ElementsMatch(t, []workentry.EntryID{morning.ID, afternoon.ID}, res.Validated)
	assert.Equal(t, workentry.StateValidated, f.get(morning.ID).State)
	assert.Equal(t, workentry.StateValidated, f.get(afternoon.ID).State)
}

func TestScenario_MissingContract(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Create(f.ctx, []workentry.NewEntry{{
		EmployeeID: "E1",
		TypeID:     typeWork,
		Start:      time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC),
		Stop:       time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC),
	}}, workentry.DefaultOptions())

	assert.ErrorIs(t, err, workentry.ErrMissingContract)
	var ce *workentry.ContractError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, workentry.EmployeeID("E1"), ce.EmployeeID)
	assert.Equal(t, 0, f.store.Len(), "nothing persisted")
}

func TestScenario_AmbiguousContract(t *testing.T) {
	f := newFixture(t)

	// GIVEN: A second version of E1 also covering June 2024
	june30 := date(2024, time.June, 30)
	f.dir.PutVersion(workentry.ContractVersion{ID: "v-E1-june", EmployeeID: "E1", CalendarID: "std", DateStart: date(2024, time.June, 1), DateEnd: &june30})

	_, err := f.coord.Create(f.ctx, []workentry.NewEntry{{
		EmployeeID: "E1",
		TypeID:     typeWork,
		Start:      time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		Stop:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}}, workentry.DefaultOptions())

	assert.ErrorIs(t, err, workentry.ErrAmbiguousContract)
	var ce *workentry.ContractError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []workentry.VersionID{"v-E1", "v-E1-june"}, ce.Candidates)
	assert.Equal(t, 0, f.store.Len())
}

func TestScenario_AmbiguityResolvedByExplicitVersion(t *testing.T) {
	f := newFixture(t)
	june30 := date(2024, time.June, 30)
	f.dir.PutVersion(workentry.ContractVersion{ID: "v-E1-june", EmployeeID: "E1", CalendarID: "std", DateStart: date(2024, time.June, 1), DateEnd: &june30})

	got, err := f.coord.Create(f.ctx, []workentry.NewEntry{{
		EmployeeID: "E1",
		VersionID:  "v-E1-june",
		TypeID:     typeWork,
		Start:      time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
		Stop:       time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC),
	}}, workentry.DefaultOptions())

	require.NoError(t, err)
	assert.Equal(t, workentry.VersionID("v-E1-june"), got[0].VersionID)
}

func TestScenario_LeaveOutsideSchedule(t *testing.T) {
	f := newFixture(t)

	// GIVEN: A leave on Saturday 2024-01-06 09:00-13:00
	leave := f.create("E1", typeLeave, ts(6, 9, 0), ts(6, 13, 0))

	// THEN: The post-write check already flags it, with no attendance hours
	assert.Equal(t, workentry.StateConflict, leave.State)
	assert.True(t, leave.Duration.IsZero())

	// WHEN: Validated
	res := f.validate(leave.ID)

	// THEN: Failure due to leave-outside-schedule only
	assert.False(t, res.OK())
	assert.Equal(t, []workentry.Reason{workentry.ReasonOutsideSchedule}, res.Conflicts[leave.ID])
	assert.Equal(t, workentry.StateConflict, f.get(leave.ID).State)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestCreate_ReturnsBoundDraftOrConflictEntries(t *testing.T) {
	f := newFixture(t)

	got, err := f.coord.Create(f.ctx, []workentry.NewEntry{
		{EmployeeID: "E1", TypeID: typeWork, Start: ts(8, 8, 0), Stop: ts(8, 12, 0)},
		{EmployeeID: "E1", TypeID: typeWork, Start: ts(8, 10, 0), Stop: ts(8, 14, 0)},
		{EmployeeID: "E2", TypeID: typeAttendance, Start: ts(9, 9, 0), Stop: ts(9, 17, 0)},
	}, workentry.DefaultOptions())
	require.NoError(t, err)

	require.Len(t, got, 3)
	for _, e := range got {
		assert.True(t, e.Stop.After(e.Start))
		assert.NotEmpty(t, e.VersionID)
		assert.NotEmpty(t, e.ID)
		assert.Contains(t, []workentry.State{workentry.StateDraft, workentry.StateConflict}, e.State)
		assert.Equal(t, workentry.CompanyID("C1"), e.CompanyID)
		assert.Equal(t, f.get(e.ID).State, e.State, "returned state matches storage")
	}
	assert.Equal(t, workentry.StateConflict, got[0].State)
	assert.Equal(t, workentry.StateConflict, got[1].State)
	assert.Equal(t, workentry.StateDraft, got[2].State)
}

func TestCreate_ClockDurationRoundsToTheSecond(t *testing.T) {
	f := newFixture(t)

	start := ts(8, 8, 0)
	stop := ts(8, 9, 30).Add(600 * time.Millisecond)
	e := f.create("E1", typeWork, start, stop)

	want := workentry.HoursOf(stop.Sub(start).Round(time.Second))
	assert.True(t, want.Equal(e.Duration), "want %s got %s", want, e.Duration)
	assert.True(t, f.get(e.ID).Duration.Equal(want))
}

func TestValidate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	require.True(t, f.validate(first.ID).OK())
	second := f.create("E1", typeWork, ts(8, 11, 0), ts(8, 13, 0))

	r1, err1 := f.coord.Validate(f.ctx, []workentry.EntryID{second.ID})
	states1 := []workentry.State{f.get(first.ID).State, f.get(second.ID).State}
	r2, err2 := f.coord.Validate(f.ctx, []workentry.EntryID{second.ID})
	states2 := []workentry.State{f.get(first.ID).State, f.get(second.ID).State}

	assert.Equal(t, err1, err2)
	assert.Equal(t, r1.OK(), r2.OK())
	assert.Equal(t, r1.Conflicts, r2.Conflicts)
	assert.Equal(t, states1, states2)
}

func TestValidate_AlreadyValidatedIsSkipped(t *testing.T) {
	f := newFixture(t)
	e := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	require.True(t, f.validate(e.ID).OK())

	res := f.validate(e.ID)
	assert.True(t, res.OK())
	assert.Empty(t, res.Validated)
	assert.Equal(t, []workentry.EntryID{e.ID}, res.Skipped)
}

func TestCancel_FreesTheSlot(t *testing.T) {
	f := newFixture(t)

	// GIVEN: A validated entry
	first := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	require.True(t, f.validate(first.ID).OK())

	// WHEN: It is cancelled and another entry takes the same slot
	cancelled, err := f.coord.Cancel(f.ctx, []workentry.EntryID{first.ID}, workentry.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, workentry.StateCancelled, cancelled[0].State)
	assert.False(t, cancelled[0].Active)

	second := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	assert.Equal(t, workentry.StateDraft, second.State)

	// THEN: The new one validates
	assert.True(t, f.validate(second.ID).OK())
	assert.Equal(t, workentry.StateValidated, f.get(second.ID).State)
	f.assertNoValidatedOverlap()
}

func TestLeaveOutsideSchedule_IsReversible(t *testing.T) {
	f := newFixture(t)
	leave := f.create("E1", typeLeave, ts(6, 9, 0), ts(6, 13, 0))
	require.False(t, f.validate(leave.ID).OK())

	// WHEN: The calendar is extended to Saturdays
	extended := calendar.Weekly("std", "Standard + Saturday", "UTC", 9*time.Hour, 17*time.Hour,
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday)
	require.NoError(t, f.dir.PutCalendar(extended))

	// THEN: Validation succeeds
	res := f.validate(leave.ID)
	assert.True(t, res.OK())
	assert.Equal(t, workentry.StateValidated, f.get(leave.ID).State)
}

func TestRecheck_ClearsConflictAfterCalendarChange(t *testing.T) {
	f := newFixture(t)
	leave := f.create("E1", typeLeave, ts(6, 9, 0), ts(6, 13, 0))
	require.Equal(t, workentry.StateConflict, leave.State)

	require.NoError(t, f.dir.PutCalendar(calendar.Weekly("std", "Every day", "UTC", 9*time.Hour, 17*time.Hour,
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday)))

	report, err := f.coord.Recheck(f.ctx, interval.NewSpan(ts(1, 0, 0), ts(31, 0, 0)), nil)
	require.NoError(t, err)

	assert.Equal(t, []workentry.EntryID{leave.ID}, report.Cleared)
	assert.Equal(t, workentry.StateDraft, f.get(leave.ID).State)
}

// =============================================================================
// CONFLICT LIFECYCLE
// =============================================================================

func TestUpdate_MovingAwayClearsBothConflicts(t *testing.T) {
	f := newFixture(t)
	a := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	b := f.create("E1", typeWork, ts(8, 11, 0), ts(8, 13, 0))
	require.Equal(t, workentry.StateConflict, f.get(a.ID).State)
	require.Equal(t, workentry.StateConflict, b.State)

	// WHEN: b moves to the afternoon
	start, stop := ts(8, 13, 0), ts(8, 15, 0)
	got, err := f.coord.Update(f.ctx, []workentry.EntryID{b.ID}, workentry.Patch{Start: &start, Stop: &stop}, workentry.DefaultOptions())
	require.NoError(t, err)

	// THEN: Both neighbors are back to draft, b's duration follows its interval
	assert.Equal(t, workentry.StateDraft, got[0].State)
	assert.True(t, got[0].Duration.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, workentry.StateDraft, f.get(a.ID).State)
	assert.Equal(t, workentry.StateDraft, f.get(b.ID).State)
}

func TestDelete_ClearsNeighborConflict(t *testing.T) {
	f := newFixture(t)
	a := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	b := f.create("E1", typeWork, ts(8, 11, 0), ts(8, 13, 0))

	require.NoError(t, f.coord.Delete(f.ctx, []workentry.EntryID{b.ID}, workentry.DefaultOptions()))

	assert.Equal(t, workentry.StateDraft, f.get(a.ID).State)
	_, err := f.store.Get(f.ctx, []workentry.EntryID{b.ID})
	assert.True(t, workentry.IsNotFound(err))
}

func TestDelete_RefusesValidated(t *testing.T) {
	f := newFixture(t)
	a := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	b := f.create("E1", typeWork, ts(9, 8, 0), ts(9, 12, 0))
	require.True(t, f.validate(a.ID).OK())

	err := f.coord.Delete(f.ctx, []workentry.EntryID{a.ID, b.ID}, workentry.DefaultOptions())

	assert.ErrorIs(t, err, workentry.ErrDeleteValidated)
	var de *workentry.DeleteValidatedError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []workentry.EntryID{a.ID}, de.EntryIDs)
	assert.Equal(t, 2, f.store.Len(), "the whole batch is refused")
}

func TestUndefinedType_IsAConflict(t *testing.T) {
	f := newFixture(t)
	e := f.create("E1", "no-such-type", ts(8, 8, 0), ts(8, 12, 0))

	assert.Equal(t, workentry.StateConflict, e.State)
	res := f.validate(e.ID)
	assert.Equal(t, []workentry.Reason{workentry.ReasonUndefinedType}, res.Conflicts[e.ID])
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestUpdate_RejectsDirectStateWrites(t *testing.T) {
	f := newFixture(t)
	e := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))

	for _, s := range []workentry.State{workentry.StateValidated, workentry.StateConflict} {
		state := s
		_, err := f.coord.Update(f.ctx, []workentry.EntryID{e.ID}, workentry.Patch{State: &state}, workentry.DefaultOptions())
		assert.ErrorIs(t, err, workentry.ErrInvalidTransition, "to %s", s)
	}
	assert.Equal(t, workentry.StateDraft, f.get(e.ID).State)
}

func TestUpdate_ValidatedCannotReturnToDraft(t *testing.T) {
	f := newFixture(t)
	e := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	require.True(t, f.validate(e.ID).OK())

	_, err := f.coord.Reactivate(f.ctx, []workentry.EntryID{e.ID}, workentry.DefaultOptions())

	var te *workentry.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, workentry.StateValidated, te.From)
	assert.Equal(t, workentry.StateDraft, te.To)
}

func TestUpdate_ActiveMirrorsState(t *testing.T) {
	f := newFixture(t)
	e := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))

	off := false
	got, err := f.coord.Update(f.ctx, []workentry.EntryID{e.ID}, workentry.Patch{Active: &off}, workentry.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, workentry.StateCancelled, got[0].State)

	on := true
	got, err = f.coord.Update(f.ctx, []workentry.EntryID{e.ID}, workentry.Patch{Active: &on}, workentry.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, workentry.StateDraft, got[0].State)
	assert.True(t, got[0].Active)

	// contradictory patch
	cancelled := workentry.StateCancelled
	_, err = f.coord.Update(f.ctx, []workentry.EntryID{e.ID}, workentry.Patch{Active: &on, State: &cancelled}, workentry.DefaultOptions())
	assert.ErrorIs(t, err, workentry.ErrInvalidTransition)
}

func TestCancel_RefusedFromConflict(t *testing.T) {
	// GIVEN: Two overlapping drafts, both in conflict
	f := newFixture(t)
	a := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	b := f.create("E1", typeWork, ts(8, 11, 0), ts(8, 13, 0))

	// WHEN: Cancelling the second
	_, err := f.coord.Cancel(f.ctx, []workentry.EntryID{b.ID}, workentry.DefaultOptions())

	// THEN: The transition is refused and both stay in conflict
	var te *workentry.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, workentry.StateConflict, te.From)
	assert.Equal(t, workentry.StateCancelled, te.To)
	assert.Equal(t, workentry.StateConflict, f.get(a.ID).State)
	assert.Equal(t, workentry.StateConflict, f.get(b.ID).State)
}

func TestReactivate_BringsTheConflictBack(t *testing.T) {
	// GIVEN: A draft cancelled, then a neighbor written over its slot
	f := newFixture(t)
	b := f.create("E1", typeWork, ts(8, 11, 0), ts(8, 13, 0))
	_, err := f.coord.Cancel(f.ctx, []workentry.EntryID{b.ID}, workentry.DefaultOptions())
	require.NoError(t, err)
	a := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	require.Equal(t, workentry.StateDraft, a.State)

	// WHEN: Reactivating the cancelled entry
	got, err := f.coord.Reactivate(f.ctx, []workentry.EntryID{b.ID}, workentry.DefaultOptions())

	// THEN: Both are flagged
	require.NoError(t, err)
	assert.Equal(t, workentry.StateConflict, got[0].State)
	assert.Equal(t, workentry.StateConflict, f.get(a.ID).State)
}

func TestUpdate_RebindsWhenEmployeeChanges(t *testing.T) {
	f := newFixture(t)
	e := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))

	emp := workentry.EmployeeID("E2")
	got, err := f.coord.Update(f.ctx, []workentry.EntryID{e.ID}, workentry.Patch{EmployeeID: &emp}, workentry.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, workentry.VersionID("v-E2"), got[0].VersionID)
}

func TestUpdate_InvalidIntervalAbortsBatch(t *testing.T) {
	f := newFixture(t)
	e := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))

	stop := ts(8, 7, 0)
	_, err := f.coord.Update(f.ctx, []workentry.EntryID{e.ID}, workentry.Patch{Stop: &stop}, workentry.DefaultOptions())

	assert.ErrorIs(t, err, workentry.ErrInvalidInterval)
	assert.True(t, f.get(e.ID).Stop.Equal(ts(8, 12, 0)))
}

// =============================================================================
// DURATIONS AND PLANNING
// =============================================================================

func TestCreate_CalendarDurationsAreBatched(t *testing.T) {
	f := newFixture(t)

	// GIVEN: Three employees on the same calendar, same interval
	var batch []workentry.NewEntry
	for _, emp := range []workentry.EmployeeID{"E1", "E2", "E3"} {
		batch = append(batch, workentry.NewEntry{EmployeeID: emp, TypeID: typeAttendance, Start: ts(8, 8, 0), Stop: ts(8, 18, 0)})
	}

	got, err := f.coord.Create(f.ctx, batch, workentry.DefaultOptions())
	require.NoError(t, err)

	// THEN: One calendar query, 8 attendance hours each
	assert.Equal(t, int64(1), f.cal.attendances.Load())
	for _, e := range got {
		assert.True(t, e.Duration.Equal(decimal.NewFromInt(8)), "duration %s", e.Duration)
	}
}

func TestCreate_PlansStopFromDuration(t *testing.T) {
	f := newFixture(t)
	ten := decimal.NewFromInt(10)

	got, err := f.coord.Create(f.ctx, []workentry.NewEntry{
		{EmployeeID: "E1", TypeID: typeAttendance, Start: ts(8, 9, 0), Duration: &ten},
		{EmployeeID: "E2", TypeID: typeWork, Start: ts(8, 9, 0), Duration: &ten},
	}, workentry.DefaultOptions())
	require.NoError(t, err)

	// calendar-driven: Monday 8h + Tuesday 2h
	assert.True(t, got[0].Stop.Equal(ts(9, 11, 0)), "stop %s", got[0].Stop)
	assert.True(t, got[0].Duration.Equal(ten))
	// clock: start + 10h
	assert.True(t, got[1].Stop.Equal(ts(8, 19, 0)), "stop %s", got[1].Stop)
}

func TestCreate_CompanyPropagation(t *testing.T) {
	f := newFixture(t)
	in := []workentry.NewEntry{{EmployeeID: "E1", TypeID: typeWork, Start: ts(8, 8, 0), Stop: ts(8, 9, 0)}}

	opts := workentry.DefaultOptions()
	opts.PropagateCompany = false
	got, err := f.coord.Create(f.ctx, in, opts)
	require.NoError(t, err)
	assert.Empty(t, got[0].CompanyID)
}

func TestCreate_RejectsMissingStop(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.Create(f.ctx, []workentry.NewEntry{{EmployeeID: "E1", TypeID: typeWork, Start: ts(8, 8, 0)}}, workentry.DefaultOptions())
	assert.ErrorIs(t, err, workentry.ErrInvalidInterval)
	assert.True(t, workentry.IsClientError(err))
}

// =============================================================================
// ERROR PATHS
// =============================================================================

// flakyStore fails inserts with a fixed error and counts transactions.
type flakyStore struct {
	workentry.TxStore
	failInsert error
	txCalls    int
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(workentry.Store) error) error {
	s.txCalls++
	return s.TxStore.WithTx(ctx, func(tx workentry.Store) error {
		return fn(&flakyTx{Store: tx, failInsert: s.failInsert})
	})
}

type flakyTx struct {
	workentry.Store
	failInsert error
}

func (t *flakyTx) Insert(ctx context.Context, entries []workentry.WorkEntry) error {
	if t.failInsert != nil {
		return t.failInsert
	}
	return t.Store.Insert(ctx, entries)
}

func newFlakyCoordinator(f *fixture, failInsert error) (*workentry.Coordinator, *flakyStore) {
	s := &flakyStore{TxStore: f.store, failInsert: failInsert}
	return workentry.NewCoordinator(workentry.Dependencies{
		Store:    s,
		Registry: f.dir,
		Calendar: f.cal,
		Catalog:  f.dir,
		Logger:   f.log,
	}), s
}

func TestCreate_TransientErrorSkipsPostCheck(t *testing.T) {
	f := newFixture(t)
	transient := fmt.Errorf("database is locked: %w", workentry.ErrTransientStorage)
	coord, s := newFlakyCoordinator(f, transient)

	_, err := coord.Create(f.ctx, []workentry.NewEntry{{EmployeeID: "E1", TypeID: typeWork, Start: ts(8, 8, 0), Stop: ts(8, 9, 0)}}, workentry.DefaultOptions())

	assert.ErrorIs(t, err, workentry.ErrTransientStorage)
	assert.True(t, workentry.IsRetryable(err))
	assert.Equal(t, 1, s.txCalls, "no re-check transaction")
	assert.Equal(t, logrus.WarnLevel, f.logs.LastEntry().Level)
}

func TestCreate_StorageErrorStillRechecks(t *testing.T) {
	f := newFixture(t)
	overlap := &workentry.OverlapError{EmployeeID: "E1"}
	coord, s := newFlakyCoordinator(f, overlap)

	_, err := coord.Create(f.ctx, []workentry.NewEntry{{EmployeeID: "E1", TypeID: typeWork, Start: ts(8, 8, 0), Stop: ts(8, 9, 0)}}, workentry.DefaultOptions())

	assert.ErrorIs(t, err, workentry.ErrValidatedOverlap)
	assert.Equal(t, 2, s.txCalls, "rolled-back write is followed by a re-check")
}

// staleConflict stores a lone draft and forces it to conflict, the way a
// neighbor that has since moved would leave it.
func (f *fixture) staleConflict(start, stop time.Time) workentry.EntryID {
	f.t.Helper()
	noCheck := workentry.DefaultOptions()
	noCheck.SkipCheck = true
	got, err := f.coord.Create(f.ctx, []workentry.NewEntry{{EmployeeID: "E1", TypeID: typeWork, Start: start, Stop: stop}}, noCheck)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.SetState(f.ctx, []workentry.EntryID{got[0].ID}, workentry.StateConflict))
	return got[0].ID
}

func TestUpdate_FailedWriteStillRechecksTheWidenedWindow(t *testing.T) {
	// GIVEN: A validated entry at 10-11 and a stale conflict at 08-09
	f := newFixture(t)
	v := f.create("E1", typeWork, ts(8, 10, 0), ts(8, 11, 0))
	require.True(t, f.validate(v.ID).OK())
	stale := f.staleConflict(ts(8, 8, 0), ts(8, 9, 0))

	// WHEN: An update widening it to 07-11 fails on the lifecycle rules
	start, stop := ts(8, 7, 0), ts(8, 11, 0)
	draft := workentry.StateDraft
	_, err := f.coord.Update(f.ctx, []workentry.EntryID{v.ID}, workentry.Patch{Start: &start, Stop: &stop, State: &draft}, workentry.DefaultOptions())

	// THEN: Nothing moved, but the window it would have covered was re-checked
	assert.ErrorIs(t, err, workentry.ErrInvalidTransition)
	assert.True(t, f.get(v.ID).Start.Equal(ts(8, 10, 0)))
	assert.Equal(t, workentry.StateValidated, f.get(v.ID).State)
	assert.Equal(t, workentry.StateDraft, f.get(stale).State)
}

func TestDelete_RefusedStillRechecks(t *testing.T) {
	// GIVEN: A validated entry and a stale conflict next to it
	f := newFixture(t)
	v := f.create("E1", typeWork, ts(8, 8, 0), ts(8, 12, 0))
	require.True(t, f.validate(v.ID).OK())
	stale := f.staleConflict(ts(8, 12, 0), ts(8, 13, 0))

	// WHEN: Deleting both is refused
	err := f.coord.Delete(f.ctx, []workentry.EntryID{v.ID, stale}, workentry.DefaultOptions())

	// THEN: The stale conflict is cleared anyway
	assert.ErrorIs(t, err, workentry.ErrDeleteValidated)
	assert.Equal(t, workentry.StateDraft, f.get(stale).State)
}

func TestCreate_MissingContractStillRechecks(t *testing.T) {
	// GIVEN: A stale conflict on the 8th
	f := newFixture(t)
	stale := f.staleConflict(ts(8, 8, 0), ts(8, 9, 0))

	// WHEN: A batch touching the same day fails on a missing contract
	_, err := f.coord.Create(f.ctx, []workentry.NewEntry{
		{EmployeeID: "E1", TypeID: typeWork, Start: ts(8, 7, 0), Stop: ts(8, 10, 0)},
		{EmployeeID: "E1", TypeID: typeWork, Start: date(2025, time.March, 3), Stop: date(2025, time.March, 3).Add(time.Hour)},
	}, workentry.DefaultOptions())

	// THEN: Nothing is persisted and the stale conflict is refreshed
	assert.ErrorIs(t, err, workentry.ErrMissingContract)
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, workentry.StateDraft, f.get(stale).State)
}

func TestCreate_CancelledContextAborts(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	_, err := f.coord.Create(ctx, []workentry.NewEntry{{EmployeeID: "E1", TypeID: typeWork, Start: ts(8, 8, 0), Stop: ts(8, 9, 0)}}, workentry.DefaultOptions())

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, f.store.Len())
}

func contains(reasons []workentry.Reason, r workentry.Reason) bool {
	for _, got := range reasons {
		if got == r {
			return true
		}
	}
	return false
}
