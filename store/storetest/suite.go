// Package storetest is the conformance suite every store.Backend runs.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/interval"
	"github.com/warp/workentry-engine/store"
	"github.com/warp/workentry-engine/workentry"
)

// Opener returns an empty backend. The suite closes it.
type Opener func(t *testing.T) store.Backend

// Run runs the suite against backends made by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b store.Backend)
	}{
		{"RoundTrip", testRoundTrip},
		{"RejectsInvalidInterval", testRejectsInvalidInterval},
		{"RejectsValidatedOverlap", testRejectsValidatedOverlap},
		{"TouchingAndCancelledAreFine", testTouchingAndCancelledAreFine},
		{"FindFilters", testFindFilters},
		{"GetMissing", testGetMissing},
		{"TxRollback", testTxRollback},
		{"ReferenceData", testReferenceData},
		{"CalendarRevisions", testCalendarRevisions},
		{"CoordinatorScenario", testCoordinatorScenario},
		{"ConcurrentValidation", testConcurrentValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := open(t)
			t.Cleanup(func() { b.Close() })
			tt.fn(t, b)
		})
	}
}

func at(day, hour int) time.Time {
	return time.Date(2024, time.January, day, hour, 0, 0, 0, time.UTC)
}

func entry(id workentry.EntryID, emp workentry.EmployeeID, from, to time.Time, state workentry.State) workentry.WorkEntry {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return workentry.WorkEntry{
		ID:         id,
		Name:       "entry " + string(id),
		EmployeeID: emp,
		VersionID:  "v-" + workentry.VersionID(emp),
		TypeID:     "work",
		CompanyID:  "C1",
		Start:      from,
		Stop:       to,
		Duration:   decimal.NewFromFloat(to.Sub(from).Hours()),
		State:      state,
		Active:     state != workentry.StateCancelled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// seed stores employees E1, E2 on a Mon-Fri 09-17 UTC calendar, with types
// work and leave.
func seed(t *testing.T, b store.Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.SaveCalendar(ctx, calendar.StandardWeek("std", "Standard", "UTC", 9*time.Hour, 17*time.Hour)))
	require.NoError(t, b.SaveEntryType(ctx, workentry.EntryType{ID: "work", Code: "WORK", Name: "Work"}))
	require.NoError(t, b.SaveEntryType(ctx, workentry.EntryType{ID: "leave", Code: "LEAVE", Name: "Leave", IsLeave: true, UsesCalendarDuration: true}))
	for _, emp := range []workentry.EmployeeID{"E1", "E2"} {
		require.NoError(t, b.SaveEmployee(ctx, workentry.Employee{ID: emp, Name: string(emp), CompanyID: "C1"}))
		require.NoError(t, b.SaveVersion(ctx, workentry.ContractVersion{
			ID:         "v-" + workentry.VersionID(emp),
			EmployeeID: emp,
			CompanyID:  "C1",
			CalendarID: "std",
			DateStart:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}))
	}
}

func testRoundTrip(t *testing.T, b store.Backend) {
	ctx := context.Background()
	e := entry("a", "E1", at(8, 8), at(8, 12), workentry.StateDraft)
	e.Start = e.Start.Add(123456 * time.Microsecond)
	e.Duration = decimal.RequireFromString("3.965706")

	require.NoError(t, b.Insert(ctx, []workentry.WorkEntry{e}))

	got, err := b.Get(ctx, []workentry.EntryID{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, e.Start.Equal(got[0].Start), "start %s", got[0].Start)
	assert.True(t, e.Stop.Equal(got[0].Stop))
	assert.True(t, e.Duration.Equal(got[0].Duration), "duration %s", got[0].Duration)
	assert.Equal(t, e.Name, got[0].Name)
	assert.Equal(t, e.VersionID, got[0].VersionID)
	assert.Equal(t, e.CompanyID, got[0].CompanyID)
	assert.Equal(t, workentry.StateDraft, got[0].State)
	assert.True(t, got[0].Active)

	e.State = workentry.StateCancelled
	e.Active = false
	e.Name = "renamed"
	require.NoError(t, b.Update(ctx, []workentry.WorkEntry{e}))
	got, err = b.Get(ctx, []workentry.EntryID{"a"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got[0].Name)
	assert.False(t, got[0].Active)

	require.NoError(t, b.Delete(ctx, []workentry.EntryID{"a"}))
	_, err = b.Get(ctx, []workentry.EntryID{"a"})
	assert.True(t, workentry.IsNotFound(err))
}

func testRejectsInvalidInterval(t *testing.T, b store.Backend) {
	ctx := context.Background()
	err := b.Insert(ctx, []workentry.WorkEntry{entry("a", "E1", at(8, 12), at(8, 8), workentry.StateDraft)})
	assert.ErrorIs(t, err, workentry.ErrInvalidInterval)

	err = b.Insert(ctx, []workentry.WorkEntry{entry("b", "E1", at(8, 12), at(8, 12), workentry.StateDraft)})
	assert.ErrorIs(t, err, workentry.ErrInvalidInterval)
}

func testRejectsValidatedOverlap(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Insert(ctx, []workentry.WorkEntry{
		entry("a", "E1", at(8, 8), at(8, 12), workentry.StateValidated),
		entry("b", "E1", at(8, 11), at(8, 13), workentry.StateDraft),
		entry("c", "E2", at(8, 11), at(8, 13), workentry.StateValidated),
	}))

	err := b.SetState(ctx, []workentry.EntryID{"b"}, workentry.StateValidated)
	assert.ErrorIs(t, err, workentry.ErrValidatedOverlap)
	var oe *workentry.OverlapError
	assert.True(t, errors.As(err, &oe))

	got, err := b.Get(ctx, []workentry.EntryID{"b"})
	require.NoError(t, err)
	assert.Equal(t, workentry.StateDraft, got[0].State)

	err = b.Insert(ctx, []workentry.WorkEntry{entry("d", "E1", at(8, 9), at(8, 10), workentry.StateValidated)})
	assert.ErrorIs(t, err, workentry.ErrValidatedOverlap)
}

func testTouchingAndCancelledAreFine(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Insert(ctx, []workentry.WorkEntry{
		entry("a", "E1", at(8, 8), at(8, 12), workentry.StateValidated),
		entry("b", "E1", at(8, 12), at(8, 16), workentry.StateValidated),
	}))
	require.NoError(t, b.SetState(ctx, []workentry.EntryID{"a"}, workentry.StateCancelled))
	require.NoError(t, b.Insert(ctx, []workentry.WorkEntry{entry("c", "E1", at(8, 8), at(8, 12), workentry.StateValidated)}))
}

func testFindFilters(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Insert(ctx, []workentry.WorkEntry{
		entry("a", "E1", at(8, 8), at(8, 10), workentry.StateDraft),
		entry("b", "E1", at(8, 10), at(8, 12), workentry.StateConflict),
		entry("c", "E1", at(8, 13), at(8, 14), workentry.StateCancelled),
		entry("d", "E2", at(8, 9), at(8, 10), workentry.StateDraft),
	}))

	window := interval.NewSpan(at(8, 9), at(8, 13))
	got, err := b.Find(ctx, workentry.Query{Window: &window, ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []workentry.EntryID{"a", "b", "d"}, ids(got))

	got, err = b.Find(ctx, workentry.Query{EmployeeIDs: []workentry.EmployeeID{"E1"}, States: []workentry.State{workentry.StateConflict, workentry.StateCancelled}})
	require.NoError(t, err)
	assert.Equal(t, []workentry.EntryID{"b", "c"}, ids(got))

	// the window is half-open
	edge := interval.NewSpan(at(8, 12), at(8, 13))
	got, err = b.Find(ctx, workentry.Query{Window: &edge})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testGetMissing(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Insert(ctx, []workentry.WorkEntry{entry("a", "E1", at(8, 8), at(8, 10), workentry.StateDraft)}))

	_, err := b.Get(ctx, []workentry.EntryID{"a", "zz"})
	var nf *workentry.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{"zz"}, nf.IDs)

	err = b.SetState(ctx, []workentry.EntryID{"zz"}, workentry.StateDraft)
	assert.True(t, workentry.IsNotFound(err))
}

func testTxRollback(t *testing.T, b store.Backend) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := b.WithTx(ctx, func(tx workentry.Store) error {
		if err := tx.Insert(ctx, []workentry.WorkEntry{entry("a", "E1", at(8, 8), at(8, 10), workentry.StateDraft)}); err != nil {
			return err
		}
		got, err := tx.Get(ctx, []workentry.EntryID{"a"})
		if err != nil {
			return err
		}
		if len(got) != 1 {
			return errors.New("own write not visible")
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = b.Get(ctx, []workentry.EntryID{"a"})
	assert.True(t, workentry.IsNotFound(err))
}

func testReferenceData(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b)

	employees, err := b.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, employees, 2)

	byID, err := b.Employees(ctx, []workentry.EmployeeID{"E2", "nobody"})
	require.NoError(t, err)
	assert.Equal(t, workentry.CompanyID("C1"), byID["E2"].CompanyID)
	assert.NotContains(t, byID, workentry.EmployeeID("nobody"))

	types, err := b.EntryTypes(ctx, []workentry.TypeID{"leave"})
	require.NoError(t, err)
	assert.True(t, types["leave"].IsLeave)
	assert.True(t, types["leave"].UsesCalendarDuration)

	// E1 changes contract at the end of January
	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, b.SaveVersion(ctx, workentry.ContractVersion{ID: "v-E1", EmployeeID: "E1", CalendarID: "std", DateStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), DateEnd: &jan31}))
	require.NoError(t, b.SaveVersion(ctx, workentry.ContractVersion{ID: "v-E1-feb", EmployeeID: "E1", CalendarID: "std", DateStart: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}))

	got, err := b.VersionsOverlapping(ctx, "E1", at(31, 20), time.Date(2024, 2, 1, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, workentry.VersionID("v-E1"), got[0].ID)
	require.NotNil(t, got[0].DateEnd)
	assert.True(t, got[0].DateEnd.Equal(jan31))
	assert.Nil(t, got[1].DateEnd)

	versions, err := b.Versions(ctx, []workentry.VersionID{"v-E1-feb", "gone"})
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	require.NoError(t, b.DeleteVersion(ctx, "v-E1-feb"))
	list, err := b.ListVersions(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testCalendarRevisions(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b)

	_, err := b.LoadCalendar(ctx, "missing")
	assert.ErrorIs(t, err, calendar.ErrCalendarNotFound)

	cal := calendar.Weekly("std", "Six days", "Europe/Paris", 8*time.Hour, 16*time.Hour,
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday)
	cal.Closures = []calendar.Closure{{Name: "Holiday", Start: at(1, 0), Stop: at(2, 0)}}
	require.NoError(t, b.SaveCalendar(ctx, cal))

	got, err := b.LoadCalendar(ctx, "std")
	require.NoError(t, err)
	assert.Equal(t, "Six days", got.Name)
	assert.Equal(t, "Europe/Paris", got.Timezone)
	assert.Len(t, got.Attendances, 6)
	require.Len(t, got.Closures, 1)
	assert.True(t, got.Closures[0].Start.Equal(at(1, 0)))

	all, err := b.ListCalendars(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.Error(t, b.SaveCalendar(ctx, &calendar.Calendar{ID: "bad", Timezone: "Not/AZone"}))
}

func newCoordinator(b store.Backend) *workentry.Coordinator {
	return workentry.NewCoordinator(workentry.Dependencies{
		Store:    b,
		Registry: b,
		Calendar: calendar.NewRegistry(b),
		Catalog:  b,
	})
}

func testCoordinatorScenario(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b)
	coord := newCoordinator(b)

	first, err := coord.Create(ctx, []workentry.NewEntry{{EmployeeID: "E1", TypeID: "work", Start: at(8, 8), Stop: at(8, 12)}}, workentry.DefaultOptions())
	require.NoError(t, err)
	res, err := coord.Validate(ctx, []workentry.EntryID{first[0].ID})
	require.NoError(t, err)
	require.True(t, res.OK())

	second, err := coord.Create(ctx, []workentry.NewEntry{{EmployeeID: "E1", TypeID: "work", Start: at(8, 11), Stop: at(8, 13)}}, workentry.DefaultOptions())
	require.NoError(t, err)
	res, err = coord.Validate(ctx, []workentry.EntryID{second[0].ID})
	require.NoError(t, err)
	assert.False(t, res.OK())

	got, err := b.Get(ctx, []workentry.EntryID{first[0].ID, second[0].ID})
	require.NoError(t, err)
	for _, e := range got {
		assert.Equal(t, workentry.StateConflict, e.State)
	}

	// a conflict entry cannot be cancelled; deleting it frees the slot
	_, err = coord.Cancel(ctx, []workentry.EntryID{first[0].ID}, workentry.DefaultOptions())
	assert.ErrorIs(t, err, workentry.ErrInvalidTransition)
	require.NoError(t, coord.Delete(ctx, []workentry.EntryID{first[0].ID}, workentry.DefaultOptions()))
	res, err = coord.Validate(ctx, []workentry.EntryID{second[0].ID})
	require.NoError(t, err)
	assert.True(t, res.OK())

	// a Saturday leave has no attendance
	leave, err := coord.Create(ctx, []workentry.NewEntry{{EmployeeID: "E2", TypeID: "leave", Start: at(6, 9), Stop: at(6, 13)}}, workentry.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, workentry.StateConflict, leave[0].State)
	assert.True(t, leave[0].Duration.IsZero())
}

// testConcurrentValidation races two validations of overlapping drafts:
// at most one may win.
func testConcurrentValidation(t *testing.T, b store.Backend) {
	ctx := context.Background()
	seed(t, b)
	coord := newCoordinator(b)

	opts := workentry.DefaultOptions()
	opts.SkipCheck = true // keep both drafts clean so each validation can race
	created, err := coord.Create(ctx, []workentry.NewEntry{
		{EmployeeID: "E1", TypeID: "work", Start: at(8, 8), Stop: at(8, 12)},
		{EmployeeID: "E1", TypeID: "work", Start: at(8, 11), Stop: at(8, 13)},
	}, opts)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, e := range created {
		wg.Add(1)
		go func(id workentry.EntryID) {
			defer wg.Done()
			for attempt := 0; attempt < 5; attempt++ {
				_, err := coord.Validate(ctx, []workentry.EntryID{id})
				if !workentry.IsRetryable(err) {
					return
				}
			}
		}(e.ID)
	}
	wg.Wait()

	validated, err := b.Find(ctx, workentry.Query{States: []workentry.State{workentry.StateValidated}, ActiveOnly: true})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(validated), 1)
}

func ids(entries []workentry.WorkEntry) []workentry.EntryID {
	out := make([]workentry.EntryID, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
