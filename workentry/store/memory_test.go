package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/workentry"
)

func at(hour int) time.Time {
	return time.Date(2024, time.January, 8, hour, 0, 0, 0, time.UTC)
}

func entry(id string, from, to int, state workentry.State) workentry.WorkEntry {
	return workentry.WorkEntry{
		ID:         workentry.EntryID(id),
		EmployeeID: "E1",
		Start:      at(from),
		Stop:       at(to),
		State:      state,
		Active:     state != workentry.StateCancelled,
	}
}

func TestMemory_RejectsOverlappingValidatedEntries(t *testing.T) {
	ctx := context.Background()
	m := NewTxMemory()

	require.NoError(t, m.Insert(ctx, []workentry.WorkEntry{entry("a", 8, 12, workentry.StateValidated)}))

	// Drafts may overlap
	require.NoError(t, m.Insert(ctx, []workentry.WorkEntry{entry("b", 11, 13, workentry.StateDraft)}))

	// Validating the draft would break the rule
	err := m.SetState(ctx, []workentry.EntryID{"b"}, workentry.StateValidated)
	assert.ErrorIs(t, err, workentry.ErrValidatedOverlap)

	got, err := m.Get(ctx, []workentry.EntryID{"b"})
	require.NoError(t, err)
	assert.Equal(t, workentry.StateDraft, got[0].State, "failed write must leave no trace")
}

func TestMemory_TouchingValidatedEntriesAreFine(t *testing.T) {
	ctx := context.Background()
	m := NewTxMemory()

	err := m.Insert(ctx, []workentry.WorkEntry{
		entry("a", 8, 12, workentry.StateValidated),
		entry("b", 12, 16, workentry.StateValidated),
	})
	assert.NoError(t, err)
}

func TestMemory_CancelledEntriesDoNotCount(t *testing.T) {
	ctx := context.Background()
	m := NewTxMemory()

	require.NoError(t, m.Insert(ctx, []workentry.WorkEntry{entry("a", 8, 12, workentry.StateValidated)}))
	require.NoError(t, m.SetState(ctx, []workentry.EntryID{"a"}, workentry.StateCancelled))

	err := m.Insert(ctx, []workentry.WorkEntry{entry("b", 8, 12, workentry.StateValidated)})
	assert.NoError(t, err)
}

func TestMemory_RejectsInvalidInterval(t *testing.T) {
	m := NewTxMemory()
	err := m.Insert(context.Background(), []workentry.WorkEntry{entry("a", 12, 8, workentry.StateDraft)})
	assert.ErrorIs(t, err, workentry.ErrInvalidInterval)
	assert.Equal(t, 0, m.Len())
}

func TestTxMemory_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewTxMemory()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(tx workentry.Store) error {
		require.NoError(t, tx.Insert(ctx, []workentry.WorkEntry{entry("a", 8, 12, workentry.StateDraft)}))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_GetMissingIsNotFound(t *testing.T) {
	_, err := NewTxMemory().Get(context.Background(), []workentry.EntryID{"nope"})
	assert.True(t, workentry.IsNotFound(err))
}

func TestMemory_FindFilters(t *testing.T) {
	ctx := context.Background()
	m := NewTxMemory()
	require.NoError(t, m.Insert(ctx, []workentry.WorkEntry{
		entry("a", 8, 10, workentry.StateDraft),
		entry("b", 10, 12, workentry.StateConflict),
		entry("c", 13, 14, workentry.StateCancelled),
	}))

	window := workentry.WorkEntry{Start: at(9), Stop: at(13)}.Span()
	got, err := m.Find(ctx, workentry.Query{Window: &window, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, workentry.EntryID("a"), got[0].ID)

	conflicts, err := m.Find(ctx, workentry.Query{States: []workentry.State{workentry.StateConflict}})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, workentry.EntryID("b"), conflicts[0].ID)
}

func TestDirectory_VersionsAndCalendars(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory()
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	d.PutVersion(workentry.ContractVersion{ID: "v1", EmployeeID: "E1", DateStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), DateEnd: &end})
	d.PutVersion(workentry.ContractVersion{ID: "v2", EmployeeID: "E1", DateStart: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)})

	got, err := d.VersionsOverlapping(ctx, "E1", at(8), at(9))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, workentry.VersionID("v1"), got[0].ID)

	// DateEnd is inclusive: the whole of January 31st is covered
	lastDay := time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC)
	got, err = d.VersionsOverlapping(ctx, "E1", lastDay, lastDay.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, d.PutCalendar(calendar.StandardWeek("std", "Std", "UTC", 9*time.Hour, 17*time.Hour)))
	_, err = d.LoadCalendar(ctx, "std")
	assert.NoError(t, err)
	_, err = d.LoadCalendar(ctx, "missing")
	assert.ErrorIs(t, err, calendar.ErrCalendarNotFound)
}
