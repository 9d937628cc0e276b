/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Each scenario must load on a fresh store and leave the timeline it
	describes. They double as end-to-end tests of the coordinator on SQLite.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workentry-engine/workentry"
)

func TestScenarios_AllLoad(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			// GIVEN: A fresh store
			h := setupTestHandler(t)

			// WHEN: Loading the scenario
			outcome, err := h.Seed(context.Background(), s.ID)

			// THEN: It loads and reports its outcome
			require.NoError(t, err)
			assert.NotEmpty(t, outcome)
			assert.Equal(t, s.ID, h.currentScenario)
		})
	}
	assert.Len(t, scenarioLoaders, len(scenarios))
}

func TestScenario_BasicValidate(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	_, err := h.Seed(ctx, "basic-validate")
	require.NoError(t, err)

	got, err := h.Store.Get(ctx, []workentry.EntryID{"basic"})
	require.NoError(t, err)
	assert.Equal(t, workentry.StateValidated, got[0].State)
	assert.True(t, got[0].Duration.Equal(decimal.NewFromInt(4)))
}

func TestScenario_OverlapRejected(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	_, err := h.Seed(ctx, "overlap-rejected")
	require.NoError(t, err)

	// THEN: Both entries end in conflict and no validated overlap exists
	got, err := h.Store.Get(ctx, []workentry.EntryID{"morning", "late"})
	require.NoError(t, err)
	for _, e := range got {
		assert.Equal(t, workentry.StateConflict, e.State, e.ID)
	}
}

func TestScenario_MissingContractPersistsNothing(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	_, err := h.Seed(ctx, "missing-contract")
	require.NoError(t, err)

	all, err := h.Store.Find(ctx, workentry.Query{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestScenario_LeaveOutsideSchedule(t *testing.T) {
	h := setupTestHandler(t)
	ctx := context.Background()
	_, err := h.Seed(ctx, "leave-outside-schedule")
	require.NoError(t, err)

	got, err := h.Store.Get(ctx, []workentry.EntryID{"saturday-leave"})
	require.NoError(t, err)
	assert.Equal(t, workentry.StateConflict, got[0].State)
}

func TestScenario_ReloadResets(t *testing.T) {
	// GIVEN: One scenario loaded
	h := setupTestHandler(t)
	ctx := context.Background()
	_, err := h.Seed(ctx, "touching-accepted")
	require.NoError(t, err)

	// WHEN: Loading another
	_, err = h.Seed(ctx, "basic-validate")
	require.NoError(t, err)

	// THEN: Only the second one's entries remain
	all, err := h.Store.Find(ctx, workentry.Query{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, workentry.EntryID("basic"), all[0].ID)
}

func TestScenarios_HTTP(t *testing.T) {
	h := setupTestHandler(t)
	router := NewRouter(h)

	rec := do(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "ambiguous-contract"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "loaded", decodeBody[map[string]string](t, rec)["status"])

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ambiguous-contract", decodeBody[ScenarioDTO](t, rec).ID)

	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/employees", nil)
	assert.Empty(t, decodeBody[[]EmployeeDTO](t, rec))
}
