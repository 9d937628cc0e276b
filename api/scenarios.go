/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	timeline and drive it through the coordinator, so each one shows a
	specific rule of the engine.

AVAILABLE SCENARIOS:

	basic-validate:          one 4h work entry validates cleanly
	overlap-rejected:        two overlapping entries both end in conflict
	touching-accepted:       back-to-back entries both validate
	missing-contract:        an entry in 2030 has no contract and is refused
	ambiguous-contract:      two versions cover June; the create is refused
	leave-outside-schedule:  a Saturday leave ends in conflict

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the base data: calendar "std" (Mon-Fri 09:00-17:00 UTC), entry
    types work/leave/attendance, employee E1 of company C1 with contract
    version v-E1 over 2024
 3. Run the scenario's operations through the coordinator
 4. Report the outcome in one line

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "overlap-rejected"}

USAGE VIA CLI:

	workentryd seed overlap-rejected

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to 'scenarioLoaders'

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: the same operations over HTTP
  - workentry/coordinator_test.go: the same cases as tests
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/workentry"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "basic-validate",
		Name:        "Basic Validate",
		Description: "One 4h work entry on Monday 2024-01-08 validates with duration 4",
		Category:    "validation",
	},
	{
		ID:          "overlap-rejected",
		Name:        "Overlap Rejected",
		Description: "A second entry overlapping the first sends both to conflict",
		Category:    "validation",
	},
	{
		ID:          "touching-accepted",
		Name:        "Touching Accepted",
		Description: "08:00-12:00 and 12:00-16:00 both validate",
		Category:    "validation",
	},
	{
		ID:          "missing-contract",
		Name:        "Missing Contract",
		Description: "An entry in 2030 has no contract version and nothing is stored",
		Category:    "contracts",
	},
	{
		ID:          "ambiguous-contract",
		Name:        "Ambiguous Contract",
		Description: "Two versions cover June 2024; an entry without version is refused",
		Category:    "contracts",
	},
	{
		ID:          "leave-outside-schedule",
		Name:        "Leave Outside Schedule",
		Description: "A Saturday leave on a Mon-Fri calendar ends in conflict",
		Category:    "calendar",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context) (string, error)

var scenarioLoaders = map[string]scenarioLoader{
	"basic-validate":         (*Handler).loadBasicValidateScenario,
	"overlap-rejected":       (*Handler).loadOverlapRejectedScenario,
	"touching-accepted":      (*Handler).loadTouchingAcceptedScenario,
	"missing-contract":       (*Handler).loadMissingContractScenario,
	"ambiguous-contract":     (*Handler).loadAmbiguousContractScenario,
	"leave-outside-schedule": (*Handler).loadLeaveOutsideScheduleScenario,
}

// Scenarios returns the available scenarios.
func Scenarios() []ScenarioDTO {
	return append([]ScenarioDTO(nil), scenarios...)
}

// ErrUnknownScenario is returned by Seed for ids not in the list.
var ErrUnknownScenario = errors.New("unknown scenario")

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	outcome, err := h.Seed(r.Context(), req.ScenarioID)
	if errors.Is(err, ErrUnknownScenario) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", err)
		return
	}
	if err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"outcome":  outcome,
	})
}

// ResetDatabase deletes every row.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Seed resets the store and loads scenario id. It returns a one-line
// outcome.
func (h *Handler) Seed(ctx context.Context, id string) (string, error) {
	load, ok := scenarioLoaders[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return "", fmt.Errorf("reset: %w", err)
	}
	if err := h.seedBase(ctx); err != nil {
		return "", fmt.Errorf("seed base data: %w", err)
	}
	outcome, err := load(h, ctx)
	if err != nil {
		return "", fmt.Errorf("scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()

	h.Log.WithField("scenario", id).Info(outcome)
	return outcome, nil
}

// =============================================================================
// BASE DATA
// =============================================================================

const (
	scenarioEmployee = workentry.EmployeeID("E1")
	scenarioVersion  = workentry.VersionID("v-E1")
)

func (h *Handler) seedBase(ctx context.Context) error {
	cal := calendar.StandardWeek("std", "Standard 40h", "UTC", 9*time.Hour, 17*time.Hour)
	if err := h.Store.SaveCalendar(ctx, cal); err != nil {
		return err
	}
	for _, t := range []workentry.EntryType{
		{ID: "work", Code: "WORK", Name: "Work"},
		{ID: "attendance", Code: "ATT", Name: "Attendance", UsesCalendarDuration: true},
		{ID: "leave", Code: "LEAVE", Name: "Paid leave", IsLeave: true, UsesCalendarDuration: true},
	} {
		if err := h.Store.SaveEntryType(ctx, t); err != nil {
			return err
		}
	}
	if err := h.Store.SaveEmployee(ctx, workentry.Employee{ID: scenarioEmployee, Name: "Alice", CompanyID: "C1"}); err != nil {
		return err
	}
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	return h.Store.SaveVersion(ctx, workentry.ContractVersion{
		ID:         scenarioVersion,
		EmployeeID: scenarioEmployee,
		CompanyID:  "C1",
		CalendarID: cal.ID,
		DateStart:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DateEnd:    &end,
	})
}

func scenarioEntry(id workentry.EntryID, typeID workentry.TypeID, start, stop time.Time) workentry.NewEntry {
	return workentry.NewEntry{
		ID:         id,
		Name:       string(id),
		EmployeeID: scenarioEmployee,
		TypeID:     typeID,
		Start:      start,
		Stop:       stop,
	}
}

func jan(day, hour int) time.Time {
	return time.Date(2024, time.January, day, hour, 0, 0, 0, time.UTC)
}

// createAndValidate creates batch and validates it.
func (h *Handler) createAndValidate(ctx context.Context, batch ...workentry.NewEntry) (workentry.ValidationResult, error) {
	created, err := h.Coordinator.Create(ctx, batch, workentry.DefaultOptions())
	if err != nil {
		return workentry.ValidationResult{}, err
	}
	ids := make([]workentry.EntryID, len(created))
	for i, e := range created {
		ids[i] = e.ID
	}
	return h.Coordinator.Validate(ctx, ids)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBasicValidateScenario(ctx context.Context) (string, error) {
	res, err := h.createAndValidate(ctx, scenarioEntry("basic", "work", jan(8, 8), jan(8, 12)))
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("unexpected conflicts: %v", res.Conflicts)
	}
	got, err := h.Store.Get(ctx, []workentry.EntryID{"basic"})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("entry basic is %s with %s hours", got[0].State, got[0].Duration.String()), nil
}

func (h *Handler) loadOverlapRejectedScenario(ctx context.Context) (string, error) {
	if _, err := h.createAndValidate(ctx, scenarioEntry("morning", "work", jan(8, 8), jan(8, 12))); err != nil {
		return "", err
	}
	res, err := h.createAndValidate(ctx, scenarioEntry("late", "work", jan(8, 11), jan(8, 13)))
	if err != nil {
		return "", err
	}
	if res.OK() {
		return "", errors.New("overlapping entry validated")
	}
	return fmt.Sprintf("validation failed: %d entries in conflict", len(res.Conflicts)), nil
}

func (h *Handler) loadTouchingAcceptedScenario(ctx context.Context) (string, error) {
	res, err := h.createAndValidate(ctx,
		scenarioEntry("am", "work", jan(8, 8), jan(8, 12)),
		scenarioEntry("pm", "work", jan(8, 12), jan(8, 16)),
	)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("unexpected conflicts: %v", res.Conflicts)
	}
	return fmt.Sprintf("%d touching entries validated", len(res.Validated)), nil
}

func (h *Handler) loadMissingContractScenario(ctx context.Context) (string, error) {
	start := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	_, err := h.Coordinator.Create(ctx,
		[]workentry.NewEntry{scenarioEntry("future", "work", start, start.Add(time.Hour))},
		workentry.DefaultOptions())
	if !errors.Is(err, workentry.ErrMissingContract) {
		return "", fmt.Errorf("expected a missing contract, got %v", err)
	}
	return fmt.Sprintf("refused: %v", err), nil
}

func (h *Handler) loadAmbiguousContractScenario(ctx context.Context) (string, error) {
	juneEnd := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	err := h.Store.SaveVersion(ctx, workentry.ContractVersion{
		ID:         "v-E1-june",
		EmployeeID: scenarioEmployee,
		CompanyID:  "C1",
		CalendarID: "std",
		DateStart:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		DateEnd:    &juneEnd,
	})
	if err != nil {
		return "", err
	}

	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	_, err = h.Coordinator.Create(ctx,
		[]workentry.NewEntry{scenarioEntry("june", "work", start, start.Add(4*time.Hour))},
		workentry.DefaultOptions())
	if !errors.Is(err, workentry.ErrAmbiguousContract) {
		return "", fmt.Errorf("expected an ambiguous contract, got %v", err)
	}
	return fmt.Sprintf("refused: %v", err), nil
}

func (h *Handler) loadLeaveOutsideScheduleScenario(ctx context.Context) (string, error) {
	res, err := h.createAndValidate(ctx, scenarioEntry("saturday-leave", "leave", jan(6, 9), jan(6, 13)))
	if err != nil {
		return "", err
	}
	reasons := res.Conflicts["saturday-leave"]
	if len(reasons) == 0 {
		return "", errors.New("saturday leave validated")
	}
	return fmt.Sprintf("saturday-leave in conflict: %v", reasons), nil
}
