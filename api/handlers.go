/*
handlers.go - HTTP API handlers for the work-entry engine

PURPOSE:
  Exposes the work-entry coordinator via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to workentry.

ENDPOINTS:
  Work entries:
    GET    /api/entries                 List entries (filters in query)
    POST   /api/entries                 Create a batch of entries
    PATCH  /api/entries                 Update a batch of entries
    GET    /api/entries/{id}            Get one entry
    DELETE /api/entries/{id}            Delete one non-validated entry
    POST   /api/entries/validate        Validate entries
    POST   /api/entries/cancel          Cancel entries
    POST   /api/entries/reactivate      Reactivate cancelled entries
    POST   /api/entries/delete          Delete a batch of entries
    POST   /api/entries/generate        Generate drafts from calendars

  Diagnostics:
    POST   /api/conflicts/recheck                Re-run conflict detection
    GET    /api/diagnostics/conflicts            Count conflicts in a window
    GET    /api/diagnostics/dangling             Entries their contract lost
    GET    /api/employees/{id}/undefined-slots   Attendance not covered

  Reference data (reference.go), scenarios (scenarios.go), sweeper runs
  (scheduler.go).

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: persistent backend (SQLite or PostgreSQL)
  - Coordinator: every write to work entries goes through it
  - CalendarFactory: JSON to calendar conversion

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed input
  - 404: Resource not found
  - 409: Validated overlap, delete of a validated entry
  - 422: Contract binding, interval and state-transition errors
  - 503: Transient storage failure, retry later
  - 500: Internal errors

  A validation that ends with entries in conflict is not an error: the
  call returns 200 with ok=false.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - workentry/coordinator.go: the operations behind these handlers
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/factory"
	"github.com/warp/workentry-engine/interval"
	"github.com/warp/workentry-engine/store"
	"github.com/warp/workentry-engine/workentry"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store           store.Backend
	Coordinator     *workentry.Coordinator
	CalendarFactory *factory.CalendarFactory
	Log             logrus.FieldLogger

	// Sweeper is optional; the sweep endpoints answer 404 without it.
	Sweeper *ConflictSweeper

	clock func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over backend. The coordinator reads calendars
// from the same backend.
func NewHandler(backend store.Backend, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	clock := func() time.Time { return time.Now().UTC() }
	return &Handler{
		Store: backend,
		Coordinator: workentry.NewCoordinator(workentry.Dependencies{
			Store:    backend,
			Registry: backend,
			Calendar: calendar.NewRegistry(backend),
			Catalog:  backend,
			Logger:   log,
			Clock:    clock,
		}),
		CalendarFactory: factory.NewCalendarFactory(),
		Log:             log,
		clock:           clock,
	}
}

// =============================================================================
// WORK ENTRY HANDLERS
// =============================================================================

// ListEntries returns entries matching the query filters:
// employee_id and state (repeatable), from/to, active_only.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := workentry.Query{
		EmployeeIDs: employeeIDs(r.URL.Query()["employee_id"]),
		ActiveOnly:  r.URL.Query().Get("active_only") == "true",
	}
	for _, s := range r.URL.Query()["state"] {
		st, ok := workentry.ParseState(s)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown state %q", s), nil)
			return
		}
		q.States = append(q.States, st)
	}
	if r.URL.Query().Has("from") || r.URL.Query().Has("to") {
		window, err := parseWindow(r, h.clock())
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid window", err)
			return
		}
		q.Window = &window
	}

	entries, err := h.Store.Find(r.Context(), q)
	if err != nil {
		h.fail(w, r, "Failed to list work entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkEntryDTOs(entries))
}

// GetEntry returns a single entry.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id := workentry.EntryID(chi.URLParam(r, "id"))

	entries, err := h.Store.Get(r.Context(), []workentry.EntryID{id})
	if err != nil {
		h.fail(w, r, "Failed to get work entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkEntryDTO(entries[0]))
}

// CreateEntries creates a batch of entries. The batch is atomic: one bad
// entry aborts all of them.
func (h *Handler) CreateEntries(w http.ResponseWriter, r *http.Request) {
	var req CreateEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "entries is empty", nil)
		return
	}

	batch := make([]workentry.NewEntry, len(req.Entries))
	for i, e := range req.Entries {
		if e.Stop == nil && e.DurationHours == nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("entry %d: stop or duration_hours is required", i), nil)
			return
		}
		batch[i] = e.toNewEntry()
	}

	created, err := h.Coordinator.Create(r.Context(), batch, req.Options.options())
	if err != nil {
		h.fail(w, r, "Failed to create work entries", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkEntryDTOs(created))
}

// UpdateEntries applies one patch to several entries.
func (h *Handler) UpdateEntries(w http.ResponseWriter, r *http.Request) {
	var req PatchEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is empty", nil)
		return
	}

	updated, err := h.Coordinator.Update(r.Context(), entryIDs(req.IDs), req.patch(), req.Options.options())
	if err != nil {
		h.fail(w, r, "Failed to update work entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkEntryDTOs(updated))
}

// ValidateEntries moves entries to validated, or to conflict when they
// overlap another entry or a leave falls outside the schedule.
func (h *Handler) ValidateEntries(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	ids := entryIDs(req.IDs)

	res, err := h.Coordinator.Validate(ctx, ids)
	if err != nil {
		h.fail(w, r, "Failed to validate work entries", err)
		return
	}
	entries, err := h.Store.Get(ctx, ids)
	if err != nil {
		h.fail(w, r, "Failed to reload work entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationResultDTO(res, entries))
}

// CancelEntries cancels entries and frees their slots.
func (h *Handler) CancelEntries(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", h.Coordinator.Cancel)
}

// ReactivateEntries brings cancelled entries back as drafts.
func (h *Handler) ReactivateEntries(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reactivate", h.Coordinator.Reactivate)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, verb string,
	op func(context.Context, []workentry.EntryID, workentry.Options) ([]workentry.WorkEntry, error)) {
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	entries, err := op(r.Context(), entryIDs(req.IDs), req.Options.options())
	if err != nil {
		h.fail(w, r, fmt.Sprintf("Failed to %s work entries", verb), err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkEntryDTOs(entries))
}

// DeleteEntries deletes a batch of entries. Validated entries refuse.
func (h *Handler) DeleteEntries(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	if err := h.Coordinator.Delete(r.Context(), entryIDs(req.IDs), req.Options.options()); err != nil {
		h.fail(w, r, "Failed to delete work entries", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteEntry deletes one entry.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := workentry.EntryID(chi.URLParam(r, "id"))
	if err := h.Coordinator.Delete(r.Context(), []workentry.EntryID{id}, workentry.DefaultOptions()); err != nil {
		h.fail(w, r, "Failed to delete work entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateEntries creates drafts for the free attendance of employees.
func (h *Handler) GenerateEntries(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.EmployeeIDs) == 0 || req.TypeID == "" {
		writeError(w, http.StatusBadRequest, "employee_ids and type_id are required", nil)
		return
	}

	created, err := h.Coordinator.Generate(r.Context(), workentry.GenerateRequest{
		Employees: employeeIDs(req.EmployeeIDs),
		From:      req.From,
		To:        req.To,
		TypeID:    workentry.TypeID(req.TypeID),
	}, req.Options.options())
	if err != nil {
		h.fail(w, r, "Failed to generate work entries", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkEntryDTOs(created))
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// RecheckConflicts re-runs conflict detection over a window.
func (h *Handler) RecheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req RecheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !req.To.After(req.From) {
		writeError(w, http.StatusBadRequest, "to must be after from", nil)
		return
	}

	report, err := h.Coordinator.Recheck(r.Context(), interval.NewSpan(req.From, req.To), employeeIDs(req.EmployeeIDs))
	if err != nil {
		h.fail(w, r, "Failed to recheck conflicts", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// CountConflicts returns how many entries are in conflict in a window.
// GET /api/diagnostics/conflicts?from=2024-01-01&to=2024-02-01
func (h *Handler) CountConflicts(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid window", err)
		return
	}

	n, err := h.Coordinator.CountConflicts(r.Context(), window, employeeIDs(r.URL.Query()["employee_id"]))
	if err != nil {
		h.fail(w, r, "Failed to count conflicts", err)
		return
	}
	writeJSON(w, http.StatusOK, ConflictCountDTO{From: window.Start, To: window.Stop, Conflicts: n})
}

// ListDangling returns active entries whose contract version was deleted or
// no longer covers them.
func (h *Handler) ListDangling(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid window", err)
		return
	}

	dangling, err := h.Coordinator.DanglingEntries(r.Context(), window)
	if err != nil {
		h.fail(w, r, "Failed to list dangling entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toDanglingDTOs(dangling))
}

// UndefinedSlots returns the attendance of an employee no entry covers.
func (h *Handler) UndefinedSlots(w http.ResponseWriter, r *http.Request) {
	employee := workentry.EmployeeID(chi.URLParam(r, "id"))
	window, err := parseWindow(r, h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid window", err)
		return
	}

	slots, err := h.Coordinator.UndefinedSlots(r.Context(), employee, window.Start, window.Stop)
	if err != nil {
		h.fail(w, r, "Failed to compute undefined slots", err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotDTOs(slots))
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeIDs(w http.ResponseWriter, r *http.Request) (EntryIDsRequest, bool) {
	var req EntryIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, false
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is empty", nil)
		return req, false
	}
	return req, true
}

// parseWindow reads from/to as RFC 3339 instants or YYYY-MM-DD dates. A
// missing window defaults to the calendar month containing now.
func parseWindow(r *http.Request, now time.Time) (interval.Span, error) {
	fromStr, toStr := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if fromStr == "" && toStr == "" {
		return currentMonth(now), nil
	}
	if fromStr == "" || toStr == "" {
		return interval.Span{}, errors.New("from and to go together")
	}
	from, err := parseInstant(fromStr)
	if err != nil {
		return interval.Span{}, fmt.Errorf("from: %w", err)
	}
	to, err := parseInstant(toStr)
	if err != nil {
		return interval.Span{}, fmt.Errorf("to: %w", err)
	}
	if !to.After(from) {
		return interval.Span{}, errors.New("to must be after from")
	}
	return interval.NewSpan(from, to), nil
}

func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(dateLayout, s)
}

// currentMonth returns [first of month, first of next month) in UTC.
func currentMonth(now time.Time) interval.Span {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return interval.NewSpan(start, start.AddDate(0, 1, 0))
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case workentry.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, workentry.ErrValidatedOverlap), errors.Is(err, workentry.ErrDeleteValidated):
		return http.StatusConflict
	case workentry.IsClientError(err),
		errors.Is(err, calendar.ErrCalendarNotFound),
		errors.Is(err, calendar.ErrInvalidCalendar),
		errors.Is(err, calendar.ErrPlanExhausted):
		return http.StatusUnprocessableEntity
	case workentry.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err with the status its kind maps to. Server-side failures are
// logged with the request id.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	switch {
	case status >= http.StatusInternalServerError:
		h.Log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"status":     status,
		}).WithError(err).Error(message)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
	default:
		h.Log.WithField("request_id", middleware.GetReqID(r.Context())).WithError(err).Debug(message)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func strPtr(s string) *string {
	return &s
}
