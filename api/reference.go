package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/factory"
	"github.com/warp/workentry-engine/workentry"
)

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = EmployeeDTO{ID: string(e.ID), Name: e.Name, CompanyID: string(e.CompanyID)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := workentry.EmployeeID(chi.URLParam(r, "id"))

	found, err := h.Store.Employees(r.Context(), []workentry.EmployeeID{id})
	if err != nil {
		h.fail(w, r, "Failed to get employee", err)
		return
	}
	emp, ok := found[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, EmployeeDTO{ID: string(emp.ID), Name: emp.Name, CompanyID: string(emp.CompanyID)})
}

// CreateEmployee creates or replaces an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	emp := workentry.Employee{
		ID:        workentry.EmployeeID(req.ID),
		Name:      req.Name,
		CompanyID: workentry.CompanyID(req.CompanyID),
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.fail(w, r, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// ENTRY TYPE HANDLERS
// =============================================================================

// ListEntryTypes returns all entry types.
func (h *Handler) ListEntryTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Store.ListEntryTypes(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list entry types", err)
		return
	}

	dtos := make([]EntryTypeDTO, len(types))
	for i, t := range types {
		dtos[i] = EntryTypeDTO{
			ID:                   string(t.ID),
			Code:                 t.Code,
			Name:                 t.Name,
			IsLeave:              t.IsLeave,
			UsesCalendarDuration: t.UsesCalendarDuration,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEntryType creates or replaces an entry type.
func (h *Handler) CreateEntryType(w http.ResponseWriter, r *http.Request) {
	var req EntryTypeDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	if req.Code == "" {
		req.Code = req.ID
	}

	err := h.Store.SaveEntryType(r.Context(), workentry.EntryType{
		ID:                   workentry.TypeID(req.ID),
		Code:                 req.Code,
		Name:                 req.Name,
		IsLeave:              req.IsLeave,
		UsesCalendarDuration: req.UsesCalendarDuration,
	})
	if err != nil {
		h.fail(w, r, "Failed to create entry type", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// CONTRACT VERSION HANDLERS
// =============================================================================

// ListContracts returns contract versions, optionally of one employee.
// GET /api/contracts?employee_id=E1
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	employee := workentry.EmployeeID(r.URL.Query().Get("employee_id"))

	versions, err := h.Store.ListVersions(r.Context(), employee)
	if err != nil {
		h.fail(w, r, "Failed to list contract versions", err)
		return
	}

	dtos := make([]ContractVersionDTO, len(versions))
	for i, v := range versions {
		dtos[i] = toContractVersionDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContract creates or revises a contract version. The company
// defaults to the employee's. Revising a version never touches entries
// bound to it; see /api/diagnostics/dangling.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req ContractVersionDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.EmployeeID == "" {
		writeError(w, http.StatusBadRequest, "id and employee_id are required", nil)
		return
	}

	v, err := req.toVersion()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid contract dates (use YYYY-MM-DD)", err)
		return
	}

	ctx := r.Context()
	employees, err := h.Store.Employees(ctx, []workentry.EmployeeID{v.EmployeeID})
	if err != nil {
		h.fail(w, r, "Failed to load employee", err)
		return
	}
	emp, ok := employees[v.EmployeeID]
	if !ok {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}
	if v.CompanyID == "" {
		v.CompanyID = emp.CompanyID
	}
	if v.CalendarID != "" {
		if _, err := h.Store.LoadCalendar(ctx, v.CalendarID); err != nil {
			h.fail(w, r, "Unknown calendar", err)
			return
		}
	}

	if err := h.Store.SaveVersion(ctx, v); err != nil {
		h.fail(w, r, "Failed to save contract version", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractVersionDTO(v))
}

// DeleteContract removes a contract version. Entries bound to it become
// dangling.
func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	id := workentry.VersionID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteVersion(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete contract version", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d ContractVersionDTO) toVersion() (workentry.ContractVersion, error) {
	start, err := time.Parse(dateLayout, d.DateStart)
	if err != nil {
		return workentry.ContractVersion{}, fmt.Errorf("date_start: %w", err)
	}
	v := workentry.ContractVersion{
		ID:         workentry.VersionID(d.ID),
		EmployeeID: workentry.EmployeeID(d.EmployeeID),
		CompanyID:  workentry.CompanyID(d.CompanyID),
		CalendarID: workentry.CalendarID(d.CalendarID),
		DateStart:  start,
	}
	if d.DateEnd != nil {
		end, err := time.Parse(dateLayout, *d.DateEnd)
		if err != nil {
			return workentry.ContractVersion{}, fmt.Errorf("date_end: %w", err)
		}
		if end.Before(start) {
			return workentry.ContractVersion{}, errors.New("date_end is before date_start")
		}
		v.DateEnd = &end
	}
	return v, nil
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ListCalendars returns all calendars as JSON definitions.
func (h *Handler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	cals, err := h.Store.ListCalendars(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list calendars", err)
		return
	}

	dtos := make([]factory.CalendarJSON, len(cals))
	for i, c := range cals {
		dtos[i] = h.CalendarFactory.ToJSON(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCalendar returns one calendar.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	id := calendar.ID(chi.URLParam(r, "id"))

	cal, err := h.Store.LoadCalendar(r.Context(), id)
	if errors.Is(err, calendar.ErrCalendarNotFound) {
		writeError(w, http.StatusNotFound, "Calendar not found", err)
		return
	}
	if err != nil {
		h.fail(w, r, "Failed to get calendar", err)
		return
	}
	writeJSON(w, http.StatusOK, h.CalendarFactory.ToJSON(cal))
}

// CreateCalendar stores a calendar definition. Saving an existing id
// publishes a new revision; conflicts are not re-evaluated until the next
// validation or recheck.
func (h *Handler) CreateCalendar(w http.ResponseWriter, r *http.Request) {
	var req factory.CalendarJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cal, err := h.CalendarFactory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid calendar", err)
		return
	}
	if err := h.Store.SaveCalendar(r.Context(), cal); err != nil {
		h.fail(w, r, "Failed to save calendar", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.CalendarFactory.ToJSON(cal))
}
