/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the workentry domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Work entries:
    WorkEntryDTO, CreateEntriesRequest, NewEntryDTO, PatchEntriesRequest,
    EntryIDsRequest, ValidationResultDTO, ReportDTO, GenerateRequestDTO

  Diagnostics:
    ConflictCountDTO, DanglingEntryDTO, SlotDTO, RecheckRequest

  Reference data:
    EmployeeDTO, EntryTypeDTO, ContractVersionDTO
    (calendars are exchanged as factory.CalendarJSON)

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

TIME FORMATS:
  Instants are RFC 3339 and normalized to UTC. Contract dates are
  YYYY-MM-DD. Durations are decimal hours encoded as strings.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/calendar.go: CalendarJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/workentry-engine/interval"
	"github.com/warp/workentry-engine/workentry"
)

const dateLayout = "2006-01-02"

// =============================================================================
// WORK ENTRIES
// =============================================================================

// WorkEntryDTO represents a work entry in API responses.
type WorkEntryDTO struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	EmployeeID    string          `json:"employee_id"`
	VersionID     string          `json:"version_id"`
	TypeID        string          `json:"type_id"`
	CompanyID     string          `json:"company_id,omitempty"`
	Start         time.Time       `json:"start"`
	Stop          time.Time       `json:"stop"`
	DurationHours decimal.Decimal `json:"duration_hours"`
	State         string          `json:"state"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toWorkEntryDTO(e workentry.WorkEntry) WorkEntryDTO {
	return WorkEntryDTO{
		ID:            string(e.ID),
		Name:          e.Name,
		EmployeeID:    string(e.EmployeeID),
		VersionID:     string(e.VersionID),
		TypeID:        string(e.TypeID),
		CompanyID:     string(e.CompanyID),
		Start:         e.Start.UTC(),
		Stop:          e.Stop.UTC(),
		DurationHours: e.Duration,
		State:         string(e.State),
		Active:        e.Active,
		CreatedAt:     e.CreatedAt.UTC(),
		UpdatedAt:     e.UpdatedAt.UTC(),
	}
}

func toWorkEntryDTOs(entries []workentry.WorkEntry) []WorkEntryDTO {
	dtos := make([]WorkEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toWorkEntryDTO(e)
	}
	return dtos
}

// NewEntryDTO is one entry of a create request. Stop may be omitted when
// DurationHours is given; the stop is then planned on the calendar.
type NewEntryDTO struct {
	ID            string           `json:"id,omitempty"`
	Name          string           `json:"name,omitempty"`
	EmployeeID    string           `json:"employee_id"`
	VersionID     string           `json:"version_id,omitempty"`
	TypeID        string           `json:"type_id"`
	CompanyID     string           `json:"company_id,omitempty"`
	Start         time.Time        `json:"start"`
	Stop          *time.Time       `json:"stop,omitempty"`
	DurationHours *decimal.Decimal `json:"duration_hours,omitempty"`
}

func (n NewEntryDTO) toNewEntry() workentry.NewEntry {
	ne := workentry.NewEntry{
		ID:         workentry.EntryID(n.ID),
		Name:       n.Name,
		EmployeeID: workentry.EmployeeID(n.EmployeeID),
		VersionID:  workentry.VersionID(n.VersionID),
		TypeID:     workentry.TypeID(n.TypeID),
		CompanyID:  workentry.CompanyID(n.CompanyID),
		Start:      n.Start,
		Duration:   n.DurationHours,
	}
	if n.Stop != nil {
		ne.Stop = *n.Stop
	}
	return ne
}

// OptionsDTO overrides the default write options.
type OptionsDTO struct {
	SkipCheck        *bool      `json:"skip_check,omitempty"`
	PropagateCompany *bool      `json:"propagate_company,omitempty"`
	ErrorWindowStart *time.Time `json:"error_window_start,omitempty"`
	ErrorWindowStop  *time.Time `json:"error_window_stop,omitempty"`
}

func (o *OptionsDTO) options() workentry.Options {
	opts := workentry.DefaultOptions()
	if o == nil {
		return opts
	}
	if o.SkipCheck != nil {
		opts.SkipCheck = *o.SkipCheck
	}
	if o.PropagateCompany != nil {
		opts.PropagateCompany = *o.PropagateCompany
	}
	if o.ErrorWindowStart != nil && o.ErrorWindowStop != nil {
		opts = opts.WithErrorWindow(*o.ErrorWindowStart, *o.ErrorWindowStop)
	}
	return opts
}

// CreateEntriesRequest creates a batch of entries atomically.
type CreateEntriesRequest struct {
	Entries []NewEntryDTO `json:"entries"`
	Options *OptionsDTO   `json:"options,omitempty"`
}

// PatchEntriesRequest applies the same changes to several entries.
type PatchEntriesRequest struct {
	IDs        []string    `json:"ids"`
	Name       *string     `json:"name,omitempty"`
	EmployeeID *string     `json:"employee_id,omitempty"`
	VersionID  *string     `json:"version_id,omitempty"`
	TypeID     *string     `json:"type_id,omitempty"`
	CompanyID  *string     `json:"company_id,omitempty"`
	Start      *time.Time  `json:"start,omitempty"`
	Stop       *time.Time  `json:"stop,omitempty"`
	Options    *OptionsDTO `json:"options,omitempty"`
}

func (p PatchEntriesRequest) patch() workentry.Patch {
	patch := workentry.Patch{Name: p.Name, Start: p.Start, Stop: p.Stop}
	if p.EmployeeID != nil {
		v := workentry.EmployeeID(*p.EmployeeID)
		patch.EmployeeID = &v
	}
	if p.VersionID != nil {
		v := workentry.VersionID(*p.VersionID)
		patch.VersionID = &v
	}
	if p.TypeID != nil {
		v := workentry.TypeID(*p.TypeID)
		patch.TypeID = &v
	}
	if p.CompanyID != nil {
		v := workentry.CompanyID(*p.CompanyID)
		patch.CompanyID = &v
	}
	return patch
}

// EntryIDsRequest names the entries of a validate, cancel, reactivate or
// delete call.
type EntryIDsRequest struct {
	IDs     []string    `json:"ids"`
	Options *OptionsDTO `json:"options,omitempty"`
}

func entryIDs(ids []string) []workentry.EntryID {
	out := make([]workentry.EntryID, len(ids))
	for i, id := range ids {
		out[i] = workentry.EntryID(id)
	}
	return out
}

func employeeIDs(ids []string) []workentry.EmployeeID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]workentry.EmployeeID, len(ids))
	for i, id := range ids {
		out[i] = workentry.EmployeeID(id)
	}
	return out
}

// ValidationResultDTO is the outcome of a validate call. OK is false when
// some entries ended in conflict; the call itself still succeeded.
type ValidationResultDTO struct {
	OK        bool                `json:"ok"`
	Validated []string            `json:"validated"`
	Skipped   []string            `json:"skipped"`
	Conflicts map[string][]string `json:"conflicts"`
	Entries   []WorkEntryDTO      `json:"entries"`
}

func toValidationResultDTO(res workentry.ValidationResult, entries []workentry.WorkEntry) ValidationResultDTO {
	return ValidationResultDTO{
		OK:        res.OK(),
		Validated: strs(res.Validated),
		Skipped:   strs(res.Skipped),
		Conflicts: reasonsDTO(res.Conflicts),
		Entries:   toWorkEntryDTOs(entries),
	}
}

// ReportDTO is the outcome of a conflict re-check.
type ReportDTO struct {
	Checked int                 `json:"checked"`
	Flagged map[string][]string `json:"flagged"`
	Cleared []string            `json:"cleared"`
}

func toReportDTO(r workentry.Report) ReportDTO {
	return ReportDTO{
		Checked: r.Checked,
		Flagged: reasonsDTO(r.Flagged),
		Cleared: strs(r.Cleared),
	}
}

func reasonsDTO(in map[workentry.EntryID][]workentry.Reason) map[string][]string {
	out := make(map[string][]string, len(in))
	for id, reasons := range in {
		out[string(id)] = strs(reasons)
	}
	return out
}

func strs[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// GenerateRequestDTO asks for draft entries over the employees' calendars.
type GenerateRequestDTO struct {
	EmployeeIDs []string    `json:"employee_ids"`
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	TypeID      string      `json:"type_id"`
	Options     *OptionsDTO `json:"options,omitempty"`
}

// RecheckRequest re-runs conflict detection over a window.
type RecheckRequest struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	EmployeeIDs []string  `json:"employee_ids,omitempty"`
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// ConflictCountDTO is the number of conflicting entries in a window.
type ConflictCountDTO struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Conflicts int       `json:"conflicts"`
}

// DanglingEntryDTO is an entry whose contract version no longer covers it.
type DanglingEntryDTO struct {
	Entry  WorkEntryDTO `json:"entry"`
	Reason string       `json:"reason"`
}

func toDanglingDTOs(in []workentry.DanglingEntry) []DanglingEntryDTO {
	out := make([]DanglingEntryDTO, len(in))
	for i, d := range in {
		out[i] = DanglingEntryDTO{Entry: toWorkEntryDTO(d.Entry), Reason: string(d.Reason)}
	}
	return out
}

// SlotDTO is a half-open time range.
type SlotDTO struct {
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
	Hours float64   `json:"hours"`
}

func toSlotDTOs(spans []interval.Span) []SlotDTO {
	out := make([]SlotDTO, len(spans))
	for i, s := range spans {
		out[i] = SlotDTO{Start: s.Start.UTC(), Stop: s.Stop.UTC(), Hours: s.Duration().Hours()}
	}
	return out
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"company_id"`
}

// EntryTypeDTO represents an entry type.
type EntryTypeDTO struct {
	ID                   string `json:"id"`
	Code                 string `json:"code"`
	Name                 string `json:"name"`
	IsLeave              bool   `json:"is_leave"`
	UsesCalendarDuration bool   `json:"uses_calendar_duration"`
}

// ContractVersionDTO represents a contract version. DateEnd is inclusive and
// absent for open-ended versions.
type ContractVersionDTO struct {
	ID         string  `json:"id"`
	EmployeeID string  `json:"employee_id"`
	CompanyID  string  `json:"company_id,omitempty"`
	CalendarID string  `json:"calendar_id,omitempty"`
	DateStart  string  `json:"date_start"`
	DateEnd    *string `json:"date_end,omitempty"`
}

func toContractVersionDTO(v workentry.ContractVersion) ContractVersionDTO {
	dto := ContractVersionDTO{
		ID:         string(v.ID),
		EmployeeID: string(v.EmployeeID),
		CompanyID:  string(v.CompanyID),
		CalendarID: string(v.CalendarID),
		DateStart:  v.DateStart.Format(dateLayout),
	}
	if v.DateEnd != nil {
		dto.DateEnd = strPtr(v.DateEnd.Format(dateLayout))
	}
	return dto
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
