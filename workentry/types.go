/*
Package workentry maintains a consistent per-employee timeline of work entries.

PURPOSE:
  A work entry is a half-open time interval [Start, Stop) for one employee,
  tagged with a type (ordinary work, a leave category, ...). This package
  keeps the timeline consistent under concurrent writes:
  1. No two validated entries of the same employee overlap
  2. Every entry is bound to exactly one contract version covering it
  3. Leave entries lying wholly outside the working calendar are flagged
  4. Every entry carries a duration derived from the calendar or the clock

KEY CONCEPTS IN THIS FILE (types.go):
  - WorkEntry: the interval row and its lifecycle state
  - EntryType: ordinary work vs leave, calendar-driven vs clock duration
  - ContractVersion: a dated employment period bound to a calendar
  - Employee: the owner of entries, carries the default company

LIFECYCLE:
                    validate (clean)
     ┌───────┐  ─────────────────────▶  ┌───────────┐
     │ draft │                          │ validated │
     └───────┘  ◀──┐                    └───────────┘
       │   ▲       │ neighbors change         │
       │   │       │                          │ cancel
       │   │   ┌──────────┐                   ▼
       │   │   │ conflict │ ◀── validate   ┌───────────┐
       │   │   └──────────┘    (dirty)     │ cancelled │
       │   └──── reactivate ───────────────└───────────┘
       └────────────── cancel ──────────────────▲

  Cancelled entries are logically deleted (Active = false) and excluded
  from every check. Validated entries can never be physically deleted.

DESIGN PRINCIPLES:
  1. Storage enforces the validated no-overlap rule; the core never relies
     on in-process locks for it
  2. Durations use decimal.Decimal hours
  3. No mutable state lives in the core between calls

SEE ALSO:
  - coordinator.go: the write operations
  - conflict.go: conflict detection
  - duration.go: duration resolution
  - store.go: persistence and collaborator interfaces
*/
package workentry

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/interval"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type EmployeeID string
type VersionID string
type TypeID string
type CompanyID string

// CalendarID is the calendar package's identifier.
type CalendarID = calendar.ID

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle state of a work entry.
type State string

const (
	StateDraft     State = "draft"
	StateValidated State = "validated"
	StateConflict  State = "conflict"
	StateCancelled State = "cancelled"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateDraft, StateValidated, StateConflict, StateCancelled:
		return true
	}
	return false
}

// ParseState converts a string to a State.
func ParseState(s string) (State, bool) {
	st := State(s)
	return st, st.Valid()
}

// =============================================================================
// WORK ENTRY
// =============================================================================

// WorkEntry is one interval of an employee's timeline.
type WorkEntry struct {
	ID         EntryID
	Name       string
	EmployeeID EmployeeID
	VersionID  VersionID
	TypeID     TypeID
	CompanyID  CompanyID

	Start time.Time // inclusive, UTC
	Stop  time.Time // exclusive, UTC

	// Duration is in hours, derived from the type and calendar.
	Duration decimal.Decimal

	State  State
	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Span returns the entry's interval.
func (e WorkEntry) Span() interval.Span { return interval.NewSpan(e.Start, e.Stop) }

// Overlaps reports whether both entries belong to the same employee and
// their open intervals intersect. Touching entries do not overlap.
func (e WorkEntry) Overlaps(o WorkEntry) bool {
	return e.EmployeeID == o.EmployeeID && e.Start.Before(o.Stop) && o.Start.Before(e.Stop)
}

// CountsForOverlap reports whether storage must keep e free of overlaps.
func (e WorkEntry) CountsForOverlap() bool {
	return e.Active && e.State == StateValidated
}

// =============================================================================
// ENTRY TYPE
// =============================================================================

// EntryType tags an entry. The two flags drive conflict and duration rules.
type EntryType struct {
	ID   TypeID
	Code string
	Name string

	// IsLeave entries must overlap the employee's attendance.
	IsLeave bool

	// UsesCalendarDuration entries count attendance hours, not clock hours.
	UsesCalendarDuration bool
}

// =============================================================================
// CONTRACT VERSION
// =============================================================================

// ContractVersion is a dated employment period. DateEnd is inclusive.
type ContractVersion struct {
	ID         VersionID
	EmployeeID EmployeeID
	CompanyID  CompanyID
	CalendarID CalendarID // empty when the version has no calendar
	DateStart  time.Time
	DateEnd    *time.Time // nil for open-ended
}

// ActiveFrom returns DateStart at 00:00 UTC.
func (v ContractVersion) ActiveFrom() time.Time {
	return midnight(v.DateStart)
}

// ActiveUntil returns the day after DateEnd at 00:00 UTC. ok is false for
// open-ended versions.
func (v ContractVersion) ActiveUntil() (until time.Time, ok bool) {
	if v.DateEnd == nil {
		return time.Time{}, false
	}
	return midnight(*v.DateEnd).AddDate(0, 0, 1), true
}

// Covers reports whether [start, stop) lies fully inside the version's
// active interval.
func (v ContractVersion) Covers(start, stop time.Time) bool {
	if start.Before(v.ActiveFrom()) {
		return false
	}
	if until, ok := v.ActiveUntil(); ok && stop.After(until) {
		return false
	}
	return true
}

// Intersects reports whether the version's active interval meets [from, to).
func (v ContractVersion) Intersects(from, to time.Time) bool {
	if !to.After(v.ActiveFrom()) {
		return false
	}
	if until, ok := v.ActiveUntil(); ok && !from.Before(until) {
		return false
	}
	return true
}

// Clip restricts [from, to) to the version's active interval.
func (v ContractVersion) Clip(from, to time.Time) interval.Span {
	if af := v.ActiveFrom(); from.Before(af) {
		from = af
	}
	if until, ok := v.ActiveUntil(); ok && to.After(until) {
		to = until
	}
	return interval.NewSpan(from, to)
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// EMPLOYEE
// =============================================================================

type Employee struct {
	ID        EmployeeID
	Name      string
	CompanyID CompanyID
}
