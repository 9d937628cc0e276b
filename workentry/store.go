/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the work-entry core and the outside world.
  The core owns no data: entries live in a Store, while contract versions,
  calendars, employees and entry types are read-only facts supplied by
  collaborators.

KEY INTERFACES:
  Store:            entry reads and writes (one transaction's view)
  TxStore:          Store plus WithTx (atomic batches)
  ContractRegistry: contract versions by employee and interval
  WorkingCalendar:  attendance intervals and planned end times
  Catalog:          employees and entry types

STORAGE CONTRACT:
  Implementations must enforce, independently of the core:
  - stop is never null and stop > start
  - no two active validated entries of one employee overlap in their open
    interiors (reported as ErrValidatedOverlap)
  - a failed WithTx leaves no trace
  They should index (date_start, date_stop) and
  (version_id, date_start, date_stop) for draft/validated rows.

IMPLEMENTATIONS:
  - workentry/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite, trigger-enforced overlap rule
  - store/postgres/postgres.go: PostgreSQL, exclusion constraint

SEE ALSO:
  - coordinator.go: the only writer
*/
package workentry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/workentry-engine/interval"
)

// =============================================================================
// QUERY
// =============================================================================

// Query selects entries. Zero fields don't filter.
type Query struct {
	// Window keeps entries whose open interval meets it:
	// start < Window.Stop AND stop > Window.Start.
	Window *interval.Span

	IDs         []EntryID
	EmployeeIDs []EmployeeID
	VersionIDs  []VersionID
	States      []State

	// ActiveOnly drops cancelled entries.
	ActiveOnly bool
}

// Matches reports whether e passes q. Stores that filter in memory use it;
// SQL stores translate the same predicate.
func (q Query) Matches(e WorkEntry) bool {
	if q.Window != nil && !(e.Start.Before(q.Window.Stop) && e.Stop.After(q.Window.Start)) {
		return false
	}
	if q.ActiveOnly && !e.Active {
		return false
	}
	return contains(q.IDs, e.ID) &&
		contains(q.EmployeeIDs, e.EmployeeID) &&
		contains(q.VersionIDs, e.VersionID) &&
		contains(q.States, e.State)
}

// contains is true for an empty filter.
func contains[T comparable](filter []T, v T) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == v {
			return true
		}
	}
	return false
}

// =============================================================================
// STORE - Interface for work-entry persistence
// =============================================================================

// Store reads and writes work entries. Results of Get and Find are ordered by
// employee, start, stop, then id.
type Store interface {
	// Get returns the entries with the given ids. Any missing id yields an
	// error wrapping ErrNotFound.
	Get(ctx context.Context, ids []EntryID) ([]WorkEntry, error)

	// Find returns the entries matching q.
	Find(ctx context.Context, q Query) ([]WorkEntry, error)

	// Insert persists new entries. Ids must be set.
	Insert(ctx context.Context, entries []WorkEntry) error

	// Update replaces the stored rows with the same ids.
	Update(ctx context.Context, entries []WorkEntry) error

	// SetState moves entries to state, keeping Active in line with it.
	SetState(ctx context.Context, ids []EntryID, state State) error

	// Delete removes entries physically.
	Delete(ctx context.Context, ids []EntryID) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// =============================================================================
// COLLABORATORS - Read-only facts
// =============================================================================

// ContractRegistry supplies contract versions.
type ContractRegistry interface {
	// VersionsOverlapping returns the versions of employee whose active
	// interval meets [from, to).
	VersionsOverlapping(ctx context.Context, employee EmployeeID, from, to time.Time) ([]ContractVersion, error)

	// Versions returns the versions with the given ids. Unknown ids are
	// absent from the map.
	Versions(ctx context.Context, ids []VersionID) (map[VersionID]ContractVersion, error)
}

// WorkingCalendar answers schedule questions for a calendar. Both methods
// are referentially transparent for a fixed calendar revision.
type WorkingCalendar interface {
	// AttendanceIntervals returns the UTC attendance of cal within
	// [from, to). excludeLeaves removes the calendar's planned leaves.
	AttendanceIntervals(ctx context.Context, cal CalendarID, from, to time.Time, excludeLeaves bool) ([]interval.Span, error)

	// PlanHours returns the instant at which hours of attendance starting at
	// from are consumed.
	PlanHours(ctx context.Context, cal CalendarID, hours decimal.Decimal, from time.Time, countLeaves bool) (time.Time, error)
}

// Catalog supplies employees and entry types. Unknown ids are absent from
// the returned maps.
type Catalog interface {
	EntryTypes(ctx context.Context, ids []TypeID) (map[TypeID]EntryType, error)
	Employees(ctx context.Context, ids []EmployeeID) (map[EmployeeID]Employee, error)
}
