/*
Package store defines what a persistent backend offers the rest of the system.

PURPOSE:
  A Backend stores work entries with the storage contract enforced by the
  database itself (stop after start, no overlap between active validated
  entries of one employee), plus the reference data the core reads:
  employees, entry types, contract versions and calendars.

IMPLEMENTATIONS:
  store/sqlite:   single-node, file based, triggers for the overlap rule
  store/postgres: exclusion constraint over tstzrange

  store/storetest holds the conformance suite both run.

SEE ALSO:
  - workentry/store.go: the interfaces the core consumes
  - workentry/store: in-memory implementations
*/
package store

import (
	"context"

	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/workentry"
)

// Backend is a persistent store.
type Backend interface {
	workentry.TxStore
	workentry.ContractRegistry
	workentry.Catalog
	calendar.Loader

	SaveEmployee(ctx context.Context, e workentry.Employee) error
	ListEmployees(ctx context.Context) ([]workentry.Employee, error)

	SaveEntryType(ctx context.Context, t workentry.EntryType) error
	ListEntryTypes(ctx context.Context) ([]workentry.EntryType, error)

	SaveVersion(ctx context.Context, v workentry.ContractVersion) error
	DeleteVersion(ctx context.Context, id workentry.VersionID) error
	// ListVersions lists the versions of employee, or all versions when
	// employee is empty, ordered by employee then start date.
	ListVersions(ctx context.Context, employee workentry.EmployeeID) ([]workentry.ContractVersion, error)

	// SaveCalendar validates and stores a calendar. Saving an existing id
	// publishes a new revision.
	SaveCalendar(ctx context.Context, c *calendar.Calendar) error
	ListCalendars(ctx context.Context) ([]*calendar.Calendar, error)

	// Reset deletes every row (demo and tests).
	Reset(ctx context.Context) error
	Close() error
}
