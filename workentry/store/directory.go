package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/workentry"
)

// =============================================================================
// DIRECTORY - In-memory reference data
// =============================================================================

// Directory holds the read-only facts the core consumes: employees, entry
// types, contract versions and calendars. It implements
// workentry.ContractRegistry, workentry.Catalog and calendar.Loader.
//
// It has its own lock so that registry lookups made inside a TxMemory
// transaction never wait on the entry lock.
type Directory struct {
	mu        sync.RWMutex
	employees map[workentry.EmployeeID]workentry.Employee
	types     map[workentry.TypeID]workentry.EntryType
	versions  map[workentry.VersionID]workentry.ContractVersion
	calendars map[calendar.ID]*calendar.Calendar
}

func NewDirectory() *Directory {
	return &Directory{
		employees: make(map[workentry.EmployeeID]workentry.Employee),
		types:     make(map[workentry.TypeID]workentry.EntryType),
		versions:  make(map[workentry.VersionID]workentry.ContractVersion),
		calendars: make(map[calendar.ID]*calendar.Calendar),
	}
}

func (d *Directory) PutEmployee(e workentry.Employee) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.employees[e.ID] = e
}

func (d *Directory) PutEntryType(t workentry.EntryType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.types[t.ID] = t
}

func (d *Directory) PutVersion(v workentry.ContractVersion) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.versions[v.ID] = v
}

func (d *Directory) DeleteVersion(id workentry.VersionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.versions, id)
}

// PutCalendar stores a calendar after validating it. Replacing a calendar
// publishes a new revision.
func (d *Directory) PutCalendar(c *calendar.Calendar) error {
	if err := c.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calendars[c.ID] = c
	return nil
}

// =============================================================================
// workentry.ContractRegistry
// =============================================================================

func (d *Directory) VersionsOverlapping(_ context.Context, employee workentry.EmployeeID, from, to time.Time) ([]workentry.ContractVersion, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []workentry.ContractVersion
	for _, v := range d.versions {
		if v.EmployeeID == employee && v.Intersects(from, to) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Directory) Versions(_ context.Context, ids []workentry.VersionID) (map[workentry.VersionID]workentry.ContractVersion, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[workentry.VersionID]workentry.ContractVersion, len(ids))
	for _, id := range ids {
		if v, ok := d.versions[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// =============================================================================
// workentry.Catalog
// =============================================================================

func (d *Directory) EntryTypes(_ context.Context, ids []workentry.TypeID) (map[workentry.TypeID]workentry.EntryType, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[workentry.TypeID]workentry.EntryType, len(ids))
	for _, id := range ids {
		if t, ok := d.types[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (d *Directory) Employees(_ context.Context, ids []workentry.EmployeeID) (map[workentry.EmployeeID]workentry.Employee, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[workentry.EmployeeID]workentry.Employee, len(ids))
	for _, id := range ids {
		if e, ok := d.employees[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// =============================================================================
// calendar.Loader
// =============================================================================

func (d *Directory) LoadCalendar(_ context.Context, id calendar.ID) (*calendar.Calendar, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.calendars[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", calendar.ErrCalendarNotFound, id)
	}
	return c, nil
}
