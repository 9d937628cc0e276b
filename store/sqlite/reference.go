package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/workentry"
)

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// SaveEmployee saves an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp workentry.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, company_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			company_id = excluded.company_id
	`
	_, err := s.db.ExecContext(ctx, query, emp.ID, emp.Name, emp.CompanyID, formatTime(time.Now()))
	return mapError(err)
}

// ListEmployees returns all employees.
func (s *Store) ListEmployees(ctx context.Context) ([]workentry.Employee, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, company_id FROM employees ORDER BY id")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []workentry.Employee
	for rows.Next() {
		var e workentry.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.CompanyID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Employees implements workentry.Catalog.
func (s *Store) Employees(ctx context.Context, ids []workentry.EmployeeID) (map[workentry.EmployeeID]workentry.Employee, error) {
	out := make(map[workentry.EmployeeID]workentry.Employee, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, company_id FROM employees WHERE id IN ("+placeholders(len(ids))+")",
		anySlice(ids)...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var e workentry.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.CompanyID); err != nil {
			return nil, err
		}
		out[e.ID] = e
	}
	return out, rows.Err()
}

// =============================================================================
// ENTRY TYPES
// =============================================================================

// SaveEntryType saves a work entry type.
func (s *Store) SaveEntryType(ctx context.Context, t workentry.EntryType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO entry_types (id, code, name, is_leave, uses_calendar_duration)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			is_leave = excluded.is_leave,
			uses_calendar_duration = excluded.uses_calendar_duration
	`
	_, err := s.db.ExecContext(ctx, query, t.ID, t.Code, t.Name, t.IsLeave, t.UsesCalendarDuration)
	return mapError(err)
}

// ListEntryTypes returns all entry types.
func (s *Store) ListEntryTypes(ctx context.Context) ([]workentry.EntryType, error) {
	return s.queryEntryTypes(ctx, "SELECT id, code, name, is_leave, uses_calendar_duration FROM entry_types ORDER BY id")
}

// EntryTypes implements workentry.Catalog.
func (s *Store) EntryTypes(ctx context.Context, ids []workentry.TypeID) (map[workentry.TypeID]workentry.EntryType, error) {
	out := make(map[workentry.TypeID]workentry.EntryType, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	types, err := s.queryEntryTypes(ctx,
		"SELECT id, code, name, is_leave, uses_calendar_duration FROM entry_types WHERE id IN ("+placeholders(len(ids))+")",
		anySlice(ids)...)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		out[t.ID] = t
	}
	return out, nil
}

func (s *Store) queryEntryTypes(ctx context.Context, query string, args ...any) ([]workentry.EntryType, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []workentry.EntryType
	for rows.Next() {
		var t workentry.EntryType
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.IsLeave, &t.UsesCalendarDuration); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// CONTRACT VERSIONS (workentry.ContractRegistry interface)
// =============================================================================

// SaveVersion saves a contract version. Revising a version never touches
// the entries bound to it.
func (s *Store) SaveVersion(ctx context.Context, v workentry.ContractVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO contract_versions (id, employee_id, company_id, calendar_id, date_start, date_end)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			company_id = excluded.company_id,
			calendar_id = excluded.calendar_id,
			date_start = excluded.date_start,
			date_end = excluded.date_end
	`
	_, err := s.db.ExecContext(ctx, query,
		v.ID, v.EmployeeID, v.CompanyID, v.CalendarID,
		v.DateStart.Format(dateLayout), nullDate(v.DateEnd),
	)
	return mapError(err)
}

// DeleteVersion removes a contract version. Entries bound to it become
// dangling.
func (s *Store) DeleteVersion(ctx context.Context, id workentry.VersionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM contract_versions WHERE id = ?", id)
	return mapError(err)
}

const versionColumns = "id, employee_id, company_id, calendar_id, date_start, date_end"

// ListVersions returns the versions of employee, or every version.
func (s *Store) ListVersions(ctx context.Context, employee workentry.EmployeeID) ([]workentry.ContractVersion, error) {
	if employee == "" {
		return s.queryVersions(ctx, "SELECT "+versionColumns+" FROM contract_versions ORDER BY employee_id, date_start, id")
	}
	return s.queryVersions(ctx,
		"SELECT "+versionColumns+" FROM contract_versions WHERE employee_id = ? ORDER BY date_start, id",
		employee)
}

// VersionsOverlapping returns the versions of employee sharing time with
// [from, to), ordered by id.
func (s *Store) VersionsOverlapping(ctx context.Context, employee workentry.EmployeeID, from, to time.Time) ([]workentry.ContractVersion, error) {
	// date_start <= last day of the range; the exact test is Intersects
	all, err := s.queryVersions(ctx,
		"SELECT "+versionColumns+" FROM contract_versions WHERE employee_id = ? AND date_start <= ? ORDER BY id",
		employee, to.UTC().Format(dateLayout))
	if err != nil {
		return nil, err
	}
	var out []workentry.ContractVersion
	for _, v := range all {
		if v.Intersects(from, to) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Versions returns the versions among ids that exist.
func (s *Store) Versions(ctx context.Context, ids []workentry.VersionID) (map[workentry.VersionID]workentry.ContractVersion, error) {
	out := make(map[workentry.VersionID]workentry.ContractVersion, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	versions, err := s.queryVersions(ctx,
		"SELECT "+versionColumns+" FROM contract_versions WHERE id IN ("+placeholders(len(ids))+")",
		anySlice(ids)...)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		out[v.ID] = v
	}
	return out, nil
}

func (s *Store) queryVersions(ctx context.Context, query string, args ...any) ([]workentry.ContractVersion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query contract versions: %w", err))
	}
	defer rows.Close()

	var out []workentry.ContractVersion
	for rows.Next() {
		var (
			v       workentry.ContractVersion
			start   string
			dateEnd sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.EmployeeID, &v.CompanyID, &v.CalendarID, &start, &dateEnd); err != nil {
			return nil, err
		}
		if v.DateStart, err = time.Parse(dateLayout, start); err != nil {
			return nil, fmt.Errorf("contract version %s date_start: %w", v.ID, err)
		}
		if dateEnd.Valid {
			end, err := time.Parse(dateLayout, dateEnd.String)
			if err != nil {
				return nil, fmt.Errorf("contract version %s date_end: %w", v.ID, err)
			}
			v.DateEnd = &end
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// =============================================================================
// CALENDARS (calendar.Loader interface)
// =============================================================================

// SaveCalendar validates and stores a calendar as JSON.
func (s *Store) SaveCalendar(ctx context.Context, c *calendar.Calendar) error {
	if err := c.Validate(); err != nil {
		return err
	}
	configJSON, err := s.calendars.MarshalCalendar(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO calendars (id, name, config_json, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			version = calendars.version + 1,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, c.ID, c.Name, configJSON, formatTime(time.Now()))
	return mapError(err)
}

// LoadCalendar loads a calendar by id.
func (s *Store) LoadCalendar(ctx context.Context, id calendar.ID) (*calendar.Calendar, error) {
	var configJSON string
	err := s.db.QueryRowContext(ctx, "SELECT config_json FROM calendars WHERE id = ?", id).Scan(&configJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", calendar.ErrCalendarNotFound, id)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return s.calendars.ParseCalendar(configJSON)
}

// ListCalendars returns all calendars.
func (s *Store) ListCalendars(ctx context.Context) ([]*calendar.Calendar, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT config_json FROM calendars ORDER BY id")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*calendar.Calendar
	for rows.Next() {
		var configJSON string
		if err := rows.Scan(&configJSON); err != nil {
			return nil, err
		}
		c, err := s.calendars.ParseCalendar(configJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}
