package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/warp/workentry-engine/calendar"
	"github.com/warp/workentry-engine/workentry"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, emp workentry.Employee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, name, company_id) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, company_id = EXCLUDED.company_id
	`, string(emp.ID), emp.Name, string(emp.CompanyID))
	return mapError(err)
}

func (s *Store) ListEmployees(ctx context.Context) ([]workentry.Employee, error) {
	return s.queryEmployees(ctx, `SELECT id, name, company_id FROM employees ORDER BY id`)
}

func (s *Store) Employees(ctx context.Context, ids []workentry.EmployeeID) (map[workentry.EmployeeID]workentry.Employee, error) {
	out := make(map[workentry.EmployeeID]workentry.Employee, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := s.queryEmployees(ctx, `SELECT id, name, company_id FROM employees WHERE id = ANY($1)`, strs(ids))
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		out[e.ID] = e
	}
	return out, nil
}

func (s *Store) queryEmployees(ctx context.Context, query string, args ...any) ([]workentry.Employee, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []workentry.Employee
	for rows.Next() {
		var id, name, company string
		if err := rows.Scan(&id, &name, &company); err != nil {
			return nil, err
		}
		out = append(out, workentry.Employee{ID: workentry.EmployeeID(id), Name: name, CompanyID: workentry.CompanyID(company)})
	}
	return out, mapError(rows.Err())
}

// =============================================================================
// ENTRY TYPES
// =============================================================================

func (s *Store) SaveEntryType(ctx context.Context, t workentry.EntryType) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entry_types (id, code, name, is_leave, uses_calendar_duration) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			name = EXCLUDED.name,
			is_leave = EXCLUDED.is_leave,
			uses_calendar_duration = EXCLUDED.uses_calendar_duration
	`, string(t.ID), t.Code, t.Name, t.IsLeave, t.UsesCalendarDuration)
	return mapError(err)
}

func (s *Store) ListEntryTypes(ctx context.Context) ([]workentry.EntryType, error) {
	return s.queryEntryTypes(ctx, `SELECT id, code, name, is_leave, uses_calendar_duration FROM entry_types ORDER BY id`)
}

func (s *Store) EntryTypes(ctx context.Context, ids []workentry.TypeID) (map[workentry.TypeID]workentry.EntryType, error) {
	out := make(map[workentry.TypeID]workentry.EntryType, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := s.queryEntryTypes(ctx,
		`SELECT id, code, name, is_leave, uses_calendar_duration FROM entry_types WHERE id = ANY($1)`, strs(ids))
	if err != nil {
		return nil, err
	}
	for _, t := range list {
		out[t.ID] = t
	}
	return out, nil
}

func (s *Store) queryEntryTypes(ctx context.Context, query string, args ...any) ([]workentry.EntryType, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []workentry.EntryType
	for rows.Next() {
		var id string
		var t workentry.EntryType
		if err := rows.Scan(&id, &t.Code, &t.Name, &t.IsLeave, &t.UsesCalendarDuration); err != nil {
			return nil, err
		}
		t.ID = workentry.TypeID(id)
		out = append(out, t)
	}
	return out, mapError(rows.Err())
}

// =============================================================================
// CONTRACT VERSIONS
// =============================================================================

func (s *Store) SaveVersion(ctx context.Context, v workentry.ContractVersion) error {
	var end *time.Time
	if v.DateEnd != nil {
		d := dateOnly(*v.DateEnd)
		end = &d
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contract_versions (id, employee_id, company_id, calendar_id, date_start, date_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			employee_id = EXCLUDED.employee_id,
			company_id = EXCLUDED.company_id,
			calendar_id = EXCLUDED.calendar_id,
			date_start = EXCLUDED.date_start,
			date_end = EXCLUDED.date_end
	`, string(v.ID), string(v.EmployeeID), string(v.CompanyID), string(v.CalendarID), dateOnly(v.DateStart), end)
	return mapError(err)
}

func (s *Store) DeleteVersion(ctx context.Context, id workentry.VersionID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM contract_versions WHERE id = $1`, string(id))
	return mapError(err)
}

const versionColumns = `id, employee_id, company_id, calendar_id, date_start, date_end`

func (s *Store) ListVersions(ctx context.Context, employee workentry.EmployeeID) ([]workentry.ContractVersion, error) {
	if employee == "" {
		return s.queryVersions(ctx, `SELECT `+versionColumns+` FROM contract_versions ORDER BY employee_id, date_start, id`)
	}
	return s.queryVersions(ctx,
		`SELECT `+versionColumns+` FROM contract_versions WHERE employee_id = $1 ORDER BY date_start, id`, string(employee))
}

// VersionsOverlapping narrows in SQL by start date and keeps the exact
// half-open test in Go, shared with the other backends.
func (s *Store) VersionsOverlapping(ctx context.Context, employee workentry.EmployeeID, from, to time.Time) ([]workentry.ContractVersion, error) {
	all, err := s.queryVersions(ctx,
		`SELECT `+versionColumns+` FROM contract_versions WHERE employee_id = $1 AND date_start <= $2 ORDER BY id`,
		string(employee), dateOnly(to.UTC()))
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

func (s *Store) Versions(ctx context.Context, ids []workentry.VersionID) (map[workentry.VersionID]workentry.ContractVersion, error) {
	out := make(map[workentry.VersionID]workentry.ContractVersion, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := s.queryVersions(ctx, `SELECT `+versionColumns+` FROM contract_versions WHERE id = ANY($1)`, strs(ids))
	if err != nil {
		return nil, err
	}
	for _, v := range list {
		out[v.ID] = v
	}
	return out, nil
}

func (s *Store) queryVersions(ctx context.Context, query string, args ...any) ([]workentry.ContractVersion, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query contract versions: %w", err))
	}
	defer rows.Close()

	var out []workentry.ContractVersion
	for rows.Next() {
		var (
			id, emp, company, cal string
			start                 time.Time
			end                   *time.Time
		)
		if err := rows.Scan(&id, &emp, &company, &cal, &start, &end); err != nil {
			return nil, err
		}
		v := workentry.ContractVersion{
			ID:         workentry.VersionID(id),
			EmployeeID: workentry.EmployeeID(emp),
			CompanyID:  workentry.CompanyID(company),
			CalendarID: workentry.CalendarID(cal),
			DateStart:  dateOnly(start),
		}
		if end != nil {
			d := dateOnly(*end)
			v.DateEnd = &d
		}
		out = append(out, v)
	}
	return out, mapError(rows.Err())
}

// =============================================================================
// CALENDARS
// =============================================================================

func (s *Store) SaveCalendar(ctx context.Context, c *calendar.Calendar) error {
	if err := c.Validate(); err != nil {
		return err
	}
	configJSON, err := s.calendars.MarshalCalendar(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO calendars (id, name, config_json) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			config_json = EXCLUDED.config_json,
			version = calendars.version + 1,
			updated_at = now()
	`, string(c.ID), c.Name, configJSON)
	return mapError(err)
}

func (s *Store) LoadCalendar(ctx context.Context, id calendar.ID) (*calendar.Calendar, error) {
	var configJSON string
	err := s.pool.QueryRow(ctx, `SELECT config_json::text FROM calendars WHERE id = $1`, string(id)).Scan(&configJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", calendar.ErrCalendarNotFound, id)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return s.calendars.ParseCalendar(configJSON)
}

func (s *Store) ListCalendars(ctx context.Context) ([]*calendar.Calendar, error) {
	rows, err := s.pool.Query(ctx, `SELECT config_json::text FROM calendars ORDER BY id`)
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
	return out, mapError(rows.Err())
}
