/*
Package sqlite provides a SQLite-backed implementation of store.Backend.

PURPOSE:
  Persists work entries and the reference data the core reads (employees,
  entry types, contract versions, calendars). Single node; for several
  writers across processes use store/postgres.

STORAGE CONTRACT:
  Enforced by the schema, not by Go code:
  - CHECK work_entries_stop_after_start: date_stop > date_start
  - CHECK work_entries_state_valid: known states only
  - triggers work_entries_validated_no_overlap_{insert,update}: no two active
    validated entries of one employee share time (touching is fine)

  The triggers RAISE(ABORT, 'validated_overlap'), which mapError turns into
  *workentry.OverlapError.

TIMESTAMPS:
  Instants are stored as fixed-width UTC text (see tsLayout) so that string
  comparison in SQL is chronological. Contract dates are YYYY-MM-DD.

KEY TABLES:
  work_entries:      the entries
  employees:         employee records
  entry_types:       work entry types
  contract_versions: contract versions, date_end inclusive, NULL = open
  calendars:         calendars as JSON documents (factory.CalendarJSON)

INDEXES:
  - idx_work_entries_employee_window: per-employee window scans (hot path)
  - idx_work_entries_window: window scans across employees
  - idx_work_entries_version_window: partial, draft and validated only

CONCURRENCY:
  WAL mode: readers never block. Writers are serialized by a mutex and by
  BEGIN IMMEDIATE (_txlock=immediate). Reads take no lock, so the registry
  and calendar lookups made during a write transaction do not wait on it.
  SQLITE_BUSY and SQLITE_LOCKED map to workentry.ErrTransientStorage.

USAGE:
  st, err := sqlite.New("./data/workentries.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  ":memory:" opens a private throwaway database (a temporary file removed on
  Close) so that every pooled connection sees the same data.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/store.go: the Backend interface
  - workentry/store.go: the storage interfaces of the core
  - store/postgres: the same contract with an exclusion constraint
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/workentry-engine/factory"
	"github.com/warp/workentry-engine/workentry"
)

// tsLayout is fixed width: every stored instant is UTC with nanoseconds.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const dateLayout = "2006-01-02"

// Store implements store.Backend using SQLite.
type Store struct {
	db        *sql.DB
	mu        sync.Mutex // serializes writers
	calendars *factory.CalendarFactory
	cleanup   func() error
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for a private throwaway database.
func New(dbPath string) (*Store, error) {
	cleanup := func() error { return nil }
	if dbPath == ":memory:" {
		dir, err := os.MkdirTemp("", "workentries-")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		dbPath = filepath.Join(dir, uuid.NewString()+".db")
		cleanup = func() error { return os.RemoveAll(dir) }
	}

	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, calendars: factory.NewCalendarFactory(), cleanup: cleanup}
	if err := store.migrate(); err != nil {
		db.Close()
		cleanup()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	err := s.db.Close()
	return errors.Join(err, s.cleanup())
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_entries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		employee_id TEXT NOT NULL,
		version_id TEXT NOT NULL,
		type_id TEXT NOT NULL DEFAULT '',
		company_id TEXT NOT NULL DEFAULT '',
		date_start TEXT NOT NULL,
		date_stop TEXT NOT NULL,
		duration_hours TEXT NOT NULL DEFAULT '0',
		state TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CONSTRAINT work_entries_stop_after_start CHECK (date_stop > date_start),
		CONSTRAINT work_entries_state_valid CHECK (state IN ('draft', 'validated', 'conflict', 'cancelled'))
	);

	CREATE INDEX IF NOT EXISTS idx_work_entries_employee_window
		ON work_entries(employee_id, date_start, date_stop);
	CREATE INDEX IF NOT EXISTS idx_work_entries_window
		ON work_entries(date_start, date_stop);
	CREATE INDEX IF NOT EXISTS idx_work_entries_version_window
		ON work_entries(version_id, date_start, date_stop)
		WHERE state IN ('draft', 'validated');

	-- No two active validated entries of one employee may share time.
	CREATE TRIGGER IF NOT EXISTS work_entries_validated_no_overlap_insert
	BEFORE INSERT ON work_entries
	WHEN NEW.state = 'validated' AND NEW.active
	BEGIN
		SELECT RAISE(ABORT, 'validated_overlap')
		WHERE EXISTS (
			SELECT 1 FROM work_entries w
			WHERE w.employee_id = NEW.employee_id
			  AND w.id <> NEW.id
			  AND w.state = 'validated' AND w.active
			  AND w.date_start < NEW.date_stop
			  AND w.date_stop > NEW.date_start
		);
	END;

	CREATE TRIGGER IF NOT EXISTS work_entries_validated_no_overlap_update
	BEFORE UPDATE ON work_entries
	WHEN NEW.state = 'validated' AND NEW.active
	BEGIN
		SELECT RAISE(ABORT, 'validated_overlap')
		WHERE EXISTS (
			SELECT 1 FROM work_entries w
			WHERE w.employee_id = NEW.employee_id
			  AND w.id <> NEW.id
			  AND w.state = 'validated' AND w.active
			  AND w.date_start < NEW.date_stop
			  AND w.date_stop > NEW.date_start
		);
	END;

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		company_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entry_types (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		is_leave BOOLEAN NOT NULL DEFAULT FALSE,
		uses_calendar_duration BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- No foreign key to employees: versions and entries may outlive them.
	CREATE TABLE IF NOT EXISTS contract_versions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		company_id TEXT NOT NULL DEFAULT '',
		calendar_id TEXT NOT NULL DEFAULT '',
		date_start TEXT NOT NULL,
		date_end TEXT,
		CONSTRAINT contract_versions_end_after_start CHECK (date_end IS NULL OR date_end >= date_start)
	);

	CREATE INDEX IF NOT EXISTS idx_contract_versions_employee
		ON contract_versions(employee_id, date_start);

	CREATE TABLE IF NOT EXISTS calendars (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (workentry.TxStore interface)
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx workentry.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error { return fn(&entries{q: tx}) })
}

// inTx runs fn in a transaction. The caller holds s.mu.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// write runs a single store write in its own transaction.
func (s *Store) write(ctx context.Context, fn func(e *entries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error { return fn(&entries{q: tx}) })
}

// =============================================================================
// WORK ENTRY STORE (workentry.Store interface)
// =============================================================================

func (s *Store) Get(ctx context.Context, ids []workentry.EntryID) ([]workentry.WorkEntry, error) {
	return (&entries{q: s.db}).Get(ctx, ids)
}

func (s *Store) Find(ctx context.Context, q workentry.Query) ([]workentry.WorkEntry, error) {
	return (&entries{q: s.db}).Find(ctx, q)
}

func (s *Store) Insert(ctx context.Context, batch []workentry.WorkEntry) error {
	return s.write(ctx, func(e *entries) error { return e.Insert(ctx, batch) })
}

func (s *Store) Update(ctx context.Context, batch []workentry.WorkEntry) error {
	return s.write(ctx, func(e *entries) error { return e.Update(ctx, batch) })
}

func (s *Store) SetState(ctx context.Context, ids []workentry.EntryID, state workentry.State) error {
	return s.write(ctx, func(e *entries) error { return e.SetState(ctx, ids, state) })
}

func (s *Store) Delete(ctx context.Context, ids []workentry.EntryID) error {
	return s.write(ctx, func(e *entries) error { return e.Delete(ctx, ids) })
}

// entries runs the work entry statements on a connection or transaction.
type entries struct {
	q querier
}

const entryColumns = `id, name, employee_id, version_id, type_id, company_id,
	date_start, date_stop, duration_hours, state, active, created_at, updated_at`

func (e *entries) Get(ctx context.Context, ids []workentry.EntryID) ([]workentry.WorkEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + entryColumns + ` FROM work_entries WHERE id IN (` + placeholders(len(ids)) + `)
		ORDER BY employee_id, date_start, date_stop, id`
	found, err := e.query(ctx, query, anySlice(ids)...)
	if err != nil {
		return nil, err
	}

	have := make(map[workentry.EntryID]bool, len(found))
	for _, w := range found {
		have[w.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, string(id))
			have[id] = true
		}
	}
	if len(missing) > 0 {
		return nil, &workentry.NotFoundError{Kind: "work entry", IDs: missing}
	}
	return found, nil
}

func (e *entries) Find(ctx context.Context, q workentry.Query) ([]workentry.WorkEntry, error) {
	var where []string
	var args []any
	if q.Window != nil {
		where = append(where, "date_start < ?", "date_stop > ?")
		args = append(args, formatTime(q.Window.Stop), formatTime(q.Window.Start))
	}
	if len(q.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(q.IDs))+")")
		args = append(args, anySlice(q.IDs)...)
	}
	if len(q.EmployeeIDs) > 0 {
		where = append(where, "employee_id IN ("+placeholders(len(q.EmployeeIDs))+")")
		args = append(args, anySlice(q.EmployeeIDs)...)
	}
	if len(q.VersionIDs) > 0 {
		where = append(where, "version_id IN ("+placeholders(len(q.VersionIDs))+")")
		args = append(args, anySlice(q.VersionIDs)...)
	}
	if len(q.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(q.States))+")")
		args = append(args, anySlice(q.States)...)
	}
	if q.ActiveOnly {
		where = append(where, "active")
	}

	query := `SELECT ` + entryColumns + ` FROM work_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY employee_id, date_start, date_stop, id`
	return e.query(ctx, query, args...)
}

func (e *entries) Insert(ctx context.Context, batch []workentry.WorkEntry) error {
	query := `
		INSERT INTO work_entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, w := range batch {
		_, err := e.q.ExecContext(ctx, query,
			w.ID, w.Name, w.EmployeeID, w.VersionID, w.TypeID, w.CompanyID,
			formatTime(w.Start), formatTime(w.Stop), w.Duration.String(),
			w.State, w.Active, formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
		)
		if err != nil {
			return mapEntryError(err, w)
		}
	}
	return nil
}

func (e *entries) Update(ctx context.Context, batch []workentry.WorkEntry) error {
	query := `
		UPDATE work_entries SET
			name = ?, employee_id = ?, version_id = ?, type_id = ?, company_id = ?,
			date_start = ?, date_stop = ?, duration_hours = ?, state = ?, active = ?,
			updated_at = ?
		WHERE id = ?
	`
	for _, w := range batch {
		res, err := e.q.ExecContext(ctx, query,
			w.Name, w.EmployeeID, w.VersionID, w.TypeID, w.CompanyID,
			formatTime(w.Start), formatTime(w.Stop), w.Duration.String(), w.State, w.Active,
			formatTime(w.UpdatedAt), w.ID,
		)
		if err != nil {
			return mapEntryError(err, w)
		}
		if err := expectRow(res, w.ID); err != nil {
			return err
		}
	}
	return nil
}

// SetState updates one row per statement so the overlap trigger sees the
// rows already moved by the same call.
func (e *entries) SetState(ctx context.Context, ids []workentry.EntryID, state workentry.State) error {
	query := `UPDATE work_entries SET state = ?, active = ? WHERE id = ?`
	for _, id := range ids {
		res, err := e.q.ExecContext(ctx, query, state, state != workentry.StateCancelled, id)
		if err != nil {
			return mapEntryError(err, workentry.WorkEntry{ID: id})
		}
		if err := expectRow(res, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *entries) Delete(ctx context.Context, ids []workentry.EntryID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := e.q.ExecContext(ctx, `DELETE FROM work_entries WHERE id IN (`+placeholders(len(ids))+`)`, anySlice(ids)...)
	return mapError(err)
}

func (e *entries) query(ctx context.Context, query string, args ...any) ([]workentry.WorkEntry, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query work entries: %w", err))
	}
	defer rows.Close()

	var out []workentry.WorkEntry
	for rows.Next() {
		w, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, mapError(rows.Err())
}

func scanEntry(rows *sql.Rows) (workentry.WorkEntry, error) {
	var (
		w                    workentry.WorkEntry
		start, stop          string
		duration             string
		createdAt, updatedAt string
	)
	err := rows.Scan(
		&w.ID, &w.Name, &w.EmployeeID, &w.VersionID, &w.TypeID, &w.CompanyID,
		&start, &stop, &duration, &w.State, &w.Active, &createdAt, &updatedAt,
	)
	if err != nil {
		return w, fmt.Errorf("failed to scan work entry: %w", err)
	}

	if w.Start, err = parseTime(start); err != nil {
		return w, err
	}
	if w.Stop, err = parseTime(stop); err != nil {
		return w, err
	}
	if w.Duration, err = decimal.NewFromString(duration); err != nil {
		return w, fmt.Errorf("work entry %s duration %q: %w", w.ID, duration, err)
	}
	w.CreatedAt, _ = parseTime(createdAt)
	w.UpdatedAt, _ = parseTime(updatedAt)
	return w, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		tables := []string{"work_entries", "contract_versions", "entry_types", "employees", "calendars"}
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

// mapEntryError maps a failed write of w.
func mapEntryError(err error, w workentry.WorkEntry) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		switch {
		case strings.Contains(se.Error(), "validated_overlap"):
			return &workentry.OverlapError{
				EmployeeID: w.EmployeeID,
				EntryIDs:   []workentry.EntryID{w.ID},
				Constraint: "work_entries_validated_no_overlap",
			}
		case se.ExtendedCode == sqlite3.ErrConstraintCheck || se.ExtendedCode == sqlite3.ErrConstraintNotNull:
			return &workentry.IntervalError{EntryID: w.ID, Start: w.Start, Stop: w.Stop, Reason: se.Error()}
		}
	}
	return mapError(fmt.Errorf("failed to write work entry %s: %w", w.ID, err))
}

// mapError marks lock contention as transient.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", workentry.ErrTransientStorage, err)
	}
	return err
}

func expectRow(res sql.Result, id workentry.EntryID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &workentry.NotFoundError{Kind: "work entry", IDs: []string{string(id)}}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
