/*
Package sqlite provides the SQLite-backed persistence of the attendance engine.

PURPOSE:
  Implements every storage interface of the engine with one Store:
  attendance.Store, penalty.Store, batch.Store and settings.Store, plus the
  admin CRUD and report queries used by the API.

KEY TABLES:
  employees:          Master records, unique external_id
  work_schedules:     Named calendars (ON DELETE SET NULL on employees)
  attendance_logs:    Raw events; source_id unique when present
  daily_summaries:    One row per (employee, date), always overwritten
  lateness_records:   One row per (employee, date); superseded_at when stale
  penalty_rules:      Admin rules ordered by priority
  penalties:          Charges; lateness_id unique when present
  penalty_exemptions: Inclusive date ranges per employee
  settings_versions:  Append-only settings documents
  batch_runs:         Audit of batch days

UNIQUENESS:
  Idempotency lives in the schema, not only in code:
  - idx_logs_source_id:         one log per external event id
  - daily_summaries PK:         one summary per employee-day
  - lateness_records UNIQUE:    one lateness record per employee-day
  - idx_penalties_lateness:     one automatic penalty per lateness record
  Violations are translated to generic sentinel errors.

TIME STORAGE:
  Instants are stored as fixed-width UTC text (timeLayout) so that string
  comparison orders them. Calendar days are stored as YYYY-MM-DD.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, which also
  keeps ":memory:" databases consistent across calls. Methods never call
  other locked methods.

USAGE:
  store, err := sqlite.New("./data/worktrack.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - attendance/store.go, penalty/engine.go, batch/runner.go: Interfaces
  - generic/errors.go: Sentinel errors returned by this package
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/batch"
	"github.com/worktrack/engine/generic"
	"github.com/worktrack/engine/penalty"
	"github.com/worktrack/engine/settings"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ attendance.Store = (*Store)(nil)
	_ penalty.Store    = (*Store)(nil)
	_ batch.Store      = (*Store)(nil)
	_ settings.Store   = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		work_start TEXT NOT NULL,
		work_end TEXT NOT NULL,
		grace_minutes INTEGER NOT NULL DEFAULT 5,
		working_days TEXT NOT NULL DEFAULT '1,2,3,4,5',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		device_person_id TEXT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		schedule_id TEXT REFERENCES work_schedules(id) ON DELETE SET NULL,
		work_start TEXT NOT NULL DEFAULT '09:00',
		work_end TEXT NOT NULL DEFAULT '18:00',
		grace_minutes INTEGER NOT NULL DEFAULT 5,
		telegram_username TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_employees_device_person
		ON employees(device_person_id) WHERE device_person_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_employees_active
		ON employees(active);

	CREATE TABLE IF NOT EXISTS attendance_logs (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL CHECK (event_type IN ('check_in', 'check_out')),
		timestamp TEXT NOT NULL,
		source_id TEXT,
		source TEXT NOT NULL DEFAULT 'device',
		created_at TEXT NOT NULL
	);

	-- CRITICAL: replayed device events must not create duplicate logs
	CREATE UNIQUE INDEX IF NOT EXISTS idx_logs_source_id
		ON attendance_logs(source_id) WHERE source_id IS NOT NULL;

	-- Day window scans (hot path of every recompute)
	CREATE INDEX IF NOT EXISTS idx_logs_employee_timestamp
		ON attendance_logs(employee_id, timestamp);

	CREATE TABLE IF NOT EXISTS daily_summaries (
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		check_in TEXT,
		check_out TEXT,
		working_minutes INTEGER NOT NULL DEFAULT 0,
		minutes_late INTEGER NOT NULL DEFAULT 0,
		missing_check_out INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_summaries_date
		ON daily_summaries(date);

	CREATE TABLE IF NOT EXISTS lateness_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		date TEXT NOT NULL,
		minutes_late INTEGER NOT NULL,
		check_in TEXT NOT NULL,
		expected_start TEXT NOT NULL,
		superseded_at TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (employee_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_lateness_date
		ON lateness_records(date) WHERE superseded_at IS NULL;

	CREATE TABLE IF NOT EXISTS penalty_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		amount_per_unit TEXT NOT NULL DEFAULT '0',
		threshold_minutes INTEGER NOT NULL DEFAULT 30,
		percent_low TEXT NOT NULL DEFAULT '1',
		percent_high TEXT NOT NULL DEFAULT '2',
		max_amount_per_day TEXT,
		priority INTEGER NOT NULL DEFAULT 100,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_active_order
		ON penalty_rules(active, priority, created_at, id);

	CREATE TABLE IF NOT EXISTS penalties (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		percent TEXT,
		rule_id TEXT REFERENCES penalty_rules(id) ON DELETE SET NULL,
		lateness_id TEXT REFERENCES lateness_records(id) ON DELETE SET NULL,
		reason TEXT NOT NULL DEFAULT '',
		manual INTEGER NOT NULL DEFAULT 0,
		penalty_date TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- CRITICAL: never double-charge one lateness record
	CREATE UNIQUE INDEX IF NOT EXISTS idx_penalties_lateness
		ON penalties(lateness_id) WHERE lateness_id IS NOT NULL;

	-- Daily cap sums
	CREATE INDEX IF NOT EXISTS idx_penalties_employee_date
		ON penalties(employee_id, penalty_date);

	CREATE TABLE IF NOT EXISTS penalty_exemptions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		date_from TEXT NOT NULL,
		date_to TEXT NOT NULL,
		reason_type TEXT NOT NULL DEFAULT 'other',
		reason_text TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		CHECK (date_to >= date_from)
	);

	CREATE INDEX IF NOT EXISTS idx_exemptions_employee_range
		ON penalty_exemptions(employee_id, date_from, date_to);

	CREATE TABLE IF NOT EXISTS settings_versions (
		version INTEGER PRIMARY KEY,
		document_json TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		day TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		trigger_source TEXT NOT NULL DEFAULT 'manual',
		status TEXT NOT NULL,
		employees INTEGER NOT NULL DEFAULT 0,
		recomputed INTEGER NOT NULL DEFAULT 0,
		recompute_failures INTEGER NOT NULL DEFAULT 0,
		lateness INTEGER NOT NULL DEFAULT 0,
		penalties_created INTEGER NOT NULL DEFAULT 0,
		penalty_failures INTEGER NOT NULL DEFAULT 0,
		notified INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_batch_runs_started
		ON batch_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"penalties", "penalty_exemptions", "penalty_rules",
		"lateness_records", "daily_summaries", "attendance_logs",
		"employees", "work_schedules", "batch_runs", "settings_versions",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so stored instants sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func parseDate(s string) generic.Date {
	d, _ := generic.ParseDate(s)
	return d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := generic.MustParseDecimal(ns.String)
	return &d
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// requireAffected maps a zero-row UPDATE/DELETE to generic.ErrNotFound.
func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, generic.ErrNotFound)
	}
	return nil
}
