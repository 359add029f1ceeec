package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/generic"
)

// =============================================================================
// ATTENDANCE LOG STORE
// =============================================================================

const logColumns = `id, employee_id, event_type, timestamp, source_id, source, created_at`

// InsertLog appends a raw event. Logs are never updated.
func (s *Store) InsertLog(ctx context.Context, log attendance.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		log.ID, log.EmployeeID, string(log.EventType), formatTime(log.Timestamp),
		nullString(log.SourceID), string(log.Source), formatTime(log.CreatedAt),
	)
	switch {
	case err == nil:
		return nil
	case isUniqueConstraintError(err):
		return fmt.Errorf("%w: %s", generic.ErrDuplicateSourceID, log.SourceID)
	case isForeignKeyError(err):
		return fmt.Errorf("employee %s: %w", log.EmployeeID, generic.ErrNotFound)
	default:
		return fmt.Errorf("failed to insert log: %w", err)
	}
}

// GetLog retrieves a log by ID.
func (s *Store) GetLog(ctx context.Context, id string) (*attendance.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanLogRow(s.db.QueryRowContext(ctx,
		"SELECT "+logColumns+" FROM attendance_logs WHERE id = ?", id))
}

// GetLogBySourceID retrieves the log recorded for an external event id.
func (s *Store) GetLogBySourceID(ctx context.Context, sourceID string) (*attendance.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanLogRow(s.db.QueryRowContext(ctx,
		"SELECT "+logColumns+" FROM attendance_logs WHERE source_id = ?", sourceID))
}

// DeleteLog removes a log. The caller recomputes the affected day.
func (s *Store) DeleteLog(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM attendance_logs WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res, "log", id)
}

// LogsBetween returns an employee's logs in [from, to), oldest first.
func (s *Store) LogsBetween(ctx context.Context, employeeID string, from, to time.Time) ([]attendance.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryLogs(ctx, `
		SELECT `+logColumns+` FROM attendance_logs
		WHERE employee_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, created_at ASC
	`, employeeID, formatTime(from), formatTime(to))
}

// LogFilter narrows ListLogs. Zero values mean "any".
type LogFilter struct {
	EmployeeID string
	From       time.Time
	To         time.Time // exclusive
	Limit      int
}

// ListLogs returns logs newest first.
func (s *Store) ListLogs(ctx context.Context, f LogFilter) ([]attendance.Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if !f.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, formatTime(f.To))
	}

	query := "SELECT " + logColumns + " FROM attendance_logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryLogs(ctx, query, args...)
}

func (s *Store) queryLogs(ctx context.Context, query string, args ...any) ([]attendance.Log, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var logs []attendance.Log
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func scanLogRow(row *sql.Row) (*attendance.Log, error) {
	log, err := scanLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func scanLog(sc scanner) (attendance.Log, error) {
	var (
		log                  attendance.Log
		eventType, source    string
		timestamp, createdAt string
		sourceID             sql.NullString
	)
	if err := sc.Scan(&log.ID, &log.EmployeeID, &eventType, &timestamp, &sourceID, &source, &createdAt); err != nil {
		return log, err
	}
	log.EventType = attendance.EventType(eventType)
	log.Source = attendance.Source(source)
	log.Timestamp = parseTime(timestamp)
	log.SourceID = sourceID.String
	log.CreatedAt = parseTime(createdAt)
	return log, nil
}

// =============================================================================
// DAILY SUMMARY + LATENESS STORE
// =============================================================================

// SaveDailyResult overwrites the summary and reconciles the lateness record
// in one transaction. A non-nil lateness is upserted by (employee, date) and
// its ID is replaced with the stored one; nil supersedes any live record.
func (s *Store) SaveDailyResult(ctx context.Context, summary attendance.DailySummary, lateness *attendance.LatenessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertSummary(ctx, tx, summary); err != nil {
		return err
	}

	day := summary.Date.String()
	if lateness == nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE lateness_records SET superseded_at = ?
			WHERE employee_id = ? AND date = ? AND superseded_at IS NULL
		`, formatTime(summary.UpdatedAt), summary.EmployeeID, day)
		if err != nil {
			return fmt.Errorf("failed to supersede lateness: %w", err)
		}
		return tx.Commit()
	}

	var storedID, createdAt string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO lateness_records
			(id, employee_id, date, minutes_late, check_in, expected_start, superseded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?)
		ON CONFLICT(employee_id, date) DO UPDATE SET
			minutes_late = excluded.minutes_late,
			check_in = excluded.check_in,
			expected_start = excluded.expected_start,
			superseded_at = NULL
		RETURNING id, created_at
	`,
		lateness.ID, lateness.EmployeeID, day, lateness.MinutesLate,
		formatTime(lateness.CheckIn), lateness.ExpectedStart.String(), formatTime(lateness.CreatedAt),
	).Scan(&storedID, &createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert lateness: %w", err)
	}
	lateness.ID = storedID
	lateness.CreatedAt = parseTime(createdAt)
	lateness.SupersededAt = nil

	return tx.Commit()
}

func upsertSummary(ctx context.Context, db execer, sum attendance.DailySummary) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO daily_summaries
			(employee_id, date, status, check_in, check_out, working_minutes,
			 minutes_late, missing_check_out, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, date) DO UPDATE SET
			status = excluded.status,
			check_in = excluded.check_in,
			check_out = excluded.check_out,
			working_minutes = excluded.working_minutes,
			minutes_late = excluded.minutes_late,
			missing_check_out = excluded.missing_check_out,
			updated_at = excluded.updated_at
	`,
		sum.EmployeeID, sum.Date.String(), string(sum.Status),
		nullTime(sum.CheckIn), nullTime(sum.CheckOut), sum.WorkingMinutes,
		sum.MinutesLate, boolInt(sum.MissingCheckOut), formatTime(sum.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}
	return nil
}

const summaryColumns = `employee_id, date, status, check_in, check_out, working_minutes,
	minutes_late, missing_check_out, updated_at`

// GetSummary returns the summary of one employee-day.
func (s *Store) GetSummary(ctx context.Context, employeeID string, day generic.Date) (*attendance.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, err := scanSummary(s.db.QueryRowContext(ctx,
		"SELECT "+summaryColumns+" FROM daily_summaries WHERE employee_id = ? AND date = ?",
		employeeID, day.String()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// SummaryFilter narrows ListSummaries. Zero values mean "any".
type SummaryFilter struct {
	EmployeeID string
	From       generic.Date
	To         generic.Date // inclusive
	Status     attendance.Status
}

// ListSummaries returns summaries ordered by date, then employee.
func (s *Store) ListSummaries(ctx context.Context, f SummaryFilter) ([]attendance.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	query := "SELECT " + summaryColumns + " FROM daily_summaries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, employee_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []attendance.DailySummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func scanSummary(sc scanner) (attendance.DailySummary, error) {
	var (
		sum               attendance.DailySummary
		date, status      string
		checkIn, checkOut sql.NullString
		missing           int
		updatedAt         string
	)
	err := sc.Scan(&sum.EmployeeID, &date, &status, &checkIn, &checkOut,
		&sum.WorkingMinutes, &sum.MinutesLate, &missing, &updatedAt)
	if err != nil {
		return sum, err
	}
	sum.Date = parseDate(date)
	sum.Status = attendance.Status(status)
	sum.CheckIn = parseNullTime(checkIn)
	sum.CheckOut = parseNullTime(checkOut)
	sum.MissingCheckOut = missing == 1
	sum.UpdatedAt = parseTime(updatedAt)
	return sum, nil
}

const latenessColumns = `id, employee_id, date, minutes_late, check_in, expected_start,
	superseded_at, created_at`

// GetLateness retrieves a lateness record by ID.
func (s *Store) GetLateness(ctx context.Context, id string) (*attendance.LatenessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := scanLateness(s.db.QueryRowContext(ctx,
		"SELECT "+latenessColumns+" FROM lateness_records WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CurrentLateness returns the non-superseded lateness records of day.
func (s *Store) CurrentLateness(ctx context.Context, day generic.Date) ([]attendance.LatenessRecord, error) {
	return s.ListLateness(ctx, LatenessFilter{From: day, To: day})
}

// LatenessFilter narrows ListLateness. Zero values mean "any".
type LatenessFilter struct {
	EmployeeID        string
	From              generic.Date
	To                generic.Date // inclusive
	IncludeSuperseded bool
}

// ListLateness returns lateness records ordered by date, then employee.
func (s *Store) ListLateness(ctx context.Context, f LatenessFilter) ([]attendance.LatenessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if !f.IncludeSuperseded {
		where = append(where, "superseded_at IS NULL")
	}
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}

	query := "SELECT " + latenessColumns + " FROM lateness_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, employee_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lateness: %w", err)
	}
	defer rows.Close()

	var records []attendance.LatenessRecord
	for rows.Next() {
		rec, err := scanLateness(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanLateness(sc scanner) (attendance.LatenessRecord, error) {
	var (
		rec                     attendance.LatenessRecord
		date, checkIn, expected string
		supersededAt            sql.NullString
		createdAt               string
	)
	err := sc.Scan(&rec.ID, &rec.EmployeeID, &date, &rec.MinutesLate, &checkIn, &expected,
		&supersededAt, &createdAt)
	if err != nil {
		return rec, err
	}
	rec.Date = parseDate(date)
	rec.CheckIn = parseTime(checkIn)
	rec.ExpectedStart, _ = generic.ParseClockTime(expected)
	rec.SupersededAt = parseNullTime(supersededAt)
	rec.CreatedAt = parseTime(createdAt)
	return rec, nil
}
