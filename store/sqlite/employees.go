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
// EMPLOYEE STORE
// =============================================================================

const employeeColumns = `id, external_id, device_person_id, first_name, last_name, department,
	schedule_id, work_start, work_end, grace_minutes, telegram_username, active,
	created_at, updated_at`

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp attendance.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if emp.CreatedAt.IsZero() {
		emp.CreatedAt = now
	}

	query := `
		INSERT INTO employees (` + employeeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			external_id = excluded.external_id,
			device_person_id = excluded.device_person_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			department = excluded.department,
			schedule_id = excluded.schedule_id,
			work_start = excluded.work_start,
			work_end = excluded.work_end,
			grace_minutes = excluded.grace_minutes,
			telegram_username = excluded.telegram_username,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.ExternalID, nullString(emp.DevicePersonID),
		emp.FirstName, emp.LastName, emp.Department,
		nullString(emp.ScheduleID), emp.WorkStart.String(), emp.WorkEnd.String(),
		emp.GraceMinutes, emp.TelegramUsername, boolInt(emp.Active),
		formatTime(emp.CreatedAt), formatTime(now),
	)
	switch {
	case err == nil:
		return nil
	case isUniqueConstraintError(err) && strings.Contains(err.Error(), "employees.device_person_id"):
		return fmt.Errorf("%w: %s", generic.ErrDuplicateDevicePersonID, emp.DevicePersonID)
	case isUniqueConstraintError(err):
		return fmt.Errorf("%w: %s", generic.ErrDuplicateExternalID, emp.ExternalID)
	case isForeignKeyError(err):
		return &generic.ValidationError{Kind: generic.ErrInvalidSchedule, Field: "schedule_id", Message: "schedule does not exist"}
	default:
		return fmt.Errorf("failed to save employee: %w", err)
	}
}

// GetEmployee retrieves an employee by internal ID.
func (s *Store) GetEmployee(ctx context.Context, id string) (*attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	return scanEmployeeRow(row)
}

// FindActiveEmployee matches the external id first, then the device person id.
func (s *Store) FindActiveEmployee(ctx context.Context, identifier string) (*attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emp, err := scanEmployeeRow(s.db.QueryRowContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE external_id = ? AND active = 1", identifier))
	if err != nil || emp != nil {
		return emp, err
	}
	return scanEmployeeRow(s.db.QueryRowContext(ctx,
		"SELECT "+employeeColumns+" FROM employees WHERE device_person_id = ? AND active = 1", identifier))
}

// ListEmployees returns employees ordered by external id.
func (s *Store) ListEmployees(ctx context.Context, activeOnly bool) ([]attendance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + employeeColumns + " FROM employees"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY external_id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []attendance.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// ListActiveEmployees implements batch.Store.
func (s *Store) ListActiveEmployees(ctx context.Context) ([]attendance.Employee, error) {
	return s.ListEmployees(ctx, true)
}

// DeleteEmployee removes an employee and, by cascade, its logs, summaries,
// lateness records, penalties and exemptions.
func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM employees WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res, "employee", id)
}

func scanEmployeeRow(row *sql.Row) (*attendance.Employee, error) {
	emp, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &emp, nil
}

func scanEmployee(sc scanner) (attendance.Employee, error) {
	var (
		emp                  attendance.Employee
		devicePersonID       sql.NullString
		scheduleID           sql.NullString
		workStart, workEnd   string
		active               int
		createdAt, updatedAt string
	)
	err := sc.Scan(
		&emp.ID, &emp.ExternalID, &devicePersonID, &emp.FirstName, &emp.LastName, &emp.Department,
		&scheduleID, &workStart, &workEnd, &emp.GraceMinutes, &emp.TelegramUsername, &active,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return emp, err
	}
	emp.DevicePersonID = devicePersonID.String
	emp.ScheduleID = scheduleID.String
	emp.WorkStart, _ = generic.ParseClockTime(workStart)
	emp.WorkEnd, _ = generic.ParseClockTime(workEnd)
	emp.Active = active == 1
	emp.CreatedAt = parseTime(createdAt)
	emp.UpdatedAt = parseTime(updatedAt)
	return emp, nil
}

// =============================================================================
// WORK SCHEDULE STORE
// =============================================================================

const scheduleColumns = `id, name, work_start, work_end, grace_minutes, working_days, active,
	created_at, updated_at`

// SaveSchedule inserts or updates a work schedule.
func (s *Store) SaveSchedule(ctx context.Context, sched attendance.WorkSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}

	query := `
		INSERT INTO work_schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			work_start = excluded.work_start,
			work_end = excluded.work_end,
			grace_minutes = excluded.grace_minutes,
			working_days = excluded.working_days,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		sched.ID, sched.Name, sched.WorkStart.String(), sched.WorkEnd.String(),
		sched.GraceMinutes, sched.WorkingDays.String(), boolInt(sched.Active),
		formatTime(sched.CreatedAt), formatTime(now),
	)
	if isUniqueConstraintError(err) {
		return &generic.ValidationError{Kind: generic.ErrInvalidSchedule, Field: "name", Message: "already in use"}
	}
	return err
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, id string) (*attendance.WorkSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, err := scanSchedule(s.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM work_schedules WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// ListSchedules returns all schedules ordered by name.
func (s *Store) ListSchedules(ctx context.Context) ([]attendance.WorkSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM work_schedules ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []attendance.WorkSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// DeleteSchedule removes a schedule; employees fall back to their own fields.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM work_schedules WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res, "schedule", id)
}

func scanSchedule(sc scanner) (attendance.WorkSchedule, error) {
	var (
		sched                attendance.WorkSchedule
		workStart, workEnd   string
		workingDays          string
		active               int
		createdAt, updatedAt string
	)
	err := sc.Scan(
		&sched.ID, &sched.Name, &workStart, &workEnd, &sched.GraceMinutes, &workingDays, &active,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return sched, err
	}
	sched.WorkStart, _ = generic.ParseClockTime(workStart)
	sched.WorkEnd, _ = generic.ParseClockTime(workEnd)
	sched.WorkingDays, _ = generic.ParseWeekdaySet(workingDays)
	sched.Active = active == 1
	sched.CreatedAt = parseTime(createdAt)
	sched.UpdatedAt = parseTime(updatedAt)
	return sched, nil
}
