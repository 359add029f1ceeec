// Package attendance implements ingestion, daily reconciliation and lateness
// detection. It turns raw check-in/check-out events into one DailySummary per
// employee and day, plus a LatenessRecord when the employee was late.
package attendance

import (
	"fmt"
	"strings"
	"time"

	"github.com/worktrack/engine/generic"
)

// =============================================================================
// EMPLOYEES AND SCHEDULES
// =============================================================================

// Employee is the master record used for matching device events and
// resolving the work calendar.
type Employee struct {
	ID               string
	ExternalID       string // employee id printed on the badge; unique
	DevicePersonID   string // optional person id configured on the device
	FirstName        string
	LastName         string
	Department       string
	ScheduleID       string // empty = use the fields below
	WorkStart        generic.ClockTime
	WorkEnd          generic.ClockTime
	GraceMinutes     int
	TelegramUsername string
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

func (e Employee) String() string {
	return fmt.Sprintf("%s - %s", e.ExternalID, e.FullName())
}

// WorkSchedule is a named calendar shared by many employees.
type WorkSchedule struct {
	ID           string
	Name         string
	WorkStart    generic.ClockTime
	WorkEnd      generic.ClockTime
	GraceMinutes int
	WorkingDays  generic.WeekdaySet
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// RAW EVENTS
// =============================================================================

type EventType string

const (
	CheckIn  EventType = "check_in"
	CheckOut EventType = "check_out"
)

// ParseEventType folds case, spaces and dashes ("Check In", "check-out").
func ParseEventType(s string) (EventType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch EventType(norm) {
	case CheckIn, CheckOut:
		return EventType(norm), nil
	}
	return "", fmt.Errorf("%w: %q", generic.ErrInvalidEventType, s)
}

type Source string

const (
	SourceDevice Source = "device"
	SourceManual Source = "manual"
	SourceAPI    Source = "api"
)

// Log is one raw check-in/check-out event. Logs are never mutated; a wrong
// log is deleted and its day recomputed.
type Log struct {
	ID         string
	EmployeeID string
	EventType  EventType
	Timestamp  time.Time
	SourceID   string // external event id; unique when non-empty
	Source     Source
	CreatedAt  time.Time
}

// =============================================================================
// DERIVED DAILY STATE
// =============================================================================

type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
	StatusLeave   Status = "leave"   // no check-in, exemption covers the day
	StatusDayOff  Status = "day_off" // not a working day for the schedule
)

// DailySummary is fully recomputed from the day's logs on every change.
type DailySummary struct {
	EmployeeID      string
	Date            generic.Date
	Status          Status
	CheckIn         *time.Time
	CheckOut        *time.Time
	WorkingMinutes  int
	MinutesLate     int
	MissingCheckOut bool
	UpdatedAt       time.Time
}

// LatenessRecord is upserted per (employee, date) when the employee is late.
// A record whose day was later recomputed as on time is kept but superseded
// so penalties linked to it stay traceable.
type LatenessRecord struct {
	ID            string
	EmployeeID    string
	Date          generic.Date
	MinutesLate   int
	CheckIn       time.Time
	ExpectedStart generic.ClockTime
	SupersededAt  *time.Time
	CreatedAt     time.Time
}

func (l LatenessRecord) Superseded() bool { return l.SupersededAt != nil }
