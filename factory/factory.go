/*
Package factory provides JSON to Go conversion for admin-defined records.

PURPOSE:
  Converts JSON definitions of penalty rules, work schedules, employees and
  exemptions into the domain types, validating them on the way. The HTTP
  handlers and demo scenarios both go through here, so a record is checked
  the same way whichever door it came in.

JSON SCHEMA (rule):
  {
    "name": "Per minute",
    "type": "per_minute",
    "amount_per_unit": "1000",
    "max_amount_per_day": "50000",
    "priority": 0,
    "active": true
  }

  {
    "name": "Salary tiers",
    "type": "percent_of_salary",
    "threshold_minutes": 15,
    "percent_low": "0.5",
    "percent_high": "1",
    "active": true
  }

JSON SCHEMA (schedule):
  {
    "name": "Office",
    "work_start": "09:00",
    "work_end": "18:00",
    "grace_minutes": 5,
    "working_days": [1, 2, 3, 4, 5]
  }

VALIDATION:
  Struct tags are checked with go-playground/validator; cross-field rules
  (end after start, percent tiers) are checked by hand. Failures come back
  as *generic.ValidationError so handlers answer 400.

USAGE:
  f := factory.New()
  rule, err := f.ParseRule(body)
  store.SaveRule(ctx, *rule)

SEE ALSO:
  - penalty/types.go: Rule, Exemption
  - attendance/types.go: Employee, WorkSchedule
  - api/scenarios.go: Demo data built from these JSON shapes
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/generic"
	"github.com/worktrack/engine/penalty"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a penalty rule.
type RuleJSON struct {
	ID               string           `json:"id,omitempty"`
	Name             string           `json:"name" validate:"required,max=100"`
	Type             string           `json:"type" validate:"required,oneof=per_minute fixed percent_of_salary custom"`
	AmountPerUnit    decimal.Decimal  `json:"amount_per_unit"`
	ThresholdMinutes int              `json:"threshold_minutes" validate:"min=0"`
	PercentLow       decimal.Decimal  `json:"percent_low"`
	PercentHigh      decimal.Decimal  `json:"percent_high"`
	MaxAmountPerDay  *decimal.Decimal `json:"max_amount_per_day,omitempty"`
	Priority         int              `json:"priority"`
	Active           *bool            `json:"active,omitempty"` // default true
}

// ScheduleJSON is the JSON representation of a work schedule.
type ScheduleJSON struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name" validate:"required,max=100"`
	WorkStart    string `json:"work_start" validate:"required"`
	WorkEnd      string `json:"work_end" validate:"required"`
	GraceMinutes int    `json:"grace_minutes" validate:"min=0,max=240"`
	WorkingDays  []int  `json:"working_days" validate:"required,min=1,dive,min=0,max=6"`
	Active       *bool  `json:"active,omitempty"`
}

// EmployeeJSON is the JSON representation of an employee.
type EmployeeJSON struct {
	ID               string `json:"id,omitempty"`
	ExternalID       string `json:"employee_id" validate:"required,max=50"`
	DevicePersonID   string `json:"device_person_id,omitempty" validate:"max=50"`
	FirstName        string `json:"first_name" validate:"required,max=100"`
	LastName         string `json:"last_name" validate:"max=100"`
	Department       string `json:"department" validate:"max=100"`
	ScheduleID       string `json:"schedule_id,omitempty"`
	WorkStart        string `json:"work_start,omitempty"` // default 09:00
	WorkEnd          string `json:"work_end,omitempty"`   // default 18:00
	GraceMinutes     *int   `json:"grace_minutes,omitempty" validate:"omitempty,min=0,max=240"` // default 5
	TelegramUsername string `json:"telegram_username,omitempty" validate:"max=64"`
	Active           *bool  `json:"active,omitempty"`
}

// ExemptionJSON is the JSON representation of a penalty exemption.
type ExemptionJSON struct {
	ID         string       `json:"id,omitempty"`
	EmployeeID string       `json:"employee_id" validate:"required"`
	From       generic.Date `json:"date_from"`
	To         generic.Date `json:"date_to"`
	Reason     string       `json:"reason_type" validate:"required,oneof=sick_leave leave_approved business_trip other"`
	ReasonText string       `json:"reason_text" validate:"max=500"`
}

// =============================================================================
// FACTORY
// =============================================================================

var (
	defaultWorkStart = generic.NewClockTime(9, 0)
	defaultWorkEnd   = generic.NewClockTime(18, 0)
)

// DefaultGraceMinutes applies to employees posted without grace_minutes.
const DefaultGraceMinutes = 5

// Factory converts JSON definitions to domain types.
type Factory struct {
	validate *validator.Validate
}

func New() *Factory {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Factory{validate: v}
}

// ParseRule parses and validates a rule definition.
func (f *Factory) ParseRule(data []byte) (*penalty.Rule, error) {
	var rj RuleJSON
	if err := json.Unmarshal(data, &rj); err != nil {
		return nil, &generic.ValidationError{Kind: generic.ErrInvalidRule, Field: "body", Message: err.Error()}
	}
	return f.RuleFromJSON(rj)
}

// RuleFromJSON validates rj and converts it. A missing ID gets a new uuid.
func (f *Factory) RuleFromJSON(rj RuleJSON) (*penalty.Rule, error) {
	if err := f.check(rj, generic.ErrInvalidRule); err != nil {
		return nil, err
	}

	rule := &penalty.Rule{
		ID:               rj.ID,
		Name:             strings.TrimSpace(rj.Name),
		Type:             penalty.RuleType(rj.Type),
		AmountPerUnit:    rj.AmountPerUnit,
		ThresholdMinutes: rj.ThresholdMinutes,
		PercentLow:       rj.PercentLow,
		PercentHigh:      rj.PercentHigh,
		MaxAmountPerDay:  rj.MaxAmountPerDay,
		Priority:         rj.Priority,
		Active:           rj.Active == nil || *rj.Active,
	}
	if rule.ID == "" {
		rule.ID = generic.NewID()
	}

	invalid := func(field, msg string) error {
		return &generic.ValidationError{Kind: generic.ErrInvalidRule, Field: field, Message: msg}
	}
	switch rule.Type {
	case penalty.RulePercentOfSalary:
		if rule.PercentLow.IsNegative() || rule.PercentHigh.IsNegative() {
			return nil, invalid("percent_low", "percentages must not be negative")
		}
		if rule.PercentHigh.GreaterThan(decimal.NewFromInt(100)) {
			return nil, invalid("percent_high", "must be at most 100")
		}
		if rule.PercentHigh.LessThan(rule.PercentLow) {
			return nil, invalid("percent_high", "must not be lower than percent_low")
		}
	default:
		if rule.AmountPerUnit.IsNegative() {
			return nil, invalid("amount_per_unit", "must not be negative")
		}
	}
	if rule.MaxAmountPerDay != nil && !rule.MaxAmountPerDay.IsPositive() {
		return nil, invalid("max_amount_per_day", "must be positive when set")
	}
	return rule, nil
}

// RuleToJSON converts a rule back to its JSON shape.
func (f *Factory) RuleToJSON(r penalty.Rule) RuleJSON {
	active := r.Active
	return RuleJSON{
		ID:               r.ID,
		Name:             r.Name,
		Type:             string(r.Type),
		AmountPerUnit:    r.AmountPerUnit,
		ThresholdMinutes: r.ThresholdMinutes,
		PercentLow:       r.PercentLow,
		PercentHigh:      r.PercentHigh,
		MaxAmountPerDay:  r.MaxAmountPerDay,
		Priority:         r.Priority,
		Active:           &active,
	}
}

// ParseSchedule parses and validates a schedule definition.
func (f *Factory) ParseSchedule(data []byte) (*attendance.WorkSchedule, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return nil, &generic.ValidationError{Kind: generic.ErrInvalidSchedule, Field: "body", Message: err.Error()}
	}
	return f.ScheduleFromJSON(sj)
}

func (f *Factory) ScheduleFromJSON(sj ScheduleJSON) (*attendance.WorkSchedule, error) {
	if err := f.check(sj, generic.ErrInvalidSchedule); err != nil {
		return nil, err
	}
	start, end, err := parseHours(sj.WorkStart, sj.WorkEnd, generic.ErrInvalidSchedule)
	if err != nil {
		return nil, err
	}
	days, err := generic.WeekdaySetFromInts(sj.WorkingDays)
	if err != nil {
		return nil, &generic.ValidationError{Kind: generic.ErrInvalidSchedule, Field: "working_days", Message: err.Error()}
	}

	sched := &attendance.WorkSchedule{
		ID:           sj.ID,
		Name:         strings.TrimSpace(sj.Name),
		WorkStart:    start,
		WorkEnd:      end,
		GraceMinutes: sj.GraceMinutes,
		WorkingDays:  days,
		Active:       sj.Active == nil || *sj.Active,
	}
	if sched.ID == "" {
		sched.ID = generic.NewID()
	}
	return sched, nil
}

func (f *Factory) ScheduleToJSON(s attendance.WorkSchedule) ScheduleJSON {
	active := s.Active
	return ScheduleJSON{
		ID:           s.ID,
		Name:         s.Name,
		WorkStart:    s.WorkStart.String(),
		WorkEnd:      s.WorkEnd.String(),
		GraceMinutes: s.GraceMinutes,
		WorkingDays:  s.WorkingDays.Days(),
		Active:       &active,
	}
}

// ParseEmployee parses and validates an employee definition.
func (f *Factory) ParseEmployee(data []byte) (*attendance.Employee, error) {
	var ej EmployeeJSON
	if err := json.Unmarshal(data, &ej); err != nil {
		return nil, &generic.ValidationError{Kind: generic.ErrInvalidInput, Field: "body", Message: err.Error()}
	}
	return f.EmployeeFromJSON(ej)
}

func (f *Factory) EmployeeFromJSON(ej EmployeeJSON) (*attendance.Employee, error) {
	if err := f.check(ej, generic.ErrInvalidInput); err != nil {
		return nil, err
	}

	start, end := defaultWorkStart, defaultWorkEnd
	if ej.WorkStart != "" || ej.WorkEnd != "" {
		if ej.WorkStart == "" {
			ej.WorkStart = defaultWorkStart.String()
		}
		if ej.WorkEnd == "" {
			ej.WorkEnd = defaultWorkEnd.String()
		}
		var err error
		if start, end, err = parseHours(ej.WorkStart, ej.WorkEnd, generic.ErrInvalidInput); err != nil {
			return nil, err
		}
	}

	grace := DefaultGraceMinutes
	if ej.GraceMinutes != nil {
		grace = *ej.GraceMinutes
	}

	emp := &attendance.Employee{
		ID:               ej.ID,
		ExternalID:       strings.TrimSpace(ej.ExternalID),
		DevicePersonID:   strings.TrimSpace(ej.DevicePersonID),
		FirstName:        strings.TrimSpace(ej.FirstName),
		LastName:         strings.TrimSpace(ej.LastName),
		Department:       strings.TrimSpace(ej.Department),
		ScheduleID:       ej.ScheduleID,
		WorkStart:        start,
		WorkEnd:          end,
		GraceMinutes:     grace,
		TelegramUsername: strings.TrimSpace(ej.TelegramUsername),
		Active:           ej.Active == nil || *ej.Active,
	}
	if emp.ID == "" {
		emp.ID = generic.NewID()
	}
	return emp, nil
}

func (f *Factory) EmployeeToJSON(e attendance.Employee) EmployeeJSON {
	active, grace := e.Active, e.GraceMinutes
	return EmployeeJSON{
		ID:               e.ID,
		ExternalID:       e.ExternalID,
		DevicePersonID:   e.DevicePersonID,
		FirstName:        e.FirstName,
		LastName:         e.LastName,
		Department:       e.Department,
		ScheduleID:       e.ScheduleID,
		WorkStart:        e.WorkStart.String(),
		WorkEnd:          e.WorkEnd.String(),
		GraceMinutes:     &grace,
		TelegramUsername: e.TelegramUsername,
		Active:           &active,
	}
}

// ParseExemption parses and validates an exemption definition.
func (f *Factory) ParseExemption(data []byte) (*penalty.Exemption, error) {
	var xj ExemptionJSON
	if err := json.Unmarshal(data, &xj); err != nil {
		return nil, &generic.ValidationError{Kind: generic.ErrInvalidInput, Field: "body", Message: err.Error()}
	}
	return f.ExemptionFromJSON(xj)
}

func (f *Factory) ExemptionFromJSON(xj ExemptionJSON) (*penalty.Exemption, error) {
	if err := f.check(xj, generic.ErrInvalidInput); err != nil {
		return nil, err
	}
	rng := generic.DateRange{From: xj.From, To: xj.To}
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	ex := &penalty.Exemption{
		ID:         xj.ID,
		EmployeeID: xj.EmployeeID,
		From:       xj.From,
		To:         xj.To,
		Reason:     penalty.ExemptionReason(xj.Reason),
		ReasonText: strings.TrimSpace(xj.ReasonText),
	}
	if ex.ID == "" {
		ex.ID = generic.NewID()
	}
	return ex, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// check runs struct validation and reports the first failing field.
func (f *Factory) check(v any, kind error) error {
	err := f.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &generic.ValidationError{
			Kind:    kind,
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed %q check", fe.Tag()),
		}
	}
	return &generic.ValidationError{Kind: kind, Field: "body", Message: err.Error()}
}

func parseHours(startRaw, endRaw string, kind error) (generic.ClockTime, generic.ClockTime, error) {
	start, err := generic.ParseClockTime(startRaw)
	if err != nil {
		return generic.ClockTime{}, generic.ClockTime{}, &generic.ValidationError{Kind: kind, Field: "work_start", Message: err.Error()}
	}
	end, err := generic.ParseClockTime(endRaw)
	if err != nil {
		return generic.ClockTime{}, generic.ClockTime{}, &generic.ValidationError{Kind: kind, Field: "work_end", Message: err.Error()}
	}
	if end.Hour*60+end.Minute <= start.Hour*60+start.Minute {
		return generic.ClockTime{}, generic.ClockTime{}, &generic.ValidationError{Kind: kind, Field: "work_end", Message: "must be after work_start"}
	}
	return start, end, nil
}
