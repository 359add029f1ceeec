/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the database with realistic
  data for demos. Each scenario creates a schedule, employees, a penalty
  rule and the check-ins of the most recent working day, so the daily
  batch has something to charge.

AVAILABLE SCENARIOS:
  office-per-minute:  Office hours, per-minute rule with a daily cap
  salary-tiers:       Percent-of-salary rule with a 15 minute threshold
  sick-leave:         Fixed rule, one late employee covered by an exemption
  empty:              Clean database, nothing seeded

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create schedule, employees and rule via the factory JSON shapes
 3. Ingest check-in/check-out events for the demo day
    (the last Monday-to-Friday day up to today)

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "office-per-minute"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - factory/factory.go: JSON definitions
  - attendance/ingest.go: Events go through normal ingestion
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "office-per-minute",
		Name:        "Office, per-minute penalties",
		Description: "Mon-Fri 09:00-18:00 with 5 min grace; 1000 per late minute capped at 50000 a day",
	},
	{
		ID:          "salary-tiers",
		Name:        "Salary tiers",
		Description: "0.5% of salary up to 15 minutes late, 1% beyond",
	},
	{
		ID:          "sick-leave",
		Name:        "Sick leave exemption",
		Description: "Fixed 20000 per lateness; one late employee is on sick leave",
	},
	{
		ID:          "empty",
		Name:        "Empty",
		Description: "Clean database",
	},
}

// ListScenarios returns all available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": nil})
}

// LoadScenario resets the database and seeds a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.loadScenario(r.Context(), "empty"); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context, generic.Date) error
	switch id {
	case "office-per-minute":
		load = h.loadOfficeScenario
	case "salary-tiers":
		load = h.loadSalaryTiersScenario
	case "sick-leave":
		load = h.loadSickLeaveScenario
	case "empty":
		load = func(context.Context, generic.Date) error { return nil }
	default:
		return &generic.ValidationError{Kind: generic.ErrInvalidInput, Field: "scenario_id", Message: fmt.Sprintf("unknown scenario %q", id)}
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	day := lastWeekday(h.today())
	if err := load(ctx, day); err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.logger.Info("scenario loaded", zap.String("scenario", id), zap.Stringer("demo_day", day))
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadOfficeScenario(ctx context.Context, day generic.Date) error {
	sched, err := h.seedSchedule(ctx, officeScheduleJSON)
	if err != nil {
		return err
	}
	if err := h.seedRule(ctx, `{
		"name": "Per minute",
		"type": "per_minute",
		"amount_per_unit": "1000",
		"max_amount_per_day": "50000"
	}`); err != nil {
		return err
	}

	staff := []struct {
		json   string
		events []seedEvent
	}{
		{employeeJSON("E001", "Aziz", "Karimov", sched.ID, "@aziz"), []seedEvent{
			{attendance.CheckIn, "08:55"}, {attendance.CheckOut, "18:05"},
		}},
		{employeeJSON("E002", "Dilnoza", "Rahimova", sched.ID, "@dilnoza"), []seedEvent{
			{attendance.CheckIn, "09:20"}, {attendance.CheckOut, "18:30"},
		}},
		{employeeJSON("E003", "Bekzod", "Tursunov", sched.ID, ""), []seedEvent{
			{attendance.CheckIn, "10:30"},
		}},
		{employeeJSON("E004", "Malika", "Yusupova", sched.ID, ""), nil},
	}
	for _, s := range staff {
		emp, err := h.seedEmployee(ctx, s.json)
		if err != nil {
			return err
		}
		if err := h.seedEvents(ctx, *emp, day, s.events...); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSalaryTiersScenario(ctx context.Context, day generic.Date) error {
	sched, err := h.seedSchedule(ctx, officeScheduleJSON)
	if err != nil {
		return err
	}
	if err := h.seedRule(ctx, `{
		"name": "Salary tiers",
		"type": "percent_of_salary",
		"threshold_minutes": 15,
		"percent_low": "0.5",
		"percent_high": "1"
	}`); err != nil {
		return err
	}

	slightly, err := h.seedEmployee(ctx, employeeJSON("E101", "Sardor", "Aliyev", sched.ID, "@sardor"))
	if err != nil {
		return err
	}
	very, err := h.seedEmployee(ctx, employeeJSON("E102", "Nodira", "Qodirova", sched.ID, ""))
	if err != nil {
		return err
	}
	if err := h.seedEvents(ctx, *slightly, day, seedEvent{attendance.CheckIn, "09:15"}, seedEvent{attendance.CheckOut, "18:00"}); err != nil {
		return err
	}
	return h.seedEvents(ctx, *very, day, seedEvent{attendance.CheckIn, "09:50"}, seedEvent{attendance.CheckOut, "18:40"})
}

func (h *Handler) loadSickLeaveScenario(ctx context.Context, day generic.Date) error {
	sched, err := h.seedSchedule(ctx, officeScheduleJSON)
	if err != nil {
		return err
	}
	if err := h.seedRule(ctx, `{"name": "Flat fee", "type": "fixed", "amount_per_unit": "20000"}`); err != nil {
		return err
	}

	sick, err := h.seedEmployee(ctx, employeeJSON("E201", "Jamshid", "Ergashev", sched.ID, ""))
	if err != nil {
		return err
	}
	late, err := h.seedEmployee(ctx, employeeJSON("E202", "Gulnora", "Saidova", sched.ID, "@gulnora"))
	if err != nil {
		return err
	}

	ex, err := h.Factory.ParseExemption([]byte(fmt.Sprintf(`{
		"employee_id": %q,
		"date_from": %q,
		"date_to": %q,
		"reason_type": "sick_leave",
		"reason_text": "Doctor's note"
	}`, sick.ID, day.AddDays(-1).String(), day.AddDays(1).String())))
	if err != nil {
		return err
	}
	ex.CreatedBy = "scenario"
	if err := h.Store.SaveExemption(ctx, *ex); err != nil {
		return err
	}

	if err := h.seedEvents(ctx, *sick, day, seedEvent{attendance.CheckIn, "11:00"}); err != nil {
		return err
	}
	return h.seedEvents(ctx, *late, day, seedEvent{attendance.CheckIn, "09:35"}, seedEvent{attendance.CheckOut, "18:00"})
}

// =============================================================================
// HELPERS
// =============================================================================

const officeScheduleJSON = `{
	"name": "Office",
	"work_start": "09:00",
	"work_end": "18:00",
	"grace_minutes": 5,
	"working_days": [1, 2, 3, 4, 5]
}`

func employeeJSON(externalID, first, last, scheduleID, telegram string) string {
	return fmt.Sprintf(`{
		"employee_id": %q,
		"first_name": %q,
		"last_name": %q,
		"department": "Operations",
		"schedule_id": %q,
		"telegram_username": %q
	}`, externalID, first, last, scheduleID, telegram)
}

type seedEvent struct {
	eventType attendance.EventType
	clock     string
}

func (h *Handler) seedSchedule(ctx context.Context, js string) (*attendance.WorkSchedule, error) {
	sched, err := h.Factory.ParseSchedule([]byte(js))
	if err != nil {
		return nil, err
	}
	return sched, h.Store.SaveSchedule(ctx, *sched)
}

func (h *Handler) seedEmployee(ctx context.Context, js string) (*attendance.Employee, error) {
	emp, err := h.Factory.ParseEmployee([]byte(js))
	if err != nil {
		return nil, err
	}
	return emp, h.Store.SaveEmployee(ctx, *emp)
}

func (h *Handler) seedRule(ctx context.Context, js string) error {
	rule, err := h.Factory.ParseRule([]byte(js))
	if err != nil {
		return err
	}
	return h.Store.SaveRule(ctx, *rule)
}

// seedEvents ingests events at the given clock times of day. An employee
// without events still gets a summary for the day.
func (h *Handler) seedEvents(ctx context.Context, emp attendance.Employee, day generic.Date, events ...seedEvent) error {
	if len(events) == 0 {
		_, err := h.Reconciler.Recompute(ctx, emp, day)
		return err
	}
	for _, ev := range events {
		clock, err := generic.ParseClockTime(ev.clock)
		if err != nil {
			return err
		}
		_, err = h.Ingestor.Ingest(ctx, attendance.Event{
			Identifier: emp.ExternalID,
			EventType:  ev.eventType,
			Time:       clock.On(day, h.loc),
			Source:     attendance.SourceAPI,
		})
		if err != nil {
			return fmt.Errorf("seed %s %s: %w", emp.ExternalID, ev.eventType, err)
		}
	}
	return nil
}

// lastWeekday returns d, or the closest Monday-to-Friday day before it.
func lastWeekday(d generic.Date) generic.Date {
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDays(-1)
	}
	return d
}
