/*
reconcile.go - Daily reconciliation of raw attendance logs

PURPOSE:
  Reduces all logs of one employee on one calendar day into a DailySummary
  and, when the employee was late, a LatenessRecord.

RULES:
  - Effective check-in  = earliest check_in of the day
  - Effective check-out = latest check_out of the day
  - No check-in         -> absent (leave when exempt, day_off when not a
                           working day), zero working minutes
  - Check-in only       -> missing_check_out, zero working minutes
  - Both                -> working minutes = floor((out - in) / 1 minute)

FULL OVERWRITE:
  Recompute never patches. The summary row for (employee, date) is replaced
  from the complete log set, so re-running after deleting a bad log yields a
  clean summary. A day that is no longer late supersedes its old lateness
  record instead of deleting it.

DAY BOUNDARIES:
  A day is [00:00, next 00:00) in the configured location.

SEE ALSO:
  - schedule.go: ResolveSchedule, DetectLateness
  - ingest.go: Triggers Recompute after each ingested event
  - batch/runner.go: Recomputes every active employee once per day
*/
package attendance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/worktrack/engine/generic"
)

// DayResult is the outcome of evaluating one employee-day.
type DayResult struct {
	Summary  DailySummary
	Lateness *LatenessRecord // nil when not late
	Params   WorkParams
}

// Reconciler recomputes daily summaries.
type Reconciler struct {
	store  Store
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler evaluating days in loc.
func NewReconciler(store Store, loc *time.Location, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, loc: loc, logger: logger, now: time.Now}
}

// Location is the zone days are evaluated in.
func (r *Reconciler) Location() *time.Location { return r.loc }

// Recompute rebuilds and stores the summary for emp on day.
func (r *Reconciler) Recompute(ctx context.Context, emp Employee, day generic.Date) (*DailySummary, error) {
	from, to := day.Bounds(r.loc)
	logs, err := r.store.LogsBetween(ctx, emp.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load logs for %s on %s: %w", emp.ExternalID, day, err)
	}

	var sched *WorkSchedule
	if emp.ScheduleID != "" {
		sched, err = r.store.GetSchedule(ctx, emp.ScheduleID)
		if err != nil {
			return nil, fmt.Errorf("load schedule %s: %w", emp.ScheduleID, err)
		}
	}

	exempt, err := r.store.HasExemption(ctx, emp.ID, day)
	if err != nil {
		return nil, fmt.Errorf("check exemption for %s on %s: %w", emp.ExternalID, day, err)
	}

	result := Evaluate(emp, sched, day, logs, exempt, r.loc)
	result.Summary.UpdatedAt = r.now().UTC()
	if result.Lateness != nil {
		result.Lateness.ID = generic.NewID()
		result.Lateness.CreatedAt = result.Summary.UpdatedAt
	}

	if err := r.store.SaveDailyResult(ctx, result.Summary, result.Lateness); err != nil {
		return nil, fmt.Errorf("save summary for %s on %s: %w", emp.ExternalID, day, err)
	}

	r.logger.Debug("daily summary recomputed",
		zap.String("employee", emp.ExternalID),
		zap.Stringer("date", day),
		zap.String("status", string(result.Summary.Status)),
		zap.Int("minutes_late", result.Summary.MinutesLate),
		zap.Int("logs", len(logs)),
	)
	return &result.Summary, nil
}

// RecomputeEmployee loads the employee by internal id and recomputes day.
func (r *Reconciler) RecomputeEmployee(ctx context.Context, employeeID string, day generic.Date) (*DailySummary, error) {
	emp, err := r.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, fmt.Errorf("employee %s: %w", employeeID, generic.ErrNotFound)
	}
	return r.Recompute(ctx, *emp, day)
}

// DeleteLog removes a wrong log and recomputes the day it belonged to.
func (r *Reconciler) DeleteLog(ctx context.Context, logID string) (*DailySummary, error) {
	log, err := r.store.GetLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("log %s: %w", logID, generic.ErrNotFound)
	}
	if err := r.store.DeleteLog(ctx, logID); err != nil {
		return nil, fmt.Errorf("delete log %s: %w", logID, err)
	}

	day := generic.DateOf(log.Timestamp.In(r.loc))
	r.logger.Info("attendance log deleted",
		zap.String("log_id", logID),
		zap.String("employee_id", log.EmployeeID),
		zap.Stringer("date", day),
	)
	return r.RecomputeEmployee(ctx, log.EmployeeID, day)
}

// =============================================================================
// PURE EVALUATION
// =============================================================================

// Reduce returns the earliest check-in and latest check-out of logs.
// logs need not be sorted.
func Reduce(logs []Log) (checkIn, checkOut *Log) {
	for i := range logs {
		l := &logs[i]
		switch l.EventType {
		case CheckIn:
			if checkIn == nil || l.Timestamp.Before(checkIn.Timestamp) {
				checkIn = l
			}
		case CheckOut:
			if checkOut == nil || l.Timestamp.After(checkOut.Timestamp) {
				checkOut = l
			}
		}
	}
	return checkIn, checkOut
}

// Evaluate computes the day result from the complete log set of the day.
func Evaluate(emp Employee, sched *WorkSchedule, day generic.Date, logs []Log, exempt bool, loc *time.Location) DayResult {
	params := ResolveSchedule(emp, sched, day)
	checkIn, checkOut := Reduce(logs)

	summary := DailySummary{
		EmployeeID: emp.ID,
		Date:       day,
		Status:     StatusAbsent,
	}
	if checkOut != nil {
		out := checkOut.Timestamp
		summary.CheckOut = &out
	}

	if checkIn == nil {
		switch {
		case !params.WorkingDay:
			summary.Status = StatusDayOff
		case exempt:
			summary.Status = StatusLeave
		}
		return DayResult{Summary: summary, Params: params}
	}

	in := checkIn.Timestamp
	summary.CheckIn = &in
	if checkOut == nil {
		summary.MissingCheckOut = true
	} else if worked := checkOut.Timestamp.Sub(in); worked > 0 {
		summary.WorkingMinutes = int(worked / time.Minute)
	}

	if !params.WorkingDay {
		summary.Status = StatusDayOff
		return DayResult{Summary: summary, Params: params}
	}

	minutesLate, late := DetectLateness(params, day, in, loc)
	if !late {
		summary.Status = StatusPresent
		return DayResult{Summary: summary, Params: params}
	}

	summary.Status = StatusLate
	summary.MinutesLate = minutesLate
	return DayResult{
		Summary: summary,
		Params:  params,
		Lateness: &LatenessRecord{
			EmployeeID:    emp.ID,
			Date:          day,
			MinutesLate:   minutesLate,
			CheckIn:       in,
			ExpectedStart: params.Start,
		},
	}
}
