package attendance

import (
	"time"

	"github.com/worktrack/engine/generic"
)

// =============================================================================
// SCHEDULE RESOLUTION
// =============================================================================

// WorkParams is the effective calendar for one employee on one day.
type WorkParams struct {
	Start        generic.ClockTime
	End          generic.ClockTime
	GraceMinutes int
	WorkingDay   bool
	ScheduleID   string // empty when the employee's own fields were used
}

// ResolveSchedule picks the employee's assigned schedule when it is present
// and active, and falls back to the employee's own fields otherwise. Only a
// schedule restricts working days; the fallback treats every day as working.
func ResolveSchedule(emp Employee, sched *WorkSchedule, day generic.Date) WorkParams {
	if sched != nil && sched.Active && emp.ScheduleID != "" && sched.ID == emp.ScheduleID {
		return WorkParams{
			Start:        sched.WorkStart,
			End:          sched.WorkEnd,
			GraceMinutes: sched.GraceMinutes,
			WorkingDay:   sched.WorkingDays.Contains(day.Weekday()),
			ScheduleID:   sched.ID,
		}
	}
	return WorkParams{
		Start:        emp.WorkStart,
		End:          emp.WorkEnd,
		GraceMinutes: emp.GraceMinutes,
		WorkingDay:   true,
	}
}

// Deadline is work start plus grace on day, in loc.
func (p WorkParams) Deadline(day generic.Date, loc *time.Location) time.Time {
	return p.Start.On(day, loc).Add(time.Duration(p.GraceMinutes) * time.Minute)
}

// =============================================================================
// LATENESS
// =============================================================================

// DetectLateness compares checkIn with the grace deadline. Minutes late are
// whole minutes past the deadline (floor), so a check-in 30 seconds past the
// deadline is late by 0 minutes.
func DetectLateness(p WorkParams, day generic.Date, checkIn time.Time, loc *time.Location) (minutesLate int, late bool) {
	if !p.WorkingDay {
		return 0, false
	}
	deadline := p.Deadline(day, loc)
	if !checkIn.After(deadline) {
		return 0, false
	}
	return int(checkIn.Sub(deadline) / time.Minute), true
}
