package generic

import "fmt"

// =============================================================================
// DATE RANGE - Inclusive span of calendar days
// =============================================================================

// DateRange is an inclusive range [From, To]. Exemptions, report windows and
// batch windows are all DateRanges.
type DateRange struct {
	From Date
	To   Date
}

// Validate rejects ranges that end before they start.
func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return fmt.Errorf("%w: both ends required", ErrInvalidRange)
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

// Contains returns true if d is within [From, To].
func (r DateRange) Contains(d Date) bool {
	return d.AfterOrEqual(r.From) && d.BeforeOrEqual(r.To)
}

// Days returns every day in the range, oldest first.
func (r DateRange) Days() []Date {
	var days []Date
	for current := r.From; current.BeforeOrEqual(r.To); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (r DateRange) String() string {
	return "[" + r.From.String() + ", " + r.To.String() + "]"
}

// LastNDays returns the n-day window ending at end (inclusive).
func LastNDays(end Date, n int) DateRange {
	if n < 1 {
		n = 1
	}
	return DateRange{From: end.AddDays(-(n - 1)), To: end}
}

// =============================================================================
// REPORT PERIODS
// =============================================================================

// ReportPeriod selects the reporting window relative to today.
type ReportPeriod string

const (
	PeriodDay   ReportPeriod = "day"   // today only
	PeriodWeek  ReportPeriod = "week"  // last 7 days
	PeriodMonth ReportPeriod = "month" // last 30 days
	PeriodYear  ReportPeriod = "year"  // Jan 1 to today
)

// ParseReportPeriod maps free text to a period; unknown values mean year,
// empty means day.
func ParseReportPeriod(s string) ReportPeriod {
	switch ReportPeriod(s) {
	case "", PeriodDay:
		return PeriodDay
	case PeriodWeek, PeriodMonth:
		return ReportPeriod(s)
	default:
		return PeriodYear
	}
}

// RangeFor returns the window for the period ending today.
func (p ReportPeriod) RangeFor(today Date) DateRange {
	switch p {
	case PeriodDay:
		return DateRange{From: today, To: today}
	case PeriodWeek:
		return LastNDays(today, 7)
	case PeriodMonth:
		return LastNDays(today, 30)
	default:
		return DateRange{From: NewDate(today.Year, 1, 1), To: today}
	}
}
