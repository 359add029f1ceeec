// Package penalty implements rule-driven penalties for lateness: rule
// selection, exemptions, per-day caps and manual penalties.
package penalty

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/worktrack/engine/generic"
)

// =============================================================================
// RULES
// =============================================================================

type RuleType string

const (
	RulePerMinute       RuleType = "per_minute"        // minutes late x amount per unit
	RuleFixed           RuleType = "fixed"             // flat amount per lateness
	RulePercentOfSalary RuleType = "percent_of_salary" // tiered percent, resolved by payroll
	RuleCustom          RuleType = "custom"            // flat amount, admin-defined meaning
)

func (t RuleType) Valid() bool {
	switch t {
	case RulePerMinute, RuleFixed, RulePercentOfSalary, RuleCustom:
		return true
	}
	return false
}

// Rule is an admin-configured penalty policy. When several rules are active
// the one with the lowest Priority wins, then the oldest.
type Rule struct {
	ID               string
	Name             string
	Type             RuleType
	AmountPerUnit    decimal.Decimal
	ThresholdMinutes int             // percent_of_salary: tier boundary (inclusive low tier)
	PercentLow       decimal.Decimal // applied when minutes late <= threshold
	PercentHigh      decimal.Decimal // applied when minutes late > threshold
	MaxAmountPerDay  *decimal.Decimal
	Priority         int
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (r Rule) String() string {
	return fmt.Sprintf("%s (%s)", r.Name, r.Type)
}

// =============================================================================
// PENALTIES
// =============================================================================

// Penalty is one charge against an employee. Automatic penalties reference
// the lateness record that triggered them; at most one exists per record.
type Penalty struct {
	ID          string
	EmployeeID  string
	Amount      decimal.Decimal
	Percent     *decimal.Decimal // set for percent_of_salary penalties
	RuleID      string
	LatenessID  string
	Reason      string
	Manual      bool
	PenaltyDate generic.Date
	CreatedBy   string
	CreatedAt   time.Time
}

// IsPercent reports whether the penalty is a salary percentage.
func (p Penalty) IsPercent() bool { return p.Percent != nil }

// =============================================================================
// EXEMPTIONS
// =============================================================================

type ExemptionReason string

const (
	ReasonSickLeave     ExemptionReason = "sick_leave"
	ReasonLeaveApproved ExemptionReason = "leave_approved"
	ReasonBusinessTrip  ExemptionReason = "business_trip"
	ReasonOther         ExemptionReason = "other"
)

func (r ExemptionReason) Valid() bool {
	switch r {
	case ReasonSickLeave, ReasonLeaveApproved, ReasonBusinessTrip, ReasonOther:
		return true
	}
	return false
}

// Exemption suppresses automatic penalties for an inclusive date range.
type Exemption struct {
	ID         string
	EmployeeID string
	From       generic.Date
	To         generic.Date
	Reason     ExemptionReason
	ReasonText string
	CreatedBy  string
	CreatedAt  time.Time
}

func (e Exemption) Range() generic.DateRange {
	return generic.DateRange{From: e.From, To: e.To}
}

func (e Exemption) Covers(d generic.Date) bool { return e.Range().Contains(d) }
