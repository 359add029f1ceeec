/*
engine.go - Penalty computation for lateness records

PURPOSE:
  Turns a LatenessRecord into at most one automatic Penalty using the active
  rule, the employee's exemptions and the rule's per-day cap.

EVALUATION ORDER:
  1. Superseded lateness           -> none
  2. Penalty already references it -> none (never double-charge)
  3. Exemption covers the date     -> none
  4. percent_of_salary             -> low/high percent, zero amount
  5. per_minute / fixed / custom   -> amount; <= 0 -> none
  6. Daily cap                     -> skip at/over cap, else clamp to headroom
  7. Persist with reason "Late N min on YYYY-MM-DD"

RULE SELECTION:
  The store returns active rules ordered by priority, then creation time,
  then id. The first one wins.

CONCURRENCY:
  Step 2 is backed by a unique index on penalties(lateness_id); a racing
  insert surfaces as generic.ErrPenaltyExists and is treated as "none".

SEE ALSO:
  - types.go: Rule, Penalty, Exemption
  - batch/runner.go: Applies penalties for every lateness of a day
*/
package penalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/generic"
)

// Store is the persistence the penalty engine needs.
type Store interface {
	// ActiveRule returns the first active rule by (priority, created_at, id),
	// or nil when no rule is active.
	ActiveRule(ctx context.Context) (*Rule, error)
	PenaltyExistsForLateness(ctx context.Context, latenessID string) (bool, error)
	HasExemption(ctx context.Context, employeeID string, day generic.Date) (bool, error)
	// PenaltyAmountsOn returns the amounts of all penalties of the employee
	// whose penalty date is day.
	PenaltyAmountsOn(ctx context.Context, employeeID string, day generic.Date) ([]decimal.Decimal, error)
	// InsertPenalty returns generic.ErrPenaltyExists when the lateness
	// record already has a penalty.
	InsertPenalty(ctx context.Context, p Penalty) error
}

// SkipReason explains why no penalty was created.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipNoActiveRule   SkipReason = "no_active_rule"
	SkipSuperseded     SkipReason = "lateness_superseded"
	SkipAlreadyCharged SkipReason = "already_charged"
	SkipExempt         SkipReason = "exempt"
	SkipNonPositive    SkipReason = "non_positive_amount"
	SkipDailyCap       SkipReason = "daily_cap_reached"
)

// Decision is the pure outcome of applying a rule to minutes late.
type Decision struct {
	Amount  decimal.Decimal
	Percent *decimal.Decimal
	Skip    SkipReason
}

func (d Decision) Creates() bool { return d.Skip == SkipNone }

// Compute applies rule to minutesLate given what the employee was already
// charged on the penalty date. It performs steps 4-6 of the evaluation order.
func Compute(rule Rule, minutesLate int, chargedToday decimal.Decimal) Decision {
	if rule.Type == RulePercentOfSalary {
		pct := rule.PercentHigh
		if minutesLate <= rule.ThresholdMinutes {
			pct = rule.PercentLow
		}
		return Decision{Amount: decimal.Zero, Percent: &pct}
	}

	var amount decimal.Decimal
	switch rule.Type {
	case RulePerMinute:
		amount = decimal.NewFromInt(int64(minutesLate)).Mul(rule.AmountPerUnit)
	default:
		amount = rule.AmountPerUnit
	}
	if !amount.IsPositive() {
		return Decision{Skip: SkipNonPositive}
	}

	if rule.MaxAmountPerDay != nil {
		limit := *rule.MaxAmountPerDay
		if chargedToday.GreaterThanOrEqual(limit) {
			return Decision{Skip: SkipDailyCap}
		}
		if headroom := limit.Sub(chargedToday); amount.GreaterThan(headroom) {
			amount = headroom
		}
	}
	return Decision{Amount: amount}
}

// LatenessReason is the reason text stored on automatic penalties.
func LatenessReason(minutesLate int, day generic.Date) string {
	return fmt.Sprintf("Late %d min on %s", minutesLate, day)
}

// Engine applies penalty rules.
type Engine struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(store Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger, now: time.Now}
}

// ApplyForLateness creates the automatic penalty for a lateness record. It
// returns (nil, reason, nil) when no penalty is due.
func (e *Engine) ApplyForLateness(ctx context.Context, lateness attendance.LatenessRecord) (*Penalty, SkipReason, error) {
	if lateness.Superseded() {
		return nil, SkipSuperseded, nil
	}

	rule, err := e.store.ActiveRule(ctx)
	if err != nil {
		return nil, SkipNone, fmt.Errorf("load active rule: %w", err)
	}
	if rule == nil {
		return nil, SkipNoActiveRule, nil
	}

	charged, err := e.store.PenaltyExistsForLateness(ctx, lateness.ID)
	if err != nil {
		return nil, SkipNone, fmt.Errorf("check existing penalty: %w", err)
	}
	if charged {
		return nil, SkipAlreadyCharged, nil
	}

	exempt, err := e.store.HasExemption(ctx, lateness.EmployeeID, lateness.Date)
	if err != nil {
		return nil, SkipNone, fmt.Errorf("check exemption: %w", err)
	}
	if exempt {
		return nil, SkipExempt, nil
	}

	chargedToday := decimal.Zero
	if rule.Type != RulePercentOfSalary && rule.MaxAmountPerDay != nil {
		amounts, err := e.store.PenaltyAmountsOn(ctx, lateness.EmployeeID, lateness.Date)
		if err != nil {
			return nil, SkipNone, fmt.Errorf("sum penalties for day: %w", err)
		}
		chargedToday = generic.SumMoney(amounts)
	}

	decision := Compute(*rule, lateness.MinutesLate, chargedToday)
	if !decision.Creates() {
		e.logger.Debug("no penalty for lateness",
			zap.String("lateness_id", lateness.ID),
			zap.String("reason", string(decision.Skip)),
		)
		return nil, decision.Skip, nil
	}

	p := Penalty{
		ID:          generic.NewID(),
		EmployeeID:  lateness.EmployeeID,
		Amount:      decision.Amount,
		Percent:     decision.Percent,
		RuleID:      rule.ID,
		LatenessID:  lateness.ID,
		Reason:      LatenessReason(lateness.MinutesLate, lateness.Date),
		PenaltyDate: lateness.Date,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.store.InsertPenalty(ctx, p); err != nil {
		if errors.Is(err, generic.ErrPenaltyExists) {
			return nil, SkipAlreadyCharged, nil
		}
		return nil, SkipNone, fmt.Errorf("insert penalty: %w", err)
	}

	e.logger.Info("penalty created",
		zap.String("penalty_id", p.ID),
		zap.String("employee_id", p.EmployeeID),
		zap.Stringer("date", p.PenaltyDate),
		zap.String("amount", p.Amount.String()),
		zap.String("rule", rule.Name),
	)
	return &p, SkipNone, nil
}

// =============================================================================
// MANUAL PENALTIES
// =============================================================================

// ManualInput is an admin-entered penalty.
type ManualInput struct {
	EmployeeID  string
	Amount      decimal.Decimal
	Percent     *decimal.Decimal
	Reason      string
	PenaltyDate generic.Date
	CreatedBy   string
}

// CreateManual stores a manual penalty. Manual penalties are not linked to a
// lateness record and are not subject to the daily cap.
func (e *Engine) CreateManual(ctx context.Context, in ManualInput) (*Penalty, error) {
	if in.EmployeeID == "" {
		return nil, &generic.ValidationError{Kind: generic.ErrInvalidInput, Field: "employee_id", Message: "required"}
	}
	if in.Amount.IsNegative() || (in.Amount.IsZero() && in.Percent == nil) {
		return nil, &generic.ValidationError{Kind: generic.ErrInvalidInput, Field: "amount", Message: "must be positive unless a percent is given"}
	}
	if in.PenaltyDate.IsZero() {
		in.PenaltyDate = generic.DateOf(e.now())
	}
	p := Penalty{
		ID:          generic.NewID(),
		EmployeeID:  in.EmployeeID,
		Amount:      in.Amount,
		Percent:     in.Percent,
		Reason:      in.Reason,
		Manual:      true,
		PenaltyDate: in.PenaltyDate,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.store.InsertPenalty(ctx, p); err != nil {
		return nil, fmt.Errorf("insert manual penalty: %w", err)
	}
	return &p, nil
}
