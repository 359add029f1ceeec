package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/worktrack/engine/generic"
	"github.com/worktrack/engine/penalty"
)

// =============================================================================
// PENALTY RULE STORE
// =============================================================================

const ruleColumns = `id, name, type, amount_per_unit, threshold_minutes, percent_low, percent_high,
	max_amount_per_day, priority, active, created_at, updated_at`

// SaveRule inserts or updates a penalty rule.
func (s *Store) SaveRule(ctx context.Context, r penalty.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO penalty_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			amount_per_unit = excluded.amount_per_unit,
			threshold_minutes = excluded.threshold_minutes,
			percent_low = excluded.percent_low,
			percent_high = excluded.percent_high,
			max_amount_per_day = excluded.max_amount_per_day,
			priority = excluded.priority,
			active = excluded.active,
			updated_at = excluded.updated_at
	`,
		r.ID, r.Name, string(r.Type), r.AmountPerUnit.String(), r.ThresholdMinutes,
		r.PercentLow.String(), r.PercentHigh.String(), nullDecimal(r.MaxAmountPerDay),
		r.Priority, boolInt(r.Active), formatTime(r.CreatedAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

// GetRule retrieves a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*penalty.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanRuleRow(s.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM penalty_rules WHERE id = ?", id))
}

// ActiveRule returns the rule the engine applies: the first active one by
// priority, then creation time, then id.
func (s *Store) ActiveRule(ctx context.Context) (*penalty.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanRuleRow(s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+` FROM penalty_rules
		WHERE active = 1
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT 1
	`))
}

// ListRules returns all rules in selection order.
func (s *Store) ListRules(ctx context.Context) ([]penalty.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM penalty_rules
		ORDER BY active DESC, priority ASC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []penalty.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// DeleteRule removes a rule. Penalties keep their amounts; rule_id is nulled.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM penalty_rules WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res, "rule", id)
}

func scanRuleRow(row *sql.Row) (*penalty.Rule, error) {
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRule(sc scanner) (penalty.Rule, error) {
	var (
		r                             penalty.Rule
		ruleType                      string
		amount, percentLow, percentHi string
		maxPerDay                     sql.NullString
		active                        int
		createdAt, updatedAt          string
	)
	err := sc.Scan(&r.ID, &r.Name, &ruleType, &amount, &r.ThresholdMinutes, &percentLow, &percentHi,
		&maxPerDay, &r.Priority, &active, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	r.Type = penalty.RuleType(ruleType)
	r.AmountPerUnit = generic.MustParseDecimal(amount)
	r.PercentLow = generic.MustParseDecimal(percentLow)
	r.PercentHigh = generic.MustParseDecimal(percentHi)
	r.MaxAmountPerDay = parseNullDecimal(maxPerDay)
	r.Active = active == 1
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// PENALTY STORE
// =============================================================================

const penaltyColumns = `id, employee_id, amount, percent, rule_id, lateness_id, reason, manual,
	penalty_date, created_by, created_at`

// InsertPenalty stores a penalty. A second penalty for the same lateness
// record fails with generic.ErrPenaltyExists.
func (s *Store) InsertPenalty(ctx context.Context, p penalty.Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO penalties (`+penaltyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.EmployeeID, p.Amount.String(), nullDecimal(p.Percent),
		nullString(p.RuleID), nullString(p.LatenessID), p.Reason, boolInt(p.Manual),
		p.PenaltyDate.String(), p.CreatedBy, formatTime(p.CreatedAt),
	)
	switch {
	case err == nil:
		return nil
	case isUniqueConstraintError(err):
		return fmt.Errorf("%w: %s", generic.ErrPenaltyExists, p.LatenessID)
	case isForeignKeyError(err):
		return fmt.Errorf("penalty references a missing employee, rule or lateness record: %w", generic.ErrNotFound)
	default:
		return fmt.Errorf("failed to insert penalty: %w", err)
	}
}

// GetPenalty retrieves a penalty by ID.
func (s *Store) GetPenalty(ctx context.Context, id string) (*penalty.Penalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanPenalty(s.db.QueryRowContext(ctx,
		"SELECT "+penaltyColumns+" FROM penalties WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePenalty changes the admin-editable fields of a penalty. The link to
// the lateness record is never changed.
func (s *Store) UpdatePenalty(ctx context.Context, p penalty.Penalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE penalties
		SET amount = ?, percent = ?, reason = ?, penalty_date = ?
		WHERE id = ?
	`, p.Amount.String(), nullDecimal(p.Percent), p.Reason, p.PenaltyDate.String(), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update penalty: %w", err)
	}
	return requireAffected(res, "penalty", p.ID)
}

// DeletePenalty removes a penalty.
func (s *Store) DeletePenalty(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM penalties WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res, "penalty", id)
}

// PenaltyExistsForLateness reports whether a penalty references the record.
func (s *Store) PenaltyExistsForLateness(ctx context.Context, latenessID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM penalties WHERE lateness_id = ?)", latenessID,
	).Scan(&exists)
	return exists == 1, err
}

// PenaltyAmountsOn returns the amounts charged to an employee on day.
func (s *Store) PenaltyAmountsOn(ctx context.Context, employeeID string, day generic.Date) ([]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT amount FROM penalties WHERE employee_id = ? AND penalty_date = ?",
		employeeID, day.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var amounts []decimal.Decimal
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return nil, err
		}
		amounts = append(amounts, generic.MustParseDecimal(amount))
	}
	return amounts, rows.Err()
}

// PenaltyFilter narrows ListPenalties. Zero values mean "any".
type PenaltyFilter struct {
	EmployeeID string
	From       generic.Date
	To         generic.Date // inclusive
	Manual     *bool
}

// ListPenalties returns penalties newest date first.
func (s *Store) ListPenalties(ctx context.Context, f PenaltyFilter) ([]penalty.Penalty, error) {
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
		where = append(where, "penalty_date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "penalty_date <= ?")
		args = append(args, f.To.String())
	}
	if f.Manual != nil {
		where = append(where, "manual = ?")
		args = append(args, boolInt(*f.Manual))
	}

	query := "SELECT " + penaltyColumns + " FROM penalties"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY penalty_date DESC, created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query penalties: %w", err)
	}
	defer rows.Close()

	var penalties []penalty.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, err
		}
		penalties = append(penalties, p)
	}
	return penalties, rows.Err()
}

func scanPenalty(sc scanner) (penalty.Penalty, error) {
	var (
		p                      penalty.Penalty
		amount                 string
		percent                sql.NullString
		ruleID, latenessID     sql.NullString
		manual                 int
		penaltyDate, createdAt string
	)
	err := sc.Scan(&p.ID, &p.EmployeeID, &amount, &percent, &ruleID, &latenessID, &p.Reason,
		&manual, &penaltyDate, &p.CreatedBy, &createdAt)
	if err != nil {
		return p, err
	}
	p.Amount = generic.MustParseDecimal(amount)
	p.Percent = parseNullDecimal(percent)
	p.RuleID = ruleID.String
	p.LatenessID = latenessID.String
	p.Manual = manual == 1
	p.PenaltyDate = parseDate(penaltyDate)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// EXEMPTION STORE
// =============================================================================

const exemptionColumns = `id, employee_id, date_from, date_to, reason_type, reason_text,
	created_by, created_at`

// SaveExemption inserts or updates an exemption.
func (s *Store) SaveExemption(ctx context.Context, e penalty.Exemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO penalty_exemptions (`+exemptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date_from = excluded.date_from,
			date_to = excluded.date_to,
			reason_type = excluded.reason_type,
			reason_text = excluded.reason_text
	`,
		e.ID, e.EmployeeID, e.From.String(), e.To.String(), string(e.Reason),
		e.ReasonText, e.CreatedBy, formatTime(e.CreatedAt),
	)
	switch {
	case err == nil:
		return nil
	case isForeignKeyError(err):
		return fmt.Errorf("employee %s: %w", e.EmployeeID, generic.ErrNotFound)
	default:
		return fmt.Errorf("failed to save exemption: %w", err)
	}
}

// GetExemption retrieves an exemption by ID.
func (s *Store) GetExemption(ctx context.Context, id string) (*penalty.Exemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := scanExemption(s.db.QueryRowContext(ctx,
		"SELECT "+exemptionColumns+" FROM penalty_exemptions WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListExemptions returns exemptions, optionally for one employee, newest first.
func (s *Store) ListExemptions(ctx context.Context, employeeID string) ([]penalty.Exemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + exemptionColumns + " FROM penalty_exemptions"
	var args []any
	if employeeID != "" {
		query += " WHERE employee_id = ?"
		args = append(args, employeeID)
	}
	query += " ORDER BY date_from DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exemptions []penalty.Exemption
	for rows.Next() {
		e, err := scanExemption(rows)
		if err != nil {
			return nil, err
		}
		exemptions = append(exemptions, e)
	}
	return exemptions, rows.Err()
}

// DeleteExemption removes an exemption.
func (s *Store) DeleteExemption(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM penalty_exemptions WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(res, "exemption", id)
}

// HasExemption reports whether any exemption of the employee covers day.
func (s *Store) HasExemption(ctx context.Context, employeeID string, day generic.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM penalty_exemptions
			WHERE employee_id = ? AND date_from <= ? AND date_to >= ?
		)
	`, employeeID, day.String(), day.String()).Scan(&exists)
	return exists == 1, err
}

func scanExemption(sc scanner) (penalty.Exemption, error) {
	var (
		e                penalty.Exemption
		from, to, reason string
		createdAt        string
	)
	err := sc.Scan(&e.ID, &e.EmployeeID, &from, &to, &reason, &e.ReasonText, &e.CreatedBy, &createdAt)
	if err != nil {
		return e, err
	}
	e.From = parseDate(from)
	e.To = parseDate(to)
	e.Reason = penalty.ExemptionReason(reason)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}
