/*
engine_test.go - Penalty engine against a real store

Tests for:
- One automatic penalty per lateness record
- Exemption and superseded-record suppression
- Rule selection order
- Daily cap across automatic and manual penalties
- Manual penalty validation
*/
package penalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worktrack/engine/attendance"
	"github.com/worktrack/engine/generic"
	"github.com/worktrack/engine/penalty"
	"github.com/worktrack/engine/store/sqlite"
)

var day = generic.NewDate(2025, time.March, 10)

type fixture struct {
	ctx    context.Context
	store  *sqlite.Store
	engine *penalty.Engine
	emp    attendance.Employee
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		ctx:    context.Background(),
		store:  store,
		engine: penalty.NewEngine(store, nil),
		emp: attendance.Employee{
			ID:         "emp-1",
			ExternalID: "E001",
			FirstName:  "Aziz",
			WorkStart:  generic.NewClockTime(9, 0),
			WorkEnd:    generic.NewClockTime(18, 0),
			Active:     true,
		},
	}
	require.NoError(t, store.SaveEmployee(f.ctx, f.emp))
	return f
}

// late stores a lateness record for the fixture employee on d.
func (f *fixture) late(t *testing.T, d generic.Date, minutes int) attendance.LatenessRecord {
	t.Helper()
	checkIn := generic.NewClockTime(9, minutes).On(d, time.UTC)
	sum := attendance.DailySummary{
		EmployeeID:  f.emp.ID,
		Date:        d,
		Status:      attendance.StatusLate,
		CheckIn:     &checkIn,
		MinutesLate: minutes,
		UpdatedAt:   time.Now().UTC(),
	}
	rec := &attendance.LatenessRecord{
		ID:            generic.NewID(),
		EmployeeID:    f.emp.ID,
		Date:          d,
		MinutesLate:   minutes,
		CheckIn:       checkIn,
		ExpectedStart: generic.NewClockTime(9, 0),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveDailyResult(f.ctx, sum, rec))
	return *rec
}

func (f *fixture) rule(t *testing.T, r penalty.Rule) penalty.Rule {
	t.Helper()
	if r.ID == "" {
		r.ID = generic.NewID()
	}
	if r.Name == "" {
		r.Name = string(r.Type)
	}
	r.Active = true
	require.NoError(t, f.store.SaveRule(f.ctx, r))
	return r
}

func (f *fixture) penalties(t *testing.T) []penalty.Penalty {
	t.Helper()
	ps, err := f.store.ListPenalties(f.ctx, sqlite.PenaltyFilter{EmployeeID: f.emp.ID})
	require.NoError(t, err)
	return ps
}

// =============================================================================
// AUTOMATIC PENALTIES
// =============================================================================

func TestApplyForLateness_CreatesPenalty(t *testing.T) {
	// GIVEN: A per-minute rule and a 12-minute lateness
	f := newFixture(t)
	rule := f.rule(t, penalty.Rule{Type: penalty.RulePerMinute, AmountPerUnit: dec("500")})
	rec := f.late(t, day, 12)

	// WHEN: The engine runs
	p, skip, err := f.engine.ApplyForLateness(f.ctx, rec)

	// THEN: One penalty references the record
	require.NoError(t, err)
	assert.Equal(t, penalty.SkipNone, skip)
	require.NotNil(t, p)
	assert.True(t, p.Amount.Equal(dec("6000")))
	assert.Equal(t, rule.ID, p.RuleID)
	assert.Equal(t, rec.ID, p.LatenessID)
	assert.Equal(t, "Late 12 min on 2025-03-10", p.Reason)
	assert.Equal(t, day, p.PenaltyDate)
	assert.False(t, p.Manual)

	stored := f.penalties(t)
	require.Len(t, stored, 1)
	assert.Equal(t, p.ID, stored[0].ID)
}

func TestApplyForLateness_RunTwice_ChargesOnce(t *testing.T) {
	f := newFixture(t)
	f.rule(t, penalty.Rule{Type: penalty.RuleFixed, AmountPerUnit: dec("10000")})
	rec := f.late(t, day, 20)

	_, _, err := f.engine.ApplyForLateness(f.ctx, rec)
	require.NoError(t, err)
	p, skip, err := f.engine.ApplyForLateness(f.ctx, rec)

	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, penalty.SkipAlreadyCharged, skip)
	assert.Len(t, f.penalties(t), 1)
}

func TestApplyForLateness_ExemptionSuppresses(t *testing.T) {
	f := newFixture(t)
	f.rule(t, penalty.Rule{Type: penalty.RuleFixed, AmountPerUnit: dec("10000")})
	require.NoError(t, f.store.SaveExemption(f.ctx, penalty.Exemption{
		ID:         "ex-1",
		EmployeeID: f.emp.ID,
		From:       day,
		To:         day,
		Reason:     penalty.ReasonBusinessTrip,
	}))
	rec := f.late(t, day, 20)

	p, skip, err := f.engine.ApplyForLateness(f.ctx, rec)

	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, penalty.SkipExempt, skip)
	assert.Empty(t, f.penalties(t))
}

func TestApplyForLateness_SupersededRecordIgnored(t *testing.T) {
	f := newFixture(t)
	f.rule(t, penalty.Rule{Type: penalty.RuleFixed, AmountPerUnit: dec("10000")})
	rec := f.late(t, day, 20)
	now := time.Now()
	rec.SupersededAt = &now

	_, skip, err := f.engine.ApplyForLateness(f.ctx, rec)

	require.NoError(t, err)
	assert.Equal(t, penalty.SkipSuperseded, skip)
	assert.Empty(t, f.penalties(t))
}

func TestApplyForLateness_NoActiveRule(t *testing.T) {
	f := newFixture(t)
	inactive := penalty.Rule{ID: "r-off", Name: "off", Type: penalty.RuleFixed, AmountPerUnit: dec("1")}
	require.NoError(t, f.store.SaveRule(f.ctx, inactive))
	rec := f.late(t, day, 20)

	p, skip, err := f.engine.ApplyForLateness(f.ctx, rec)

	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, penalty.SkipNoActiveRule, skip)
}

func TestApplyForLateness_RuleOrder(t *testing.T) {
	// GIVEN: Three active rules; two share the lowest priority
	f := newFixture(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.rule(t, penalty.Rule{ID: "r-high", Type: penalty.RuleFixed, AmountPerUnit: dec("1"), Priority: 5, CreatedAt: base})
	f.rule(t, penalty.Rule{ID: "r-newer", Type: penalty.RuleFixed, AmountPerUnit: dec("2"), Priority: 1, CreatedAt: base.Add(time.Hour)})
	f.rule(t, penalty.Rule{ID: "r-older", Type: penalty.RuleFixed, AmountPerUnit: dec("3"), Priority: 1, CreatedAt: base.Add(time.Minute)})
	rec := f.late(t, day, 20)

	// WHEN: The engine picks a rule
	p, _, err := f.engine.ApplyForLateness(f.ctx, rec)

	// THEN: Lowest priority wins, ties go to the oldest rule
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "r-older", p.RuleID)
	assert.True(t, p.Amount.Equal(dec("3")))
}

func TestApplyForLateness_DailyCapCountsManualPenalties(t *testing.T) {
	// GIVEN: Cap 10000, 9000 already charged manually, 30 min at 100/min
	f := newFixture(t)
	f.rule(t, penalty.Rule{
		Type:            penalty.RulePerMinute,
		AmountPerUnit:   dec("100"),
		MaxAmountPerDay: decPtr("10000"),
	})
	_, err := f.engine.CreateManual(f.ctx, penalty.ManualInput{
		EmployeeID:  f.emp.ID,
		Amount:      dec("9000"),
		Reason:      "damaged badge",
		PenaltyDate: day,
	})
	require.NoError(t, err)
	rec := f.late(t, day, 30)

	// WHEN: The lateness is charged
	p, _, err := f.engine.ApplyForLateness(f.ctx, rec)

	// THEN: The 3000 penalty is clamped to the remaining 1000
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Amount.Equal(dec("1000")), "got %s", p.Amount)
}

func TestApplyForLateness_DailyCapIsPerDate(t *testing.T) {
	f := newFixture(t)
	f.rule(t, penalty.Rule{
		Type:            penalty.RuleFixed,
		AmountPerUnit:   dec("10000"),
		MaxAmountPerDay: decPtr("10000"),
	})
	first := f.late(t, day, 10)
	second := f.late(t, day.AddDays(1), 10)

	_, _, err := f.engine.ApplyForLateness(f.ctx, first)
	require.NoError(t, err)
	p, skip, err := f.engine.ApplyForLateness(f.ctx, second)

	require.NoError(t, err)
	assert.Equal(t, penalty.SkipNone, skip)
	require.NotNil(t, p)
	assert.True(t, p.Amount.Equal(dec("10000")))
}

func TestApplyForLateness_PercentPenalty(t *testing.T) {
	f := newFixture(t)
	f.rule(t, penalty.Rule{
		Type:             penalty.RulePercentOfSalary,
		ThresholdMinutes: 15,
		PercentLow:       dec("0.5"),
		PercentHigh:      dec("1"),
	})
	rec := f.late(t, day, 15)

	p, _, err := f.engine.ApplyForLateness(f.ctx, rec)

	require.NoError(t, err)
	require.NotNil(t, p)
	require.True(t, p.IsPercent())
	assert.True(t, p.Percent.Equal(dec("0.5")))
	assert.True(t, p.Amount.IsZero())

	stored := f.penalties(t)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].Percent)
	assert.True(t, stored[0].Percent.Equal(dec("0.5")))
}

// =============================================================================
// MANUAL PENALTIES
// =============================================================================

func TestCreateManual_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   penalty.ManualInput
	}{
		{"missing employee", penalty.ManualInput{Amount: dec("100")}},
		{"negative amount", penalty.ManualInput{EmployeeID: f.emp.ID, Amount: dec("-1")}},
		{"zero amount without percent", penalty.ManualInput{EmployeeID: f.emp.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateManual(f.ctx, tt.in)
			assert.ErrorIs(t, err, generic.ErrInvalidInput)
			assert.True(t, generic.IsClientError(err))
		})
	}
}

func TestCreateManual_UnknownEmployee(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateManual(f.ctx, penalty.ManualInput{EmployeeID: "ghost", Amount: dec("100")})

	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestCreateManual_PercentWithoutAmount(t *testing.T) {
	f := newFixture(t)

	p, err := f.engine.CreateManual(f.ctx, penalty.ManualInput{
		EmployeeID:  f.emp.ID,
		Amount:      decimal.Zero,
		Percent:     decPtr("2"),
		PenaltyDate: day,
		CreatedBy:   "admin",
	})

	require.NoError(t, err)
	assert.True(t, p.Manual)
	assert.Empty(t, p.LatenessID)
	assert.Equal(t, "admin", p.CreatedBy)
}
