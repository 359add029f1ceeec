/*
Package generic provides the domain-agnostic primitives of the attendance engine.

PURPOSE:
  Calendar days, clock times, weekday sets, money amounts, report periods and
  the shared error vocabulary. The attendance and penalty packages build on
  these types; generic itself knows nothing about employees or rules.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a decimal amount (never float) used for penalties and caps
  - Percent: a decimal percentage of salary (1 = 1%)
  - ID helpers: uuid-based identifiers for stored rows

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Zone-explicit time: timestamps always carry a location; days are civil
  3. Small surface: only what both domain packages need

SEE ALSO:
  - time.go: Date, ClockTime, WeekdaySet, ParseTimestamp
  - period.go: DateRange and report periods
  - errors.go: Sentinel and structured errors
*/
package generic

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount in the payroll currency
// =============================================================================

type Money = decimal.Decimal

func NewMoney(value int64) Money { return decimal.NewFromInt(value) }

// MustParseDecimal parses s or returns zero. Used for values read back from
// storage, which were written by Decimal.String().
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SumMoney adds amounts without rounding.
func SumMoney(amounts []Money) Money {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NewID returns a fresh random identifier for a stored row.
func NewID() string { return uuid.NewString() }
