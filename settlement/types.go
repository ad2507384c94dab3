/*
Package settlement evaluates delivered loads against a settlement cycle and
rolls the included ones up into per-driver payout totals.

PURPOSE:
  Given a resolved cycle, a cutoff hour, and a driver's lease and default
  dispatch rate, decide per load whether its revenue counts toward the
  cycle and compute the financial breakdown, then aggregate into the
  amount owed.

KEY CONCEPTS:
  - Load:          one delivered haul (revenue, fuel, misc, dispatch rate)
  - EvaluatedLoad: a Load enriched with eligibility flags and fee math
  - Totals:        per-driver sums over loads that are included AND in window
  - Override:      operator-forced include/exclude, wins over auto

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money and percent math
  2. Degradation over errors: missing dates exclude, bad numbers coerce to 0
  3. Purity: no clock, no storage, no shared state; safe for concurrent use

SEE ALSO:
  - cycle/cycle.go: window resolution
  - engine.go: Evaluate / Aggregate / Rollup
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OVERRIDE - Operator-forced inclusion state
// =============================================================================

// Override is the operator's forced inclusion decision for a load.
// The zero value means "auto": keep the computed eligibility.
type Override string

const (
	OverrideAuto    Override = ""
	OverrideInclude Override = "include"
	OverrideExclude Override = "exclude"
)

// ParseOverride normalizes stored or client-supplied override strings.
// Anything other than the two forced states collapses to auto.
func ParseOverride(s string) Override {
	switch Override(s) {
	case OverrideInclude:
		return OverrideInclude
	case OverrideExclude:
		return OverrideExclude
	default:
		return OverrideAuto
	}
}

// =============================================================================
// DRIVER
// =============================================================================

// Driver is a contract driver as the engine sees one: a weekly lease to
// recover and a default dispatch rate for loads that omit their own.
// Immutable for the duration of any settlement computation.
type Driver struct {
	ID                 string
	Name               string
	Email              string
	Lease              decimal.Decimal
	DefaultDispatchPct decimal.Decimal
	CreatedAt          time.Time
}

// =============================================================================
// LOAD
// =============================================================================

// Load is one delivered haul. DeliveredAt places it in (or out of) a cycle
// window; BOLAt is the bill-of-lading timestamp checked against the cutoff
// hour. Either may be nil when paperwork is missing, and a nil DispatchPct
// defers to the driver's default rate.
type Load struct {
	ID          string
	DriverID    string
	DeliveredAt *time.Time
	BOLAt       *time.Time
	Revenue     decimal.Decimal
	Fuel        decimal.Decimal
	Misc        decimal.Decimal
	DispatchPct *decimal.Decimal
	LoadNo      string
	Origin      string
	Destination string
	Override    Override
}

// =============================================================================
// ENGINE OUTPUT
// =============================================================================

// EvaluatedLoad is a Load enriched with eligibility flags and fee math.
// Included can be true while InWindow is false (a forced override on an
// out-of-window load); only the conjunction feeds aggregation.
type EvaluatedLoad struct {
	Load

	// Resolved dispatch rate actually applied (load, else driver, else 0).
	ResolvedPct decimal.Decimal

	InWindow     bool
	Late         bool
	AutoIncluded bool
	Included     bool

	DispatchFee decimal.Decimal
	Net         decimal.Decimal
}

// Totals is one driver's settlement for a cycle: sums over loads where
// Included && InWindow, and the final amount owed after the lease.
// Final may be negative; it is never clamped.
type Totals struct {
	DriverID   string
	DriverName string
	Loads      int
	Gross      decimal.Decimal
	Fuel       decimal.Decimal
	Misc       decimal.Decimal
	Dispatch   decimal.Decimal
	Net        decimal.Decimal
	Lease      decimal.Decimal
	Final      decimal.Decimal
}

// =============================================================================
// NUMERIC COERCION
// =============================================================================

// ParseDecimal parses a stored money/percent string, coercing anything
// non-numeric to zero. A malformed field must never break a settlement
// display.
func ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
