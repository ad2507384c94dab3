/*
engine.go - Load eligibility and payout aggregation

PURPOSE:
  The inclusion-and-rollup rule. A load counts toward a cycle when it was
  delivered inside the window AND its BOL was filed by the cutoff hour,
  unless the operator forces the decision either way. Included in-window
  loads are summed into per-driver totals and the lease is deducted.

ELIGIBILITY:
  inWindow:     deliveredAt present and within [cycle.Start, cycle.End]
  late:         BOL missing, or filed after cutoffHour (minutes count;
                exactly HH:00 is on time)
  autoIncluded: inWindow && !late
  included:     autoIncluded unless override forces true/false

AGGREGATION:
  Sums run over included && inWindow only. An override can force a load's
  Included flag to true while it stays out of window - such a load shows
  as included but contributes zero to every total.

SEE ALSO:
  - types.go: Load, EvaluatedLoad, Totals
  - cycle/cycle.go: window resolution
*/
package settlement

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/haulpay/settlement-engine/cycle"
)

// DefaultCutoffHour is the stock BOL cutoff (3 PM local).
const DefaultCutoffHour = 15

var oneHundred = decimal.NewFromInt(100)

// =============================================================================
// PER-LOAD EVALUATION
// =============================================================================

// Evaluate computes eligibility flags and the financial breakdown for a
// single load against a resolved cycle. It never fails: missing dates
// degrade toward exclusion and a missing dispatch rate falls back to the
// driver's default, then to zero.
func Evaluate(l Load, d Driver, c cycle.Cycle, cutoffHour int) EvaluatedLoad {
	inWindow := l.DeliveredAt != nil && c.Contains(*l.DeliveredAt)

	// Undocumented loads are late: no BOL means no proof of timely filing.
	late := true
	if l.BOLAt != nil {
		h, m := l.BOLAt.Hour(), l.BOLAt.Minute()
		late = h > cutoffHour || (h == cutoffHour && m > 0)
	}

	autoIncluded := inWindow && !late
	included := autoIncluded
	switch l.Override {
	case OverrideInclude:
		included = true
	case OverrideExclude:
		included = false
	}

	pct := d.DefaultDispatchPct
	if l.DispatchPct != nil {
		pct = *l.DispatchPct
	}

	fee := pct.Div(oneHundred).Mul(l.Revenue)
	net := l.Revenue.Sub(l.Fuel).Sub(l.Misc).Sub(fee)

	return EvaluatedLoad{
		Load:         l,
		ResolvedPct:  pct,
		InWindow:     inWindow,
		Late:         late,
		AutoIncluded: autoIncluded,
		Included:     included,
		DispatchFee:  fee,
		Net:          net,
	}
}

// EvaluateAll evaluates every load for one driver against a cycle.
func EvaluateAll(loads []Load, d Driver, c cycle.Cycle, cutoffHour int) []EvaluatedLoad {
	out := make([]EvaluatedLoad, len(loads))
	for i, l := range loads {
		out[i] = Evaluate(l, d, c, cutoffHour)
	}
	return out
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Aggregate sums evaluated loads into cycle totals for one driver.
// Only loads with Included && InWindow contribute; inclusion alone is not
// enough. Final = Net - lease, negative values preserved.
func Aggregate(loads []EvaluatedLoad, lease decimal.Decimal) Totals {
	t := Totals{
		Gross:    decimal.Zero,
		Fuel:     decimal.Zero,
		Misc:     decimal.Zero,
		Dispatch: decimal.Zero,
		Net:      decimal.Zero,
		Lease:    lease,
	}
	for _, l := range loads {
		if !l.Included || !l.InWindow {
			continue
		}
		t.Loads++
		t.Gross = t.Gross.Add(l.Revenue)
		t.Fuel = t.Fuel.Add(l.Fuel)
		t.Misc = t.Misc.Add(l.Misc)
		t.Dispatch = t.Dispatch.Add(l.DispatchFee)
		t.Net = t.Net.Add(l.Net)
	}
	t.Final = t.Net.Sub(lease)
	return t
}

// =============================================================================
// MULTI-DRIVER ROLLUP
// =============================================================================

// Rollup groups loads by driver, aggregates each independently, and returns
// one Totals row per driver sorted by display name, case-insensitively.
// Loads referencing an unknown driver are dropped (a consistent snapshot
// should not contain them, but a stale fetch must not crash the view).
func Rollup(drivers []Driver, loads []Load, c cycle.Cycle, cutoffHour int) []Totals {
	byDriver := make(map[string][]Load, len(drivers))
	known := make(map[string]Driver, len(drivers))
	for _, d := range drivers {
		known[d.ID] = d
		byDriver[d.ID] = nil
	}
	for _, l := range loads {
		if _, ok := known[l.DriverID]; ok {
			byDriver[l.DriverID] = append(byDriver[l.DriverID], l)
		}
	}

	out := make([]Totals, 0, len(drivers))
	for _, d := range drivers {
		evaluated := EvaluateAll(byDriver[d.ID], d, c, cutoffHour)
		t := Aggregate(evaluated, d.Lease)
		t.DriverID = d.ID
		t.DriverName = displayName(d)
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].DriverName) < strings.ToLower(out[j].DriverName)
	})
	return out
}

func displayName(d Driver) string {
	if d.Name != "" {
		return d.Name
	}
	if d.Email != "" {
		return d.Email
	}
	return "(unnamed)"
}
