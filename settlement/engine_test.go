package settlement_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haulpay/settlement-engine/cycle"
	"github.com/haulpay/settlement-engine/settlement"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// testCycle is the window 2025-03-07 00:00 .. 2025-03-14 23:59:59.999,
// paying Monday 2025-03-17 (Friday anchor, 6 business days).
func testCycle() cycle.Cycle {
	return cycle.Schedule{Anchor: time.Friday, BusinessDays: 6}.
		Resolve(time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC))
}

func ts(day, hour, minute int) *time.Time {
	t := time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
	return &t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testDriver() settlement.Driver {
	return settlement.Driver{
		ID:                 "drv-1",
		Name:               "Alice",
		Lease:              dec("1300"),
		DefaultDispatchPct: dec("10"),
	}
}

// inWindowLoad is delivered midweek with an on-time BOL.
func inWindowLoad(id string) settlement.Load {
	return settlement.Load{
		ID:          id,
		DriverID:    "drv-1",
		DeliveredAt: ts(11, 10, 0),
		BOLAt:       ts(11, 12, 30),
		Revenue:     dec("1000"),
		Fuel:        dec("50"),
		Misc:        dec("20"),
	}
}

// =============================================================================
// BOL CUTOFF TESTS
// =============================================================================

func TestEvaluate_BOLExactlyAtCutoff_OnTime(t *testing.T) {
	// GIVEN: Cutoff hour 15
	// WHEN: BOL filed at exactly 15:00
	// THEN: The load is on time

	l := inWindowLoad("l-1")
	l.BOLAt = ts(11, 15, 0)

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)

	assert.False(t, ev.Late)
	assert.True(t, ev.AutoIncluded)
	assert.True(t, ev.Included)
}

func TestEvaluate_BOLOneMinutePastCutoff_Late(t *testing.T) {
	// GIVEN: Cutoff hour 15
	// WHEN: BOL filed at 15:01
	// THEN: The load is late and auto-excluded

	l := inWindowLoad("l-1")
	l.BOLAt = ts(11, 15, 1)

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)

	assert.True(t, ev.Late)
	assert.False(t, ev.AutoIncluded)
	assert.False(t, ev.Included)
}

func TestEvaluate_MissingBOL_Late(t *testing.T) {
	// A load with no BOL timestamp is always late, even in window.

	l := inWindowLoad("l-1")
	l.BOLAt = nil

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)

	assert.True(t, ev.InWindow)
	assert.True(t, ev.Late)
	assert.False(t, ev.Included)
}

func TestEvaluate_BOLBeforeCutoffHour_OnTime(t *testing.T) {
	l := inWindowLoad("l-1")
	l.BOLAt = ts(11, 14, 59)

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)

	assert.False(t, ev.Late)
}

// =============================================================================
// WINDOW TESTS
// =============================================================================

func TestEvaluate_DeliveredOutsideWindow(t *testing.T) {
	// GIVEN: A load delivered after the cycle closed
	// THEN: Not in window, not auto-included

	l := inWindowLoad("l-1")
	l.DeliveredAt = ts(20, 9, 0)

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)

	assert.False(t, ev.InWindow)
	assert.False(t, ev.Included)
}

func TestEvaluate_DeliveredAtWindowEdges(t *testing.T) {
	c := testCycle()
	d := testDriver()

	first := inWindowLoad("l-1")
	first.DeliveredAt = &c.Start
	assert.True(t, settlement.Evaluate(first, d, c, 15).InWindow, "cycle start is in window")

	last := inWindowLoad("l-2")
	last.DeliveredAt = &c.End
	assert.True(t, settlement.Evaluate(last, d, c, 15).InWindow, "cycle end is in window")
}

func TestEvaluate_MissingDeliveredAt_NotInWindow(t *testing.T) {
	l := inWindowLoad("l-1")
	l.DeliveredAt = nil

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)

	assert.False(t, ev.InWindow)
	assert.False(t, ev.Included)
}

// =============================================================================
// OVERRIDE TESTS
// =============================================================================

func TestEvaluate_OverrideInclude_WinsOverLateness(t *testing.T) {
	// GIVEN: A late load the operator forces in
	// THEN: Included despite being late; the auto flag still reports late

	l := inWindowLoad("l-1")
	l.BOLAt = ts(11, 18, 0)
	l.Override = settlement.OverrideInclude

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)

	assert.True(t, ev.Late)
	assert.False(t, ev.AutoIncluded)
	assert.True(t, ev.Included)
}

func TestEvaluate_OverrideExclude_WinsOverEligibility(t *testing.T) {
	l := inWindowLoad("l-1")
	l.Override = settlement.OverrideExclude

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)

	assert.True(t, ev.AutoIncluded)
	assert.False(t, ev.Included)
}

func TestAggregate_ForcedIncludeOutOfWindow_ContributesNothing(t *testing.T) {
	// GIVEN: An out-of-window load forced in by override
	// WHEN: Aggregating
	// THEN: The load shows as included but adds zero to every total

	l := inWindowLoad("l-1")
	l.DeliveredAt = ts(20, 9, 0)
	l.Override = settlement.OverrideInclude

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)
	require.True(t, ev.Included)
	require.False(t, ev.InWindow)

	totals := settlement.Aggregate([]settlement.EvaluatedLoad{ev}, decimal.Zero)

	assert.Equal(t, 0, totals.Loads)
	assert.True(t, totals.Gross.IsZero())
	assert.True(t, totals.Net.IsZero())
}

// =============================================================================
// FEE MATH TESTS
// =============================================================================

func TestEvaluate_DispatchFeeAndNet(t *testing.T) {
	// GIVEN: Revenue 1000, fuel 50, misc 20, dispatch 7.55%
	// THEN: Fee 75.50, net 854.50

	pct := dec("7.55")
	l := inWindowLoad("l-1")
	l.DispatchPct = &pct

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)

	assert.True(t, ev.DispatchFee.Equal(dec("75.5")), "got %s", ev.DispatchFee)
	assert.True(t, ev.Net.Equal(dec("854.5")), "got %s", ev.Net)
	assert.True(t, ev.ResolvedPct.Equal(pct))
}

func TestEvaluate_DispatchPctFallsBackToDriverDefault(t *testing.T) {
	l := inWindowLoad("l-1")
	l.DispatchPct = nil

	ev := settlement.Evaluate(l, testDriver(), testCycle(), 15)

	assert.True(t, ev.ResolvedPct.Equal(dec("10")))
	assert.True(t, ev.DispatchFee.Equal(dec("100")))
}

func TestEvaluate_NoRateAnywhere_ZeroFee(t *testing.T) {
	d := testDriver()
	d.DefaultDispatchPct = decimal.Zero

	ev := settlement.Evaluate(inWindowLoad("l-1"), d, testCycle(), 15)

	assert.True(t, ev.DispatchFee.IsZero())
	assert.True(t, ev.Net.Equal(dec("930")), "net is revenue minus fuel and misc only")
}

// =============================================================================
// AGGREGATION TESTS
// =============================================================================

func TestAggregate_LeaseCanDriveFinalNegative(t *testing.T) {
	// GIVEN: Included nets of 854.50 and 200.00 against a 1300 lease
	// THEN: Final owed is -245.50, not clamped at zero

	d := testDriver()
	c := testCycle()

	pct := dec("7.55")
	l1 := inWindowLoad("l-1")
	l1.DispatchPct = &pct

	zero := decimal.Zero
	l2 := inWindowLoad("l-2")
	l2.Revenue = dec("250")
	l2.Fuel = dec("30")
	l2.Misc = dec("20")
	l2.DispatchPct = &zero

	totals := settlement.Aggregate(settlement.EvaluateAll([]settlement.Load{l1, l2}, d, c, 15), d.Lease)

	assert.Equal(t, 2, totals.Loads)
	assert.True(t, totals.Gross.Equal(dec("1250")))
	assert.True(t, totals.Net.Equal(dec("1054.5")), "got %s", totals.Net)
	assert.True(t, totals.Final.Equal(dec("-245.5")), "got %s", totals.Final)
}

func TestAggregate_SkipsExcludedLoads(t *testing.T) {
	d := testDriver()
	c := testCycle()

	kept := inWindowLoad("l-1")
	dropped := inWindowLoad("l-2")
	dropped.Override = settlement.OverrideExclude

	totals := settlement.Aggregate(settlement.EvaluateAll([]settlement.Load{kept, dropped}, d, c, 15), decimal.Zero)

	assert.Equal(t, 1, totals.Loads)
	assert.True(t, totals.Gross.Equal(dec("1000")))
}

func TestAggregate_NoLoads_FinalIsNegativeLease(t *testing.T) {
	totals := settlement.Aggregate(nil, dec("1300"))

	assert.Equal(t, 0, totals.Loads)
	assert.True(t, totals.Final.Equal(dec("-1300")))
}

// =============================================================================
// ROLLUP TESTS
// =============================================================================

func TestRollup_SortsByNameCaseInsensitive(t *testing.T) {
	c := testCycle()
	drivers := []settlement.Driver{
		{ID: "d-1", Name: "zeke"},
		{ID: "d-2", Name: "Alice"},
		{ID: "d-3", Name: "bob"},
	}

	rows := settlement.Rollup(drivers, nil, c, 15)

	require.Len(t, rows, 3)
	assert.Equal(t, "Alice", rows[0].DriverName)
	assert.Equal(t, "bob", rows[1].DriverName)
	assert.Equal(t, "zeke", rows[2].DriverName)
}

func TestRollup_GroupsLoadsByDriver(t *testing.T) {
	c := testCycle()
	drivers := []settlement.Driver{
		{ID: "d-1", Name: "Alice", Lease: dec("100")},
		{ID: "d-2", Name: "Bob", Lease: dec("200")},
	}

	l1 := inWindowLoad("l-1")
	l1.DriverID = "d-1"
	l2 := inWindowLoad("l-2")
	l2.DriverID = "d-2"
	l3 := inWindowLoad("l-3")
	l3.DriverID = "d-2"

	rows := settlement.Rollup(drivers, []settlement.Load{l1, l2, l3}, c, 15)

	require.Len(t, rows, 2)
	assert.Equal(t, "d-1", rows[0].DriverID)
	assert.Equal(t, 1, rows[0].Loads)
	assert.Equal(t, "d-2", rows[1].DriverID)
	assert.Equal(t, 2, rows[1].Loads)
	assert.True(t, rows[1].Lease.Equal(dec("200")))
}

func TestRollup_DropsLoadsForUnknownDrivers(t *testing.T) {
	c := testCycle()
	drivers := []settlement.Driver{{ID: "d-1", Name: "Alice"}}

	orphan := inWindowLoad("l-1")
	orphan.DriverID = "gone"

	rows := settlement.Rollup(drivers, []settlement.Load{orphan}, c, 15)

	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Loads)
}

func TestRollup_DisplayNameFallsBackToEmail(t *testing.T) {
	c := testCycle()
	drivers := []settlement.Driver{
		{ID: "d-1", Email: "a@example.com"},
		{ID: "d-2"},
	}

	rows := settlement.Rollup(drivers, nil, c, 15)

	require.Len(t, rows, 2)
	assert.Equal(t, "(unnamed)", rows[0].DriverName)
	assert.Equal(t, "a@example.com", rows[1].DriverName)
}

// =============================================================================
// COERCION TESTS
// =============================================================================

func TestParseDecimal(t *testing.T) {
	assert.True(t, settlement.ParseDecimal("12.34").Equal(dec("12.34")))
	assert.True(t, settlement.ParseDecimal("garbage").IsZero())
	assert.True(t, settlement.ParseDecimal("").IsZero())
}

func TestParseOverride(t *testing.T) {
	assert.Equal(t, settlement.OverrideInclude, settlement.ParseOverride("include"))
	assert.Equal(t, settlement.OverrideExclude, settlement.ParseOverride("exclude"))
	assert.Equal(t, settlement.OverrideAuto, settlement.ParseOverride("auto"))
	assert.Equal(t, settlement.OverrideAuto, settlement.ParseOverride(""))
	assert.Equal(t, settlement.OverrideAuto, settlement.ParseOverride("whatever"))
}
