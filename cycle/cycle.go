/*
Package cycle computes recurring settlement cycles.

PURPOSE:
  A settlement cycle is the recurring pay window for contract drivers:
  it starts at midnight of an anchor weekday, spans a fixed number of
  business days (weekday-only, no holiday calendar), and pays out on the
  first business day after the window closes.

KEY CONCEPTS:
  - Schedule: anchor weekday + business-day length (the configuration)
  - Cycle:    one resolved window {Start, End, PayDate}
  - Resolve:  the cycle containing a reference date
  - List:     consecutive prior cycles, most recent first

DESIGN:
  Everything here is a pure function of its inputs. No clock reads, no
  shared state, no error paths: Resolve is defined for every finite date.
  Callers supply the reference date explicitly so results are restartable
  and safe to compute concurrently.

SEE ALSO:
  - settlement/engine.go: consumes Cycle for per-load eligibility
*/
package cycle

import (
	"strings"
	"time"
)

// =============================================================================
// SCHEDULE - Cycle configuration
// =============================================================================

// Defaults used when a deployment has no stored settings.
const (
	DefaultAnchor       = time.Friday
	DefaultBusinessDays = 6
)

// Schedule defines how cycles recur: which weekday opens a window and how
// many business days it spans. BusinessDays must be >= 1.
type Schedule struct {
	Anchor       time.Weekday
	BusinessDays int
}

// DefaultSchedule returns the stock Friday/6-business-day schedule.
func DefaultSchedule() Schedule {
	return Schedule{Anchor: DefaultAnchor, BusinessDays: DefaultBusinessDays}
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday maps a lowercase weekday name to a time.Weekday.
// Unrecognized input falls back to the Friday default rather than erroring:
// settings are display-layer data and must never break a settlement view.
func ParseWeekday(s string) time.Weekday {
	if w, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return w
	}
	return DefaultAnchor
}

// WeekdayName returns the lowercase name used in settings storage.
func WeekdayName(w time.Weekday) string {
	return strings.ToLower(w.String())
}

// =============================================================================
// CYCLE - One resolved settlement window
// =============================================================================

// Cycle is a single settlement window. Start is midnight of the anchor
// weekday, End is the last instant of the closing business day, and PayDate
// is midnight of the first business day strictly after End.
// Invariant: Start <= End < PayDate.
type Cycle struct {
	Start   time.Time
	End     time.Time
	PayDate time.Time
}

// Contains reports whether t falls within [Start, End].
func (c Cycle) Contains(t time.Time) bool {
	return !t.Before(c.Start) && !t.After(c.End)
}

// =============================================================================
// BUSINESS-DAY HELPERS
// =============================================================================

// IsBusinessDay reports whether d is a weekday (Mon-Fri).
func IsBusinessDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func startOfDay(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

func endOfDay(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, int(999*time.Millisecond), d.Location())
}

// previousWeekday walks backward one day at a time to the most recent date
// on the target weekday (possibly d itself), normalized to midnight.
func previousWeekday(d time.Time, target time.Weekday) time.Time {
	for d.Weekday() != target {
		d = d.AddDate(0, 0, -1)
	}
	return startOfDay(d)
}

// addBusinessDaysInclusive advances from start until n business days have
// been counted. The start day itself always counts as day 1 regardless of
// weekday; only subsequent days must be business days to increment the
// count. Returns the last instant of the closing day.
func addBusinessDaysInclusive(start time.Time, n int) time.Time {
	d := start
	count := 1
	for count < n {
		d = d.AddDate(0, 0, 1)
		if IsBusinessDay(d) {
			count++
		}
	}
	return endOfDay(d)
}

// nextBusinessDay returns midnight of the first business day strictly
// after d.
func nextBusinessDay(d time.Time) time.Time {
	for {
		d = d.AddDate(0, 0, 1)
		if IsBusinessDay(d) {
			return startOfDay(d)
		}
	}
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolve returns the cycle containing ref.
//
// The naive window is derived by walking backward to the anchor weekday and
// advancing the business-day count. When ref lands outside that window the
// reference is re-anchored one period over and resolution retries: a
// re-anchored reference is a midnight anchor date, which always sits inside
// its own naive window, so the recursion settles after at most one retry.
func (s Schedule) Resolve(ref time.Time) Cycle {
	start := previousWeekday(ref, s.Anchor)
	end := addBusinessDaysInclusive(start, s.businessDays())

	if ref.Before(start) {
		return s.Resolve(start.AddDate(0, 0, -7))
	}
	if ref.After(end) {
		return s.Resolve(start.AddDate(0, 0, 7))
	}
	return Cycle{Start: start, End: end, PayDate: nextBusinessDay(end)}
}

// List returns count consecutive cycles ordered most-recent-first, ending
// with the cycle containing from and walking backward one anchor period
// (7 days) at a time.
func (s Schedule) List(count int, from time.Time) []Cycle {
	out := make([]Cycle, 0, count)
	start := s.Resolve(from).Start
	for i := 0; i < count; i++ {
		end := addBusinessDaysInclusive(start, s.businessDays())
		out = append(out, Cycle{Start: start, End: end, PayDate: nextBusinessDay(end)})
		start = start.AddDate(0, 0, -7)
	}
	return out
}

func (s Schedule) businessDays() int {
	if s.BusinessDays < 1 {
		return DefaultBusinessDays
	}
	return s.BusinessDays
}
