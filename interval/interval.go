/*
Package interval provides the date-range math shared by the availability and
revenue engines.

PURPOSE:
  Everything here is pure: no I/O, no clock. Both engines read the same
  impact-interval representation, so overlap tests and day counting live in
  one place.

KEY CONCEPTS:
  - Range:  half-open [From, To). Used for impact intervals and requested
            booking windows. Touching ranges do NOT overlap.
  - Period: inclusive [Start, End]. Used for reporting periods, where End is
            the last instant of the month.

DAY COUNTING:
  DaysBetweenInclusive counts calendar days. Both ends are normalized to the
  start of their day before the ceil(diff/day)+1 formula is applied, so
  [Jan 1 00:00, Jan 31 23:59:59.999] is 31 days and [Jan 10, Jan 31] is 22.

MONTH ARITHMETIC:
  AddMonths uses time.AddDate, i.e. host calendar rollover. Jan 31 + 1 month
  is Mar 3 (Mar 2 in leap years). This is inherited as-is.

SEE ALSO:
  - period.go: Period and month helpers
  - rental/revenue.go: proration formula built on these helpers
*/
package interval

import (
	"errors"
	"math"
	"time"
)

// Day is the length of one calendar day in UTC.
const Day = 24 * time.Hour

// ErrInvalidRange is returned when a range ends at or before its start.
var ErrInvalidRange = errors.New("invalid range: end must be after start")

// =============================================================================
// RANGE - half-open [From, To)
// =============================================================================

// Range is a half-open date range [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewRange builds a range, normalizing both ends to UTC.
func NewRange(from, to time.Time) Range {
	return Range{From: from.UTC(), To: to.UTC()}
}

// Overlaps reports whether a and b share at least one instant.
// Symmetric: Overlaps(a, b) == Overlaps(b, a).
func Overlaps(a, b Range) bool {
	return a.From.Before(b.To) && a.To.After(b.From)
}

// Overlaps is the method form of Overlaps.
func (r Range) Overlaps(other Range) bool { return Overlaps(r, other) }

// Contains reports whether t is inside [From, To).
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// IsZero reports whether the range was never set.
func (r Range) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

// Validate returns ErrInvalidRange unless To is after From.
func (r Range) Validate() error {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return ErrInvalidRange
	}
	return nil
}

// LastActiveDay is the last calendar day covered by the range (To - 1 day).
func (r Range) LastActiveDay() time.Time { return r.To.Add(-Day) }

func (r Range) String() string {
	return "[" + r.From.Format(time.DateOnly) + ", " + r.To.Format(time.DateOnly) + ")"
}

// =============================================================================
// ARITHMETIC
// =============================================================================

// AddMonths adds n months with host rollover semantics (see package doc).
func AddMonths(t time.Time, n int) time.Time { return t.AddDate(0, n, 0) }

// DaysBetweenInclusive counts the calendar days from start to end, both included.
// Returns 0 when end falls on a day before start.
func DaysBetweenInclusive(start, end time.Time) int {
	s, e := StartOfDay(start), StartOfDay(end)
	if e.Before(s) {
		return 0
	}
	return int(math.Ceil(e.Sub(s).Hours()/24)) + 1
}

// MonthsBetween returns the number of month boundaries between from and to.
// Only used for labels and bookkeeping.
func MonthsBetween(from, to time.Time) int {
	from, to = from.UTC(), to.UTC()
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}

// =============================================================================
// NORMALIZATION
// =============================================================================

func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(Day - time.Millisecond)
}

func StartOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns the last millisecond of the month.
func EndOfMonth(year int, month time.Month) time.Time {
	return StartOfMonth(year, month).AddDate(0, 1, 0).Add(-time.Millisecond)
}

func StartOfNextMonth(t time.Time) time.Time {
	t = t.UTC()
	return StartOfMonth(t.Year(), t.Month()).AddDate(0, 1, 0)
}

func IsSameDay(a, b time.Time) bool { return StartOfDay(a).Equal(StartOfDay(b)) }

// Later returns the later of a and b.
func Later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
