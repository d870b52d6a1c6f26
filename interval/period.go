package interval

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - inclusive [Start, End] reporting window
// =============================================================================

// Period is an inclusive reporting window. For months, End is the last
// millisecond of the final day.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MonthPeriod returns [first instant, last instant] of the month.
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// PeriodFor returns the month period containing t.
func PeriodFor(t time.Time) Period {
	t = t.UTC()
	return MonthPeriod(t.Year(), t.Month())
}

// Contains returns true if t is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Days is the inclusive calendar-day length of the period.
func (p Period) Days() int { return DaysBetweenInclusive(p.Start, p.End) }

// NextMonth returns the month period following the one that starts p.
func (p Period) NextMonth() Period {
	next := StartOfNextMonth(p.Start)
	return MonthPeriod(next.Year(), next.Month())
}

// Key returns the "2006-01" month key of the period start.
func (p Period) Key() string { return MonthKey(p.Start) }

func (p Period) String() string {
	return "[" + p.Start.Format(time.DateOnly) + ", " + p.End.Format(time.DateOnly) + "]"
}

// =============================================================================
// MONTH KEYS
// =============================================================================

const monthKeyLayout = "2006-01"

// Month identifies a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t (UTC).
func MonthOf(t time.Time) Month {
	t = t.UTC()
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) Start() time.Time { return StartOfMonth(m.Year, m.Month) }
func (m Month) Period() Period   { return MonthPeriod(m.Year, m.Month) }
func (m Month) Next() Month      { return MonthOf(m.Start().AddDate(0, 1, 0)) }
func (m Month) Prev() Month      { return MonthOf(m.Start().AddDate(0, -1, 0)) }
func (m Month) String() string   { return MonthKey(m.Start()) }

// Before reports whether m is strictly earlier than other.
func (m Month) Before(other Month) bool { return m.Start().Before(other.Start()) }

// After reports whether m is strictly later than other.
func (m Month) After(other Month) bool { return m.Start().After(other.Start()) }

// MonthKey formats t as "2006-01".
func MonthKey(t time.Time) string { return t.UTC().Format(monthKeyLayout) }

// ParseMonth parses a "2006-01" key.
func ParseMonth(key string) (Month, error) {
	t, err := time.Parse(monthKeyLayout, key)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q (use YYYY-MM): %w", key, err)
	}
	return MonthOf(t), nil
}

// MonthsInRange lists the months from..to inclusive. Empty when to is before from.
func MonthsInRange(from, to Month) []Month {
	var months []Month
	for m := from; !m.After(to); m = m.Next() {
		months = append(months, m)
	}
	return months
}
