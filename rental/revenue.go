/*
revenue.go - Prorated monthly revenue, historical and projected

PURPOSE:
  Computes how much a reporting month earns by prorating each agreement's
  monthly price over the days it is active (and paying) in that month.

SELECTION (per month):
  status in {active, scheduled}
  AND scheduledStart <= periodEnd
  AND (impact.to >= periodStart OR impact unset)

PARTITION:
  paid  = non-trial, OR trial with paymentStart <= periodEnd
  trial = trial with paymentStart > periodEnd
  Revenue set = paid (+ trial when includeTrialRevenue is set).

PRORATION (linear day fraction):
  revenueStart = max(periodStart, anchor)   anchor = paymentStart for trials,
                                            scheduledStart otherwise
  revenueEnd   = periodEnd, or the last active day (impact.to - 1 day)
                 when that falls inside the period
  revenue      = price x daysActive / daysInPeriod

  Example: price 100, start Jan 10, 1 month
    impact   = [Jan 10, Feb 10)
    January  = 100 x 22 / 31 = 70.97

PER-UNIT BREAKDOWN:
  Lines are prorated against their own bounds and price. Lines of the same
  agreement on the same unit are summed first, so a unit is counted once per
  agreement. Trial-partition agreements only add to TrialCount.

MODES:
  CalculateMonthlyRevenue  historical, upserts the MonthlyRevenueRecord
  CalculateFutureRevenue   projection, memoized, never persisted
*/
package rental

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/rental-engine/interval"
	"github.com/warp/rental-engine/metrics"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// AgreementRevenue is one agreement's contribution to a month.
type AgreementRevenue struct {
	AgreementID string          `json:"agreement_id"`
	VendorName  string          `json:"vendor_name,omitempty"`
	IsTrial     bool            `json:"is_trial"`
	Paid        bool            `json:"paid"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type RevenueResult struct {
	Month               string             `json:"month"` // "2006-01"
	Period              interval.Period    `json:"period"`
	TotalRevenue        decimal.Decimal    `json:"total_revenue"`
	PaidCount           int                `json:"paid_count"`
	TrialCount          int                `json:"trial_count"`
	IncludeTrialRevenue bool               `json:"include_trial_revenue"`
	Agreements          []AgreementRevenue `json:"agreements"`
	Units               []UnitRevenue      `json:"units"`
	IsProjection        bool               `json:"is_projection"`
	CalculatedAt        time.Time          `json:"calculated_at"`
}

// Record converts the result into its persisted form. Money is rounded to
// two places here and nowhere else.
func (r *RevenueResult) Record() MonthlyRevenueRecord {
	units := make([]UnitRevenue, len(r.Units))
	for i, u := range r.Units {
		u.Revenue = u.Revenue.Round(2)
		units[i] = u
	}
	return MonthlyRevenueRecord{
		Month:        r.Period.Start,
		TotalRevenue: r.TotalRevenue.Round(2),
		PaidCount:    r.PaidCount,
		TrialCount:   r.TrialCount,
		Units:        units,
		CalculatedAt: r.CalculatedAt,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type RevenueEngine struct {
	Store    Store
	Cache    Cache
	CacheTTL time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewRevenueEngine(store Store, cache Cache, logger *zap.Logger) *RevenueEngine {
	if cache == nil {
		cache = NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevenueEngine{
		Store:    store,
		Cache:    cache,
		CacheTTL: 15 * time.Minute,
		Logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *RevenueEngine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

// CalculateMonthlyRevenue computes the month and overwrites its persisted
// record. Recomputing over unchanged data yields the same record.
func (e *RevenueEngine) CalculateMonthlyRevenue(ctx context.Context, year int, month time.Month, includeTrialRevenue bool) (*RevenueResult, error) {
	if err := validateMonth(year, month); err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := e.calculate(ctx, interval.MonthPeriod(year, month), includeTrialRevenue)
	if err == nil {
		err = e.Store.UpsertRevenueRecord(ctx, result.Record())
	}
	metrics.RevenueCalculationDuration.WithLabelValues("historical").Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.RevenueCalculations.WithLabelValues("historical", "error").Inc()
		return nil, fmt.Errorf("calculate revenue for %04d-%02d: %w", year, month, err)
	}
	metrics.RevenueCalculations.WithLabelValues("historical", "ok").Inc()

	e.Logger.Info("monthly revenue calculated",
		zap.String("month", result.Month),
		zap.String("total", result.TotalRevenue.StringFixed(2)),
		zap.Int("paid", result.PaidCount),
		zap.Int("trial", result.TrialCount),
	)
	return result, nil
}

// CalculateFutureRevenue runs the same math as CalculateMonthlyRevenue for a
// month that has not been reached yet. Trials are assumed to convert at their
// payment start. Nothing is persisted.
func (e *RevenueEngine) CalculateFutureRevenue(ctx context.Context, year int, month time.Month, includeTrialRevenue bool) (*RevenueResult, error) {
	if err := validateMonth(year, month); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("projection|%04d-%02d|%t", year, month, includeTrialRevenue)
	var cached RevenueResult
	if hit, err := e.Cache.Get(ctx, NamespaceRevenue, key, &cached); err != nil {
		e.Logger.Warn("revenue cache read failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	started := time.Now()
	result, err := e.calculate(ctx, interval.MonthPeriod(year, month), includeTrialRevenue)
	metrics.RevenueCalculationDuration.WithLabelValues("projection").Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.RevenueCalculations.WithLabelValues("projection", "error").Inc()
		return nil, fmt.Errorf("project revenue for %04d-%02d: %w", year, month, err)
	}
	metrics.RevenueCalculations.WithLabelValues("projection", "ok").Inc()
	result.IsProjection = true

	if err := e.Cache.Set(ctx, NamespaceRevenue, key, result, e.CacheTTL); err != nil {
		e.Logger.Warn("revenue cache write failed", zap.String("key", key), zap.Error(err))
	}
	return result, nil
}

func (e *RevenueEngine) calculate(ctx context.Context, period interval.Period, includeTrialRevenue bool) (*RevenueResult, error) {
	agreements, err := e.Store.FindAgreements(ctx, AgreementFilter{
		Statuses:                 RevenueStatuses,
		ScheduledStartOnOrBefore: &period.End,
		ImpactEndsOnOrAfter:      &period.Start,
	})
	if err != nil {
		return nil, fmt.Errorf("find agreements: %w", err)
	}

	paid, trial := PartitionAgreements(agreements, period)

	result := &RevenueResult{
		Month:               period.Key(),
		Period:              period,
		TotalRevenue:        decimal.Zero,
		PaidCount:           len(paid),
		TrialCount:          len(trial),
		IncludeTrialRevenue: includeTrialRevenue,
		CalculatedAt:        e.now(),
	}

	revenueSet := paid
	if includeTrialRevenue {
		revenueSet = append(append([]Agreement(nil), paid...), trial...)
	}
	for i := range revenueSet {
		a := &revenueSet[i]
		amount := ProrateAgreement(a, period)
		result.TotalRevenue = result.TotalRevenue.Add(amount)
		result.Agreements = append(result.Agreements, AgreementRevenue{
			AgreementID: a.ID,
			VendorName:  a.VendorName,
			IsTrial:     a.IsTrial,
			Paid:        i < len(paid),
			Revenue:     amount,
		})
	}

	units, err := e.unitBreakdown(ctx, paid, trial, period)
	if err != nil {
		return nil, err
	}
	result.Units = units
	return result, nil
}

// PartitionAgreements splits agreements into paying and still-in-trial for
// the period. Input order is preserved.
func PartitionAgreements(agreements []Agreement, period interval.Period) (paid, trial []Agreement) {
	for _, a := range agreements {
		if a.IsTrial && a.PaymentStart.After(period.End) {
			trial = append(trial, a)
			continue
		}
		paid = append(paid, a)
	}
	return paid, trial
}

// unitBreakdown resolves every referenced unit in a single lookup, then
// aggregates per (agreement, unit) pair before merging per unit.
func (e *RevenueEngine) unitBreakdown(ctx context.Context, paid, trial []Agreement, period interval.Period) ([]UnitRevenue, error) {
	all := append(append([]Agreement(nil), paid...), trial...)
	ids := lo.Uniq(lo.FlatMap(all, func(a Agreement, _ int) []string { return a.UnitIDs() }))
	if len(ids) == 0 {
		return []UnitRevenue{}, nil
	}

	units, err := e.Store.GetUnits(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve units: %w", err)
	}

	rows := make(map[string]*UnitRevenue, len(ids))
	row := func(unitID string) *UnitRevenue {
		r, ok := rows[unitID]
		if !ok {
			label := unitID
			if u, found := units[unitID]; found && u.Label != "" {
				label = u.Label
			}
			r = &UnitRevenue{UnitID: unitID, Label: label, Revenue: decimal.Zero}
			rows[unitID] = r
		}
		return r
	}

	for i := range paid {
		a := &paid[i]
		perUnit := make(map[string]decimal.Decimal)
		for _, l := range a.Lines {
			perUnit[l.UnitID] = perUnit[l.UnitID].Add(ProrateLine(a, l, period))
		}
		for _, unitID := range a.UnitIDs() {
			r := row(unitID)
			r.Revenue = r.Revenue.Add(perUnit[unitID])
			r.AgreementCount++
		}
	}
	for i := range trial {
		for _, unitID := range trial[i].UnitIDs() {
			row(unitID).TrialCount++
		}
	}

	result := make([]UnitRevenue, 0, len(rows))
	for _, r := range rows {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UnitID < result[j].UnitID })
	return result, nil
}

// =============================================================================
// PRORATION
// =============================================================================

// ProrateAgreement returns the agreement's unrounded revenue for the period.
func ProrateAgreement(a *Agreement, period interval.Period) decimal.Decimal {
	if a.ScheduledStart.After(period.End) {
		return decimal.Zero
	}
	if !a.Impact.IsZero() && !a.Impact.To.After(period.Start) {
		return decimal.Zero
	}
	if a.IsTrial && a.PaymentStart.After(period.End) {
		return decimal.Zero
	}

	start := interval.Later(period.Start, a.RevenueAnchor())
	end := revenueEnd(a.Impact, period)
	return prorate(a.TotalMonthlyPrice, start, end, period)
}

// ProrateLine applies the same formula to a single service line, against the
// line's own bounds and price.
func ProrateLine(a *Agreement, line ServiceLine, period interval.Period) decimal.Decimal {
	if a.IsTrial && a.PaymentStart.After(period.End) {
		return decimal.Zero
	}
	bounds := line.Bounds()
	if !a.Impact.IsZero() {
		bounds = clampRange(bounds, a.Impact)
	}
	if bounds.From.After(period.End) {
		return decimal.Zero
	}
	if !bounds.To.IsZero() && !bounds.To.After(period.Start) {
		return decimal.Zero
	}

	start := interval.Later(period.Start, interval.Later(bounds.From, a.RevenueAnchor()))
	end := revenueEnd(bounds, period)
	return prorate(line.Price, start, end, period)
}

// clampRange intersects r with limit. Unset ends of r take limit's ends.
func clampRange(r, limit interval.Range) interval.Range {
	if r.From.IsZero() || r.From.Before(limit.From) {
		r.From = limit.From
	}
	if r.To.IsZero() || r.To.After(limit.To) {
		r.To = limit.To
	}
	return r
}

func revenueEnd(active interval.Range, period interval.Period) time.Time {
	if active.To.IsZero() {
		return period.End
	}
	if last := active.LastActiveDay(); !last.After(period.End) {
		return last
	}
	return period.End
}

func prorate(price decimal.Decimal, start, end time.Time, period interval.Period) decimal.Decimal {
	if end.Before(start) {
		return decimal.Zero
	}
	daysActive := decimal.NewFromInt(int64(interval.DaysBetweenInclusive(start, end)))
	daysInPeriod := decimal.NewFromInt(int64(period.Days()))
	return price.Mul(daysActive).Div(daysInPeriod)
}

func validateMonth(year int, month time.Month) error {
	if year < 1970 || year > 9999 {
		return invalid("year", "out of range")
	}
	if month < time.January || month > time.December {
		return invalid("month", "must be within 1..12")
	}
	return nil
}
