/*
analytics.go - Reporting built on top of the revenue engine

PURPOSE:
  Thin aggregations over persisted MonthlyRevenueRecords and projections.
  None of these carry their own revenue math; they call
  CalculateMonthlyRevenue / CalculateFutureRevenue or read stored records.

MULTI-MONTH LOOPS:
  CalculateRevenueRange, RefreshAllRevenueData and GetCombinedRevenue walk
  months with a plain for loop. Each month is computed and persisted before
  the next one starts, so logs come out in month order and a failure stops
  the walk at the failing month.

HISTORICAL VS PROJECTED:
  GetCombinedRevenue compares each month to the engine clock:
    month <= current month  -> CalculateMonthlyRevenue (persisted)
    month >  current month  -> CalculateFutureRevenue (projection)
*/
package rental

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/rental-engine/interval"
)

var hundred = decimal.NewFromInt(100)

// =============================================================================
// TYPES
// =============================================================================

// MonthAmount is a month paired with a revenue figure.
type MonthAmount struct {
	Month   string          `json:"month"`
	Revenue decimal.Decimal `json:"revenue"`
}

type RevenueStatistics struct {
	From           string          `json:"from"`
	To             string          `json:"to"`
	Months         int             `json:"months"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
	AverageRevenue decimal.Decimal `json:"average_revenue"`
	BestMonth      *MonthAmount    `json:"best_month,omitempty"`
	WorstMonth     *MonthAmount    `json:"worst_month,omitempty"`
	PaidCount      int             `json:"paid_count"`
	TrialCount     int             `json:"trial_count"`
}

// TrendPoint is one month of a revenue trend. Growth is month-over-month in
// percent and is nil when the previous month earned nothing.
type TrendPoint struct {
	Month   string           `json:"month"`
	Revenue decimal.Decimal  `json:"revenue"`
	Growth  *decimal.Decimal `json:"growth,omitempty"`
}

type OccupancyAnalysis struct {
	Month         string          `json:"month"`
	TotalUnits    int             `json:"total_units"`
	OccupiedUnits int             `json:"occupied_units"`
	OccupancyRate decimal.Decimal `json:"occupancy_rate"` // percent
	TopPerformers []UnitRevenue   `json:"top_performers"`
	VacantUnits   []RentalUnit    `json:"vacant_units"`
	IsProjection  bool            `json:"is_projection"`
}

type YearOverYearMonth struct {
	Month    time.Month       `json:"month"`
	Current  decimal.Decimal  `json:"current"`
	Previous decimal.Decimal  `json:"previous"`
	Growth   *decimal.Decimal `json:"growth,omitempty"`
}

type YearOverYear struct {
	Year          int                 `json:"year"`
	Months        []YearOverYearMonth `json:"months"`
	CurrentTotal  decimal.Decimal     `json:"current_total"`
	PreviousTotal decimal.Decimal     `json:"previous_total"`
	Growth        *decimal.Decimal    `json:"growth,omitempty"`
}

// PipelineMonth groups agreements starting in the same future month.
type PipelineMonth struct {
	Month          string          `json:"month"`
	Agreements     int             `json:"agreements"`
	TrialCount     int             `json:"trial_count"`
	CommittedValue decimal.Decimal `json:"committed_monthly_value"`
	AgreementIDs   []string        `json:"agreement_ids"`
}

type RefreshSummary struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Months int    `json:"months"`
}

// =============================================================================
// RANGES
// =============================================================================

// GetRevenueRange returns persisted records with from <= month <= to.
func (e *RevenueEngine) GetRevenueRange(ctx context.Context, from, to interval.Month) ([]MonthlyRevenueRecord, error) {
	if to.Before(from) {
		return nil, invalid("to", "must not be before from")
	}
	records, err := e.Store.ListRevenueRecords(ctx, from.Start(), to.Start())
	if err != nil {
		return nil, fmt.Errorf("list revenue records: %w", err)
	}
	return records, nil
}

// CalculateRevenueRange recalculates and persists every month in [from, to],
// one month at a time.
func (e *RevenueEngine) CalculateRevenueRange(ctx context.Context, from, to interval.Month, includeTrialRevenue bool) ([]RevenueResult, error) {
	if to.Before(from) {
		return nil, invalid("to", "must not be before from")
	}

	var results []RevenueResult
	for _, m := range interval.MonthsInRange(from, to) {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.CalculateMonthlyRevenue(ctx, m.Year, m.Month, includeTrialRevenue)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// RefreshAllRevenueData recalculates every month from the earliest scheduled
// start up to the current month.
func (e *RevenueEngine) RefreshAllRevenueData(ctx context.Context) (*RefreshSummary, error) {
	agreements, err := e.Store.FindAgreements(ctx, AgreementFilter{})
	if err != nil {
		return nil, fmt.Errorf("find agreements: %w", err)
	}
	if len(agreements) == 0 {
		e.Logger.Info("no agreements, nothing to refresh")
		return &RefreshSummary{}, nil
	}

	earliest := lo.MinBy(agreements, func(a, b Agreement) bool { return a.ScheduledStart.Before(b.ScheduledStart) })
	from := interval.MonthOf(earliest.ScheduledStart)
	to := interval.MonthOf(e.now())
	if to.Before(from) {
		// Everything starts in the future: nothing historical to persist.
		return &RefreshSummary{}, nil
	}

	e.Logger.Info("refreshing revenue history", zap.Stringer("from", from), zap.Stringer("to", to))
	results, err := e.CalculateRevenueRange(ctx, from, to, false)
	if err != nil {
		return nil, err
	}
	return &RefreshSummary{From: from.String(), To: to.String(), Months: len(results)}, nil
}

// GetCombinedRevenue stitches historical months and projected months into a
// single series.
func (e *RevenueEngine) GetCombinedRevenue(ctx context.Context, from, to interval.Month) ([]RevenueResult, error) {
	if to.Before(from) {
		return nil, invalid("to", "must not be before from")
	}

	current := interval.MonthOf(e.now())
	var results []RevenueResult
	for _, m := range interval.MonthsInRange(from, to) {
		var (
			res *RevenueResult
			err error
		)
		if m.After(current) {
			res, err = e.CalculateFutureRevenue(ctx, m.Year, m.Month, true)
		} else {
			res, err = e.CalculateMonthlyRevenue(ctx, m.Year, m.Month, false)
		}
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// =============================================================================
// STATISTICS & TRENDS
// =============================================================================

func (e *RevenueEngine) GetRevenueStatistics(ctx context.Context, from, to interval.Month) (*RevenueStatistics, error) {
	records, err := e.GetRevenueRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	stats := &RevenueStatistics{
		From:           from.String(),
		To:             to.String(),
		Months:         len(records),
		TotalRevenue:   decimal.Zero,
		AverageRevenue: decimal.Zero,
	}
	for _, rec := range records {
		point := MonthAmount{Month: interval.MonthKey(rec.Month), Revenue: rec.TotalRevenue}
		stats.TotalRevenue = stats.TotalRevenue.Add(rec.TotalRevenue)
		stats.PaidCount += rec.PaidCount
		stats.TrialCount += rec.TrialCount
		if stats.BestMonth == nil || rec.TotalRevenue.GreaterThan(stats.BestMonth.Revenue) {
			best := point
			stats.BestMonth = &best
		}
		if stats.WorstMonth == nil || rec.TotalRevenue.LessThan(stats.WorstMonth.Revenue) {
			worst := point
			stats.WorstMonth = &worst
		}
	}
	if len(records) > 0 {
		stats.AverageRevenue = stats.TotalRevenue.Div(decimal.NewFromInt(int64(len(records)))).Round(2)
	}
	return stats, nil
}

// GetRevenueTrend returns the last n months (ending with the current month)
// of persisted revenue. Months without a record count as zero.
func (e *RevenueEngine) GetRevenueTrend(ctx context.Context, n int) ([]TrendPoint, error) {
	if n < 1 {
		return nil, invalid("months", "must be at least 1")
	}
	to := interval.MonthOf(e.now())
	from := interval.MonthOf(interval.AddMonths(to.Start(), -(n - 1)))

	records, err := e.GetRevenueRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	byMonth := revenueByMonth(records)

	points := make([]TrendPoint, 0, n)
	for i, m := range interval.MonthsInRange(from, to) {
		point := TrendPoint{Month: m.String(), Revenue: byMonth[m.String()]}
		if i > 0 {
			point.Growth = growth(point.Revenue, points[i-1].Revenue)
		}
		points = append(points, point)
	}
	return points, nil
}

// CompareYearOverYear compares every month of year with the same month of
// the previous year, from persisted records.
func (e *RevenueEngine) CompareYearOverYear(ctx context.Context, year int) (*YearOverYear, error) {
	if err := validateMonth(year, time.January); err != nil {
		return nil, err
	}
	records, err := e.GetRevenueRange(ctx,
		interval.Month{Year: year - 1, Month: time.January},
		interval.Month{Year: year, Month: time.December})
	if err != nil {
		return nil, err
	}
	byMonth := revenueByMonth(records)

	yoy := &YearOverYear{Year: year, CurrentTotal: decimal.Zero, PreviousTotal: decimal.Zero}
	for m := time.January; m <= time.December; m++ {
		current := byMonth[interval.Month{Year: year, Month: m}.String()]
		previous := byMonth[interval.Month{Year: year - 1, Month: m}.String()]
		yoy.Months = append(yoy.Months, YearOverYearMonth{
			Month:    m,
			Current:  current,
			Previous: previous,
			Growth:   growth(current, previous),
		})
		yoy.CurrentTotal = yoy.CurrentTotal.Add(current)
		yoy.PreviousTotal = yoy.PreviousTotal.Add(previous)
	}
	yoy.Growth = growth(yoy.CurrentTotal, yoy.PreviousTotal)
	return yoy, nil
}

func revenueByMonth(records []MonthlyRevenueRecord) map[string]decimal.Decimal {
	byMonth := make(map[string]decimal.Decimal, len(records))
	for _, rec := range records {
		byMonth[interval.MonthKey(rec.Month)] = rec.TotalRevenue
	}
	return byMonth
}

// growth returns (current-previous)/previous in percent, nil when previous is zero.
func growth(current, previous decimal.Decimal) *decimal.Decimal {
	if previous.IsZero() {
		return nil
	}
	g := current.Sub(previous).Div(previous).Mul(hundred).Round(2)
	return &g
}

// =============================================================================
// OCCUPANCY
// =============================================================================

// GetOccupancyAnalysis reports occupancy for a historical month. The stored
// record is used when present, otherwise the month is calculated.
func (e *RevenueEngine) GetOccupancyAnalysis(ctx context.Context, year int, month time.Month, top int) (*OccupancyAnalysis, error) {
	if err := validateMonth(year, month); err != nil {
		return nil, err
	}

	monthStart := interval.StartOfMonth(year, month)
	rec, err := e.Store.GetRevenueRecord(ctx, monthStart)
	if err != nil {
		return nil, fmt.Errorf("get revenue record: %w", err)
	}
	var breakdown []UnitRevenue
	if rec != nil {
		breakdown = rec.Units
	} else {
		res, err := e.CalculateMonthlyRevenue(ctx, year, month, false)
		if err != nil {
			return nil, err
		}
		breakdown = res.Units
	}
	return e.occupancy(ctx, interval.MonthKey(monthStart), breakdown, top, false)
}

// GetProjectedOccupancy reports occupancy for a future month from a projection
// that includes in-progress trials.
func (e *RevenueEngine) GetProjectedOccupancy(ctx context.Context, year int, month time.Month, top int) (*OccupancyAnalysis, error) {
	res, err := e.CalculateFutureRevenue(ctx, year, month, true)
	if err != nil {
		return nil, err
	}
	return e.occupancy(ctx, res.Month, res.Units, top, true)
}

func (e *RevenueEngine) occupancy(ctx context.Context, month string, breakdown []UnitRevenue, top int, projection bool) (*OccupancyAnalysis, error) {
	total, err := e.Store.CountUnits(ctx, UnitFilter{})
	if err != nil {
		return nil, fmt.Errorf("count units: %w", err)
	}
	units, err := e.Store.FindUnits(ctx, UnitFilter{})
	if err != nil {
		return nil, fmt.Errorf("find units: %w", err)
	}

	occupied := lo.Filter(breakdown, func(u UnitRevenue, _ int) bool {
		return u.AgreementCount > 0 || u.TrialCount > 0
	})
	occupiedIDs := lo.SliceToMap(occupied, func(u UnitRevenue) (string, bool) { return u.UnitID, true })

	performers := append([]UnitRevenue(nil), occupied...)
	sort.SliceStable(performers, func(i, j int) bool {
		return performers[i].Revenue.GreaterThan(performers[j].Revenue)
	})
	if top > 0 && len(performers) > top {
		performers = performers[:top]
	}

	analysis := &OccupancyAnalysis{
		Month:         month,
		TotalUnits:    total,
		OccupiedUnits: len(occupied),
		OccupancyRate: decimal.Zero,
		TopPerformers: performers,
		VacantUnits:   lo.Filter(units, func(u RentalUnit, _ int) bool { return !occupiedIDs[u.ID] }),
		IsProjection:  projection,
	}
	if total > 0 {
		analysis.OccupancyRate = decimal.NewFromInt(int64(len(occupied))).
			Div(decimal.NewFromInt(int64(total))).Mul(hundred).Round(2)
	}
	return analysis, nil
}

// =============================================================================
// PIPELINE
// =============================================================================

// GetFutureContractPipeline groups agreements scheduled to start within the
// next n months by their start month.
func (e *RevenueEngine) GetFutureContractPipeline(ctx context.Context, n int) ([]PipelineMonth, error) {
	if n < 1 {
		return nil, invalid("months", "must be at least 1")
	}
	now := e.now()
	until := interval.AddMonths(now, n)

	agreements, err := e.Store.FindAgreements(ctx, AgreementFilter{
		Statuses:                 BlockingStatuses,
		ScheduledStartOnOrAfter:  &now,
		ScheduledStartOnOrBefore: &until,
	})
	if err != nil {
		return nil, fmt.Errorf("find agreements: %w", err)
	}

	grouped := lo.GroupBy(agreements, func(a Agreement) string { return interval.MonthKey(a.ScheduledStart) })
	keys := lo.Keys(grouped)
	sort.Strings(keys)

	pipeline := make([]PipelineMonth, 0, len(keys))
	for _, key := range keys {
		month := PipelineMonth{Month: key, CommittedValue: decimal.Zero}
		for _, a := range grouped[key] {
			month.Agreements++
			if a.IsTrial {
				month.TrialCount++
			}
			month.CommittedValue = month.CommittedValue.Add(a.TotalMonthlyPrice)
			month.AgreementIDs = append(month.AgreementIDs, a.ID)
		}
		pipeline = append(pipeline, month)
	}
	return pipeline, nil
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportRevenueCSV renders persisted records as key,value rows followed by a
// summary block.
func (e *RevenueEngine) ExportRevenueCSV(ctx context.Context, from, to interval.Month) (string, error) {
	stats, err := e.GetRevenueStatistics(ctx, from, to)
	if err != nil {
		return "", err
	}
	records, err := e.GetRevenueRange(ctx, from, to)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{"key", "value"}}
	for _, rec := range records {
		key := interval.MonthKey(rec.Month)
		rows = append(rows,
			[]string{key + ".total_revenue", rec.TotalRevenue.StringFixed(2)},
			[]string{key + ".paid_count", strconv.Itoa(rec.PaidCount)},
			[]string{key + ".trial_count", strconv.Itoa(rec.TrialCount)},
		)
		for _, u := range rec.Units {
			rows = append(rows, []string{key + ".unit." + u.UnitID, u.Revenue.StringFixed(2)})
		}
	}
	rows = append(rows,
		[]string{"summary.months", strconv.Itoa(stats.Months)},
		[]string{"summary.total_revenue", stats.TotalRevenue.StringFixed(2)},
		[]string{"summary.average_revenue", stats.AverageRevenue.StringFixed(2)},
	)
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}
	return buf.String(), nil
}
