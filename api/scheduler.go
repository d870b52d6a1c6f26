/*
scheduler.go - Automated monthly revenue recalculation

PURPOSE:
  Recalculates and persists the previous month's revenue on a cron
  schedule, so late changes (cancellations, status transitions) land in the
  stored record once the month has closed.

DESIGN:
  - robfig/cron runs the job on a standard 5-field expression
    (default "0 2 1 * *": 02:00 on the 1st of every month)
  - A failed run is retried once after RetryDelay (default 1h); a failed
    retry waits for the next cron run
  - Every outcome is logged and counted in
    rental_engine_recalculation_job_runs_total{result="ok|retry|failed"}

CONFIGURATION:
  - Schedule:   cron expression
  - RetryDelay: delay before the single retry
  - Enabled:    whether the scheduler is active

USAGE:
  scheduler := NewRevenueScheduler(handler.Revenue, cfg.Scheduler, log)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecalculateRange endpoint (manual recalculation)
  - rental/revenue.go: CalculateMonthlyRevenue
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/interval"
	"github.com/warp/rental-engine/metrics"
	"github.com/warp/rental-engine/rental"
)

// jobTimeout bounds a single recalculation attempt.
const jobTimeout = 5 * time.Minute

// MonthlyRecalculator is the slice of the revenue engine the scheduler needs.
type MonthlyRecalculator interface {
	CalculateMonthlyRevenue(ctx context.Context, year int, month time.Month, includeTrialRevenue bool) (*rental.RevenueResult, error)
}

// RevenueScheduler recalculates the previous month on a cron schedule.
type RevenueScheduler struct {
	Revenue    MonthlyRecalculator
	Schedule   string
	RetryDelay time.Duration
	Enabled    bool
	Logger     *zap.Logger
	Now        func() time.Time

	cron  *cron.Cron
	mu    sync.Mutex
	retry *time.Timer
	wg    sync.WaitGroup
}

// NewRevenueScheduler creates a new scheduler from configuration.
func NewRevenueScheduler(revenue MonthlyRecalculator, cfg config.Scheduler, logger *zap.Logger) *RevenueScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RevenueScheduler{
		Revenue:    revenue,
		Schedule:   cfg.RecalculationCron,
		RetryDelay: cfg.RetryDelay,
		Enabled:    cfg.Enabled,
		Logger:     logger,
		Now:        func() time.Time { return time.Now().UTC() },
		cron:       cron.New(),
	}
}

// Start registers the job and starts the cron loop.
func (rs *RevenueScheduler) Start() error {
	if !rs.Enabled {
		rs.Logger.Info("revenue scheduler disabled, not starting")
		return nil
	}

	if _, err := rs.cron.AddFunc(rs.Schedule, rs.run); err != nil {
		return fmt.Errorf("schedule revenue recalculation %q: %w", rs.Schedule, err)
	}
	rs.cron.Start()

	rs.Logger.Info("revenue scheduler started",
		zap.String("schedule", rs.Schedule),
		zap.Duration("retry_delay", rs.RetryDelay),
		zap.Time("next_run", rs.NextRun()),
	)
	return nil
}

// Stop stops the cron loop, cancels a pending retry and waits for a running job.
func (rs *RevenueScheduler) Stop() {
	<-rs.cron.Stop().Done()

	rs.mu.Lock()
	if rs.retry != nil && rs.retry.Stop() {
		rs.wg.Done()
	}
	rs.retry = nil
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.Logger.Info("revenue scheduler stopped")
}

// NextRun returns when the job fires next; zero when not started.
func (rs *RevenueScheduler) NextRun() time.Time {
	entries := rs.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow recalculates the previous month immediately, without retry.
func (rs *RevenueScheduler) RunNow(ctx context.Context) (*rental.RevenueResult, error) {
	return rs.recalculate(ctx)
}

// run is the cron entry point: one attempt, then at most one delayed retry.
func (rs *RevenueScheduler) run() {
	if rs.attempt() {
		metrics.RecalculationJobRuns.WithLabelValues("ok").Inc()
		return
	}

	metrics.RecalculationJobRuns.WithLabelValues("retry").Inc()
	rs.Logger.Warn("revenue recalculation failed, retrying later", zap.Duration("retry_delay", rs.RetryDelay))

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.wg.Add(1)
	rs.retry = time.AfterFunc(rs.RetryDelay, func() {
		defer rs.wg.Done()
		if rs.attempt() {
			metrics.RecalculationJobRuns.WithLabelValues("ok").Inc()
			return
		}
		metrics.RecalculationJobRuns.WithLabelValues("failed").Inc()
		rs.Logger.Error("revenue recalculation retry failed, waiting for next run", zap.Time("next_run", rs.NextRun()))
	})
}

func (rs *RevenueScheduler) attempt() bool {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	_, err := rs.recalculate(ctx)
	return err == nil
}

func (rs *RevenueScheduler) recalculate(ctx context.Context) (*rental.RevenueResult, error) {
	prev := interval.MonthOf(rs.Now()).Prev()
	start := time.Now()

	result, err := rs.Revenue.CalculateMonthlyRevenue(ctx, prev.Year, prev.Month, false)
	if err != nil {
		rs.Logger.Error("revenue recalculation failed",
			zap.String("month", prev.String()),
			zap.Bool("retryable", rental.IsRetryable(err)),
			zap.Error(err),
		)
		return nil, err
	}

	rs.Logger.Info("revenue recalculated",
		zap.String("month", prev.String()),
		zap.String("total_revenue", result.TotalRevenue.StringFixed(2)),
		zap.Int("paid_count", result.PaidCount),
		zap.Int("trial_count", result.TrialCount),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}
