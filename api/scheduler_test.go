package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/rental"
)

type mockRecalculator struct {
	mock.Mock
	attempts atomic.Int32
}

func (m *mockRecalculator) CalculateMonthlyRevenue(ctx context.Context, year int, month time.Month, includeTrialRevenue bool) (*rental.RevenueResult, error) {
	m.attempts.Add(1)
	args := m.Called(ctx, year, month, includeTrialRevenue)
	result, _ := args.Get(0).(*rental.RevenueResult)
	return result, args.Error(1)
}

func newTestScheduler(rev MonthlyRecalculator, cfg config.Scheduler) *RevenueScheduler {
	rs := NewRevenueScheduler(rev, cfg, nil)
	rs.Now = func() time.Time { return testNow }
	return rs
}

func TestRevenueScheduler_RunNowRecalculatesPreviousMonth(t *testing.T) {
	// GIVEN: clock pinned to mid-March
	rev := &mockRecalculator{}
	rev.On("CalculateMonthlyRevenue", mock.Anything, 2025, time.February, false).
		Return(&rental.RevenueResult{TotalRevenue: decimal.NewFromInt(250), PaidCount: 2}, nil).Once()
	rs := newTestScheduler(rev, config.Scheduler{})

	// WHEN
	result, err := rs.RunNow(context.Background())

	// THEN: February is recalculated without trial revenue
	require.NoError(t, err)
	assert.Equal(t, "250.00", result.TotalRevenue.StringFixed(2))
	rev.AssertExpectations(t)
}

func TestRevenueScheduler_RunNowReturnsError(t *testing.T) {
	rev := &mockRecalculator{}
	rev.On("CalculateMonthlyRevenue", mock.Anything, 2025, time.February, false).
		Return(nil, rental.Infra("load agreements", errors.New("database is locked"))).Once()
	rs := newTestScheduler(rev, config.Scheduler{})

	_, err := rs.RunNow(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, rental.ErrInfrastructure))
}

func TestRevenueScheduler_RetriesOnceAfterFailure(t *testing.T) {
	// GIVEN: the first attempt fails, the retry succeeds
	rev := &mockRecalculator{}
	rev.On("CalculateMonthlyRevenue", mock.Anything, 2025, time.February, false).
		Return(nil, errors.New("timeout")).Once()
	rev.On("CalculateMonthlyRevenue", mock.Anything, 2025, time.February, false).
		Return(&rental.RevenueResult{}, nil).Once()
	rs := newTestScheduler(rev, config.Scheduler{RetryDelay: 10 * time.Millisecond})

	// WHEN
	rs.run()

	// THEN: exactly two attempts
	assert.Eventually(t, func() bool {
		return rev.attempts.Load() == 2
	}, time.Second, 5*time.Millisecond)
	rs.Stop()
	rev.AssertExpectations(t)
}

func TestRevenueScheduler_NoRetryOnSuccess(t *testing.T) {
	rev := &mockRecalculator{}
	rev.On("CalculateMonthlyRevenue", mock.Anything, 2025, time.February, false).
		Return(&rental.RevenueResult{}, nil).Once()
	rs := newTestScheduler(rev, config.Scheduler{RetryDelay: time.Millisecond})

	rs.run()
	rs.Stop()

	rev.AssertNumberOfCalls(t, "CalculateMonthlyRevenue", 1)
}

func TestRevenueScheduler_StopCancelsPendingRetry(t *testing.T) {
	// GIVEN: a failure with a retry scheduled far in the future
	rev := &mockRecalculator{}
	rev.On("CalculateMonthlyRevenue", mock.Anything, 2025, time.February, false).
		Return(nil, errors.New("boom")).Once()
	rs := newTestScheduler(rev, config.Scheduler{RetryDelay: time.Hour})

	rs.run()

	// WHEN / THEN: Stop returns without waiting for the retry
	done := make(chan struct{})
	go func() {
		rs.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a pending retry")
	}
	rev.AssertNumberOfCalls(t, "CalculateMonthlyRevenue", 1)
}

func TestRevenueScheduler_Start(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		rs := newTestScheduler(&mockRecalculator{}, config.Scheduler{Enabled: false, RecalculationCron: "not a cron"})
		require.NoError(t, rs.Start())
		assert.True(t, rs.NextRun().IsZero())
		rs.Stop()
	})

	t.Run("invalid expression", func(t *testing.T) {
		rs := newTestScheduler(&mockRecalculator{}, config.Scheduler{Enabled: true, RecalculationCron: "every month"})
		require.Error(t, rs.Start())
	})

	t.Run("valid expression schedules next run", func(t *testing.T) {
		rs := newTestScheduler(&mockRecalculator{}, config.Scheduler{Enabled: true, RecalculationCron: "0 2 1 * *"})
		require.NoError(t, rs.Start())
		defer rs.Stop()

		next := rs.NextRun()
		require.False(t, next.IsZero())
		assert.Equal(t, 1, next.Day())
		assert.Equal(t, 2, next.Hour())
	})
}
