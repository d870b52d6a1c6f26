package rental_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/cache"
	"github.com/warp/rental-engine/interval"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/rental/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// assertMoney compares decimals rounded to cents.
func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, money(want).Equal(got.Round(2)), "expected %s, got %s", want, got.StringFixed(4))
}

type fixture struct {
	ctx          context.Context
	store        *store.Memory
	cache        *cache.Memory
	now          time.Time
	coordinator  *rental.LifecycleCoordinator
	availability *rental.AvailabilityEngine
	revenue      *rental.RevenueEngine
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: store.NewMemory(),
		cache: cache.NewMemory(),
		now:   now,
	}
	clock := func() time.Time { return f.now }

	f.coordinator = rental.NewLifecycleCoordinator(f.store, f.cache, nil)
	f.coordinator.Now = clock
	f.availability = rental.NewAvailabilityEngine(f.store, f.cache, nil)
	f.revenue = rental.NewRevenueEngine(f.store, f.cache, nil)
	f.revenue.Now = clock
	return f
}

func (f *fixture) unit(t *testing.T, id, unitType string) {
	t.Helper()
	_, err := f.coordinator.RegisterUnit(f.ctx, rental.RentalUnit{
		ID:        id,
		Label:     "Shelf " + id,
		Type:      unitType,
		Available: true,
		BasePrice: money("100"),
	})
	require.NoError(t, err)
}

// payingVendor is a vendor whose trial already converted.
func (f *fixture) payingVendor(t *testing.T, id string) {
	t.Helper()
	_, err := f.coordinator.RegisterVendor(f.ctx, rental.Vendor{ID: id, Name: "Vendor " + id, TrialStatus: rental.TrialConverted})
	require.NoError(t, err)
}

func (f *fixture) trialVendor(t *testing.T, id string, trialEnd time.Time) {
	t.Helper()
	start := trialEnd.AddDate(0, 0, -30)
	_, err := f.coordinator.RegisterVendor(f.ctx, rental.Vendor{
		ID:          id,
		Name:        "Vendor " + id,
		TrialStatus: rental.TrialActive,
		TrialStart:  &start,
		TrialEnd:    &trialEnd,
	})
	require.NoError(t, err)
}

func (f *fixture) create(t *testing.T, in rental.AgreementInput) *rental.Agreement {
	t.Helper()
	a, err := f.coordinator.CreateAgreement(f.ctx, in)
	require.NoError(t, err)
	return a
}

// input is a single-line agreement input.
func input(id, vendorID, unitID, price string, start time.Time, months int) rental.AgreementInput {
	return rental.AgreementInput{
		ID:             id,
		VendorID:       vendorID,
		Lines:          []rental.LineInput{{UnitID: unitID, Price: money(price)}},
		DurationMonths: months,
		Status:         rental.StatusActive,
		ScheduledStart: start,
	}
}

// rawAgreement stores an agreement with an explicit impact interval,
// bypassing the coordinator.
func (f *fixture) rawAgreement(t *testing.T, id, unitID string, status rental.Status, from, to time.Time) {
	t.Helper()
	require.NoError(t, f.store.SaveAgreement(f.ctx, rental.Agreement{
		ID:                id,
		VendorID:          "v-raw",
		Lines:             []rental.ServiceLine{{UnitID: unitID, Start: from, End: to, Price: money("100")}},
		TotalMonthlyPrice: money("100"),
		DurationMonths:    1,
		Status:            status,
		ScheduledStart:    from,
		PaymentStart:      from,
		Impact:            interval.Range{From: from, To: to},
	}))
}
