package rental_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/interval"
	"github.com/warp/rental-engine/rental"
	"github.com/warp/rental-engine/rental/store"
)

// failingStore fails every agreement lookup for one unit.
type failingStore struct {
	*store.Memory
	failUnit string
}

func (s failingStore) FindAgreements(ctx context.Context, f rental.AgreementFilter) ([]rental.Agreement, error) {
	if f.UnitID == s.failUnit {
		return nil, rental.Infra("find agreements", errors.New("connection reset"))
	}
	return s.Memory.FindAgreements(ctx, f)
}

func TestAvailability_NoAgreements(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")

	res, err := f.availability.CalculateAvailability(f.ctx, "unit-1",
		interval.NewRange(date(2025, time.February, 1), date(2025, time.March, 1)), rental.DefaultAvailabilityOptions())

	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Empty(t, res.Conflicts)
	assert.Nil(t, res.NextAvailable)
}

func TestAvailability_BlockedForWholeImpactWindow(t *testing.T) {
	// GIVEN: an active agreement Jan 10 + 2 months -> [Jan 10, Mar 10)
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.payingVendor(t, "v1")
	f.create(t, input("a1", "v1", "unit-1", "100", date(2025, time.January, 10), 2))

	day := func(d time.Time) interval.Range { return interval.NewRange(d, d.AddDate(0, 0, 1)) }
	opts := rental.DefaultAvailabilityOptions()

	tests := []struct {
		name      string
		rng       interval.Range
		available bool
	}{
		{"day before start", day(date(2025, time.January, 9)), true},
		{"first day", day(date(2025, time.January, 10)), false},
		{"middle", day(date(2025, time.February, 14)), false},
		{"last day", day(date(2025, time.March, 9)), false},
		{"impact end is free", day(date(2025, time.March, 10)), true},
		{"spanning", interval.NewRange(date(2024, time.December, 1), date(2025, time.June, 1)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.availability.CalculateAvailability(f.ctx, "unit-1", tt.rng, opts)
			require.NoError(t, err)
			assert.Equal(t, tt.available, res.Available)
		})
	}
}

func TestAvailability_NextAvailableIsLatestConflictEnd(t *testing.T) {
	// GIVEN: two conflicting agreements ending Feb 15 and Mar 1
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.rawAgreement(t, "a1", "unit-1", rental.StatusActive, date(2025, time.January, 15), date(2025, time.February, 15))
	f.rawAgreement(t, "a2", "unit-1", rental.StatusScheduled, date(2025, time.February, 1), date(2025, time.March, 1))

	// WHEN: asking for a range touching both
	res, err := f.availability.CalculateAvailability(f.ctx, "unit-1",
		interval.NewRange(date(2025, time.February, 1), date(2025, time.February, 20)), rental.DefaultAvailabilityOptions())

	// THEN
	require.NoError(t, err)
	assert.False(t, res.Available)
	require.Len(t, res.Conflicts, 2)
	assert.Equal(t, "a1", res.Conflicts[0].AgreementID)
	assert.Equal(t, rental.StatusScheduled, res.Conflicts[1].Status)
	require.NotNil(t, res.NextAvailable)
	assert.Equal(t, date(2025, time.March, 1), *res.NextAvailable)
}

func TestAvailability_NonBlockingStatusesIgnored(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	for i, status := range []rental.Status{rental.StatusCancelled, rental.StatusExpired, rental.StatusConfirmed} {
		f.rawAgreement(t, "a"+string(rune('1'+i)), "unit-1", status, date(2025, time.January, 1), date(2025, time.April, 1))
	}

	res, err := f.availability.CalculateAvailability(f.ctx, "unit-1",
		interval.NewRange(date(2025, time.February, 1), date(2025, time.March, 1)), rental.DefaultAvailabilityOptions())

	require.NoError(t, err)
	assert.True(t, res.Available)
}

func TestAvailability_PendingBlocks(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.rawAgreement(t, "a1", "unit-1", rental.StatusPending, date(2025, time.January, 1), date(2025, time.April, 1))

	res, err := f.availability.CalculateAvailability(f.ctx, "unit-1",
		interval.NewRange(date(2025, time.March, 31), date(2025, time.April, 2)), rental.DefaultAvailabilityOptions())

	require.NoError(t, err)
	assert.False(t, res.Available)
}

func TestAvailability_OptionsOmitDetails(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.rawAgreement(t, "a1", "unit-1", rental.StatusActive, date(2025, time.January, 1), date(2025, time.April, 1))

	res, err := f.availability.CalculateAvailability(f.ctx, "unit-1",
		interval.NewRange(date(2025, time.February, 1), date(2025, time.March, 1)), rental.AvailabilityOptions{})

	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Nil(t, res.Conflicts)
	assert.Nil(t, res.NextAvailable)
}

func TestAvailability_InvalidInput(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	opts := rental.DefaultAvailabilityOptions()

	_, err := f.availability.CalculateAvailability(f.ctx, "", interval.NewRange(date(2025, time.January, 1), date(2025, time.January, 2)), opts)
	assert.ErrorIs(t, err, rental.ErrValidation)

	_, err = f.availability.CalculateAvailability(f.ctx, "unit-1", interval.NewRange(date(2025, time.January, 2), date(2025, time.January, 2)), opts)
	assert.ErrorIs(t, err, rental.ErrValidation)
}

func TestAvailability_SingleUnitStoreFailurePropagates(t *testing.T) {
	engine := rental.NewAvailabilityEngine(failingStore{Memory: store.NewMemory(), failUnit: "unit-1"}, nil, nil)

	_, err := engine.CalculateAvailability(context.Background(), "unit-1",
		interval.NewRange(date(2025, time.January, 1), date(2025, time.February, 1)), rental.DefaultAvailabilityOptions())

	require.Error(t, err)
	assert.True(t, rental.IsRetryable(err))
}

func TestBatchAvailability_IsolatesFailures(t *testing.T) {
	// GIVEN: three units, lookups for unit-2 fail, unit-3 is booked
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveAgreement(ctx, rental.Agreement{
		ID:             "a3",
		VendorID:       "v1",
		Lines:          []rental.ServiceLine{{UnitID: "unit-3"}},
		Status:         rental.StatusActive,
		ScheduledStart: date(2025, time.January, 1),
		Impact:         interval.NewRange(date(2025, time.January, 1), date(2025, time.March, 1)),
	}))
	engine := rental.NewAvailabilityEngine(failingStore{Memory: mem, failUnit: "unit-2"}, nil, nil)
	engine.MaxConcurrency = 2

	// WHEN
	results := engine.CalculateBatchAvailability(ctx, rental.BatchAvailabilityInput{
		UnitIDs: []string{"unit-1", "unit-2", "unit-3"},
		Range:   interval.NewRange(date(2025, time.February, 1), date(2025, time.February, 10)),
	})

	// THEN: siblings are unaffected, order is preserved
	require.Len(t, results, 3)

	assert.Equal(t, "unit-1", results[0].UnitID)
	assert.True(t, results[0].Available)
	assert.Empty(t, results[0].Error)

	assert.Equal(t, "unit-2", results[1].UnitID)
	assert.False(t, results[1].Available)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, rental.IsRetryable(results[1].Err))

	assert.Equal(t, "unit-3", results[2].UnitID)
	assert.False(t, results[2].Available)
	assert.Empty(t, results[2].Error)
	require.NotNil(t, results[2].Result)
	assert.Len(t, results[2].Result.Conflicts, 1)
}

func TestFindAvailableUnits_FiltersAndAnnotates(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "shelf-1", "shelf")
	f.unit(t, "shelf-2", "shelf")
	f.unit(t, "fridge-1", "fridge")
	f.payingVendor(t, "v1")
	f.create(t, input("a1", "v1", "shelf-1", "100", date(2025, time.January, 1), 3))

	found, err := f.availability.FindAvailableUnits(f.ctx, []string{"shelf"},
		interval.NewRange(date(2025, time.February, 1), date(2025, time.March, 1)), 10)

	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "shelf-2", found[0].Unit.ID)
	assert.True(t, found[0].Availability.Available)
}

func TestFindAvailableUnits_LimitAppliesBeforeFiltering(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "shelf-1", "shelf")
	f.unit(t, "shelf-2", "shelf")
	f.payingVendor(t, "v1")
	f.create(t, input("a1", "v1", "shelf-1", "100", date(2025, time.January, 1), 3))

	found, err := f.availability.FindAvailableUnits(f.ctx, nil,
		interval.NewRange(date(2025, time.February, 1), date(2025, time.March, 1)), 1)

	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFindAvailableUnits_ZeroLimitLoadsEveryUnit(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	for _, id := range []string{"shelf-1", "shelf-2", "shelf-3"} {
		f.unit(t, id, "shelf")
	}
	requested := interval.NewRange(date(2025, time.February, 1), date(2025, time.March, 1))

	found, err := f.availability.FindAvailableUnits(f.ctx, nil, requested, 0)
	require.NoError(t, err)
	assert.Len(t, found, 3)

	_, err = f.availability.FindAvailableUnits(f.ctx, nil, requested, -1)
	assert.True(t, errors.Is(err, rental.ErrValidation))
}
