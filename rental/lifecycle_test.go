package rental_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/interval"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// CREATE
// =============================================================================

func TestCreateAgreement_UnknownVendor(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")

	_, err := f.coordinator.CreateAgreement(f.ctx, input("a1", "ghost", "unit-1", "100", date(2025, time.January, 1), 1))

	require.Error(t, err)
	assert.True(t, rental.IsNotFound(err))
	var nf *rental.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "vendor", nf.Kind)
}

func TestCreateAgreement_UnknownUnit(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.payingVendor(t, "v1")

	_, err := f.coordinator.CreateAgreement(f.ctx, input("a1", "v1", "ghost-unit", "100", date(2025, time.January, 1), 1))

	assert.True(t, rental.IsNotFound(err))
}

func TestCreateAgreement_NonTrialVendor(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.payingVendor(t, "v1")

	a := f.create(t, input("a1", "v1", "unit-1", "100", date(2025, time.January, 20), 2))

	assert.False(t, a.IsTrial)
	assert.Equal(t, a.ScheduledStart, a.PaymentStart)
	assert.Equal(t, date(2025, time.March, 20), a.Impact.To)
	assert.Equal(t, "Vendor v1", a.VendorName)

	unit, err := f.store.GetUnit(f.ctx, "unit-1")
	require.NoError(t, err)
	assert.False(t, unit.Available)
}

func TestCreateAgreement_PreregisteredVendorIsPromoted(t *testing.T) {
	// GIVEN: a preregistered vendor
	now := date(2025, time.January, 1)
	f := newFixture(t, now)
	f.unit(t, "unit-1", "shelf")
	_, err := f.coordinator.RegisterVendor(f.ctx, rental.Vendor{ID: "v1", Name: "Fresh"})
	require.NoError(t, err)

	// WHEN: it books for the first time
	a := f.create(t, input("a1", "v1", "unit-1", "100", date(2025, time.January, 5), 1))

	// THEN: the booking itself is not a trial, the vendor now is
	assert.False(t, a.IsTrial)
	v, err := f.store.GetVendor(f.ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, rental.TrialActive, v.TrialStatus)
	require.NotNil(t, v.TrialStart)
	assert.Equal(t, now, *v.TrialStart)
	require.NotNil(t, v.TrialEnd)
	assert.Equal(t, now.Add(30*24*time.Hour), *v.TrialEnd)
}

func TestCreateAgreement_TrialPaymentStartNeverBeforeStart(t *testing.T) {
	// GIVEN: trial ends Jan 20 but the booking starts Feb 1
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.trialVendor(t, "v1", date(2025, time.January, 20))

	a := f.create(t, input("a1", "v1", "unit-1", "100", date(2025, time.February, 1), 1))

	assert.True(t, a.IsTrial)
	assert.Equal(t, a.ScheduledStart, a.PaymentStart)
	assert.Equal(t, date(2025, time.April, 1), a.Impact.To)
}

func TestCreateAgreement_SecondTrialBookingConflicts(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.unit(t, "unit-2", "shelf")
	f.trialVendor(t, "v1", date(2025, time.February, 1))
	f.create(t, input("a1", "v1", "unit-1", "100", date(2025, time.January, 1), 1))

	_, err := f.coordinator.CreateAgreement(f.ctx, input("a2", "v1", "unit-2", "100", date(2025, time.January, 1), 1))

	assert.ErrorIs(t, err, rental.ErrConflict)
}

func TestCreateAgreement_OverlapLeftToAvailabilityCheck(t *testing.T) {
	// GIVEN: unit-1 booked Jan 1 for 2 months
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.payingVendor(t, "v1")
	f.payingVendor(t, "v2")
	f.create(t, input("a1", "v1", "unit-1", "100", date(2025, time.January, 1), 2))

	// WHEN: another vendor books an overlapping window without checking first
	f.create(t, input("a2", "v2", "unit-1", "90", date(2025, time.February, 1), 1))

	// THEN: creation does not refuse it; availability reports both holders
	result, err := f.availability.CalculateAvailability(f.ctx, "unit-1",
		interval.NewRange(date(2025, time.February, 1), date(2025, time.February, 15)), rental.DefaultAvailabilityOptions())
	require.NoError(t, err)
	assert.False(t, result.Available)
	assert.Len(t, result.Conflicts, 2)
}

func TestCreateAgreement_InvalidatesAvailabilityCache(t *testing.T) {
	// GIVEN: a memoized "available" answer
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.payingVendor(t, "v1")
	rng := interval.NewRange(date(2025, time.February, 1), date(2025, time.February, 2))

	res, err := f.availability.CalculateAvailability(f.ctx, "unit-1", rng, rental.DefaultAvailabilityOptions())
	require.NoError(t, err)
	require.True(t, res.Available)

	// WHEN: an agreement covering the range is created
	f.create(t, input("a1", "v1", "unit-1", "100", date(2025, time.January, 1), 3))

	// THEN: the next read sees the conflict
	res, err = f.availability.CalculateAvailability(f.ctx, "unit-1", rng, rental.DefaultAvailabilityOptions())
	require.NoError(t, err)
	assert.False(t, res.Available)
}

// =============================================================================
// TRIAL CANCELLATION
// =============================================================================

func TestCancelTrialBooking_FreesUnits(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.trialVendor(t, "v1", date(2025, time.February, 1))
	f.create(t, input("a1", "v1", "unit-1", "150", date(2025, time.January, 1), 1))

	f.now = date(2025, time.January, 10)
	a, err := f.coordinator.CancelTrialBooking(f.ctx, "a1", "v1")

	require.NoError(t, err)
	assert.Equal(t, rental.StatusCancelled, a.Status)
	assert.True(t, a.CancelledDuringTrial)
	require.NotNil(t, a.TrialCancelledAt)
	assert.Equal(t, date(2025, time.January, 10), *a.TrialCancelledAt)

	unit, err := f.store.GetUnit(f.ctx, "unit-1")
	require.NoError(t, err)
	assert.True(t, unit.Available)

	res, err := f.availability.CalculateAvailability(f.ctx, "unit-1",
		interval.NewRange(date(2025, time.January, 15), date(2025, time.January, 16)), rental.DefaultAvailabilityOptions())
	require.NoError(t, err)
	assert.True(t, res.Available)
}

func TestCancelTrialBooking_Rejections(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.unit(t, "unit-2", "shelf")
	f.payingVendor(t, "paying")
	f.trialVendor(t, "trial", date(2025, time.February, 1))
	f.create(t, input("regular", "paying", "unit-1", "100", date(2025, time.January, 1), 1))
	f.create(t, input("trial-booking", "trial", "unit-2", "100", date(2025, time.January, 1), 1))

	tests := []struct {
		name        string
		agreementID string
		vendorID    string
		now         time.Time
		wantErr     error
	}{
		{"missing agreement", "nope", "trial", date(2025, time.January, 5), rental.ErrNotFound},
		{"not a trial booking", "regular", "paying", date(2025, time.January, 5), rental.ErrConflict},
		{"other vendor", "trial-booking", "paying", date(2025, time.January, 5), rental.ErrConflict},
		{"trial already ended", "trial-booking", "trial", date(2025, time.February, 2), rental.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.now = tt.now
			_, err := f.coordinator.CancelTrialBooking(f.ctx, tt.agreementID, tt.vendorID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCancelTrialBooking_Twice(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.trialVendor(t, "v1", date(2025, time.February, 1))
	f.create(t, input("a1", "v1", "unit-1", "150", date(2025, time.January, 1), 1))

	_, err := f.coordinator.CancelTrialBooking(f.ctx, "a1", "v1")
	require.NoError(t, err)
	_, err = f.coordinator.CancelTrialBooking(f.ctx, "a1", "v1")
	assert.ErrorIs(t, err, rental.ErrConflict)
}

// =============================================================================
// TRIAL ELIGIBILITY
// =============================================================================

func TestCanMakeTrialBooking(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 10))
	f.unit(t, "unit-1", "shelf")
	_, err := f.coordinator.RegisterVendor(f.ctx, rental.Vendor{ID: "prereg", Name: "P"})
	require.NoError(t, err)
	f.trialVendor(t, "trial", date(2025, time.February, 1))
	f.trialVendor(t, "expired", date(2025, time.January, 5))
	f.trialVendor(t, "booked", date(2025, time.February, 1))
	f.payingVendor(t, "paying")
	f.create(t, input("a1", "booked", "unit-1", "100", date(2025, time.January, 10), 1))

	tests := []struct {
		vendorID string
		canBook  bool
		reason   string
	}{
		{"prereg", true, ""},
		{"trial", true, ""},
		{"expired", false, "trial period has expired"},
		{"booked", false, "vendor already has a trial booking"},
		{"paying", false, "vendor trial status is active"},
		{"ghost", false, "vendor not found"},
		{"", false, "malformed vendor id"},
	}

	for _, tt := range tests {
		t.Run(tt.vendorID, func(t *testing.T) {
			got, err := f.coordinator.CanMakeTrialBooking(f.ctx, tt.vendorID)
			require.NoError(t, err)
			assert.Equal(t, tt.canBook, got.CanBook)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to rental.Status
		allowed  bool
	}{
		{rental.StatusPending, rental.StatusScheduled, true},
		{rental.StatusPending, rental.StatusActive, true},
		{rental.StatusScheduled, rental.StatusActive, true},
		{rental.StatusActive, rental.StatusConfirmed, true},
		{rental.StatusActive, rental.StatusExpired, true},
		{rental.StatusConfirmed, rental.StatusExpired, true},
		{rental.StatusScheduled, rental.StatusPending, false},
		{rental.StatusConfirmed, rental.StatusActive, false},
		{rental.StatusCancelled, rental.StatusActive, false},
		{rental.StatusExpired, rental.StatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, rental.CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionStatus_ActivateThenExpire(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.payingVendor(t, "v1")
	in := input("a1", "v1", "unit-1", "100", date(2025, time.January, 1), 1)
	in.Status = rental.StatusScheduled
	f.create(t, in)

	f.now = date(2025, time.January, 2)
	a, err := f.coordinator.TransitionStatus(f.ctx, "a1", rental.StatusActive)
	require.NoError(t, err)
	require.NotNil(t, a.ActualStart)
	assert.Equal(t, date(2025, time.January, 2), *a.ActualStart)

	_, err = f.coordinator.TransitionStatus(f.ctx, "a1", rental.StatusExpired)
	require.NoError(t, err)

	unit, err := f.store.GetUnit(f.ctx, "unit-1")
	require.NoError(t, err)
	assert.True(t, unit.Available)
}

func TestTransitionStatus_Invalid(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.payingVendor(t, "v1")
	f.create(t, input("a1", "v1", "unit-1", "100", date(2025, time.January, 1), 1))

	_, err := f.coordinator.TransitionStatus(f.ctx, "a1", rental.StatusPending)
	assert.ErrorIs(t, err, rental.ErrValidation)

	_, err = f.coordinator.TransitionStatus(f.ctx, "a1", rental.Status("archived"))
	assert.ErrorIs(t, err, rental.ErrValidation)

	_, err = f.coordinator.TransitionStatus(f.ctx, "missing", rental.StatusActive)
	assert.ErrorIs(t, err, rental.ErrNotFound)
}

func TestTransitionStatus_UnitHeldByAnotherAgreementStaysUnavailable(t *testing.T) {
	f := newFixture(t, date(2025, time.January, 1))
	f.unit(t, "unit-1", "shelf")
	f.payingVendor(t, "v1")
	f.create(t, input("a1", "v1", "unit-1", "100", date(2025, time.January, 1), 1))
	f.create(t, input("a2", "v1", "unit-1", "100", date(2025, time.February, 1), 1))

	_, err := f.coordinator.TransitionStatus(f.ctx, "a1", rental.StatusCancelled)
	require.NoError(t, err)

	unit, err := f.store.GetUnit(f.ctx, "unit-1")
	require.NoError(t, err)
	assert.False(t, unit.Available)
}
