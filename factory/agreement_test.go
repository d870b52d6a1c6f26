package factory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rental-engine/rental"
)

func TestParseAgreement(t *testing.T) {
	f := NewAgreementFactory()

	in, err := f.ParseAgreement(`{
		"id": "agr-1",
		"vendor_id": "v1",
		"scheduled_start": "2025-01-10",
		"duration_months": 3,
		"commission_tier": "PREMIUM",
		"discount": 0.1,
		"lines": [
			{"unit_id": "shelf-a1", "price": "100"},
			{"unit_id": "shelf-a2", "price": 80, "start": "2025-02-01", "end": "2025-03-01T00:00:00Z"}
		],
		"add_ons": {"shipping_fee": "12.50"}
	}`)

	require.NoError(t, err)
	assert.Equal(t, "agr-1", in.ID)
	assert.Equal(t, time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC), in.ScheduledStart)
	assert.Equal(t, rental.TierPremium, in.CommissionTier)
	assert.True(t, decimal.RequireFromString("0.1").Equal(in.Discount))
	require.Len(t, in.Lines, 2)
	assert.Nil(t, in.Lines[0].Start)
	require.NotNil(t, in.Lines[1].End)
	assert.Equal(t, time.March, in.Lines[1].End.Month())
	require.NotNil(t, in.AddOns)
	assert.True(t, in.AddOns.ShippingHandling, "a fee implies the service")
	assert.False(t, in.AddOns.StorageHandling)
}

func TestParseAgreement_Errors(t *testing.T) {
	f := NewAgreementFactory()

	tests := []struct {
		name string
		json string
	}{
		{"malformed json", `{"id":`},
		{"missing start", `{"vendor_id": "v1", "duration_months": 1}`},
		{"bad start", `{"vendor_id": "v1", "scheduled_start": "10/01/2025"}`},
		{"bad line start", `{"vendor_id": "v1", "scheduled_start": "2025-01-01", "lines": [{"unit_id": "u", "price": "1", "start": "soon"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseAgreement(tt.json)
			assert.Error(t, err)
		})
	}
}

func TestPresetsProduceValidAgreements(t *testing.T) {
	f := NewAgreementFactory()
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	t.Run("standard shelf", func(t *testing.T) {
		in, err := f.ParseAgreement(StandardShelfJSON("agr-1", "v1", "shelf-a1", "100", "2025-01-10", 3))
		require.NoError(t, err)

		a, err := rental.NewAgreement(in, rental.TrialTerms{}, now)
		require.NoError(t, err)
		assert.Equal(t, rental.StatusActive, a.Status)
		assert.True(t, decimal.NewFromInt(100).Equal(a.TotalMonthlyPrice))
	})

	t.Run("premium bundle carries default add-on fees", func(t *testing.T) {
		in, err := f.ParseAgreement(PremiumBundleJSON("agr-2", "v1", "2025-01-01", 6, map[string]string{
			"shelf-b": "50",
			"shelf-a": "100",
		}))
		require.NoError(t, err)
		assert.Equal(t, "shelf-a", in.Lines[0].UnitID)

		a, err := rental.NewAgreement(in, rental.TrialTerms{}, now)
		require.NoError(t, err)
		// 150 + storage 20 + shipping 15
		assert.True(t, decimal.NewFromInt(185).Equal(a.TotalMonthlyPrice), "got %s", a.TotalMonthlyPrice)
	})

	t.Run("trial booking leaves status to defaults", func(t *testing.T) {
		in, err := f.ParseAgreement(TrialBookingJSON("agr-3", "v2", "shelf-a1", "100", "2025-01-10", 1))
		require.NoError(t, err)
		assert.Empty(t, in.Status)
	})
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := NewAgreementFactory()
	in, err := f.ParseAgreement(PremiumBundleJSON("agr-2", "v1", "2025-01-01", 2, map[string]string{"shelf-a": "100"}))
	require.NoError(t, err)
	in.Discount = decimal.RequireFromString("0.5")
	a, err := rental.NewAgreement(in, rental.TrialTerms{}, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	again, err := f.FromJSON(f.ToJSON(&a))
	require.NoError(t, err)
	b, err := rental.NewAgreement(again, rental.TrialTerms{}, a.CreatedAt)

	require.NoError(t, err)
	assert.True(t, a.TotalMonthlyPrice.Equal(b.TotalMonthlyPrice), "%s != %s", a.TotalMonthlyPrice, b.TotalMonthlyPrice)
	assert.Equal(t, a.Impact, b.Impact)
}

func TestVendorFromJSON(t *testing.T) {
	f := NewAgreementFactory()

	v, err := f.ParseVendor(`{"id": "v1", "name": "Acme", "trial_status": "trial_active", "trial_end": "2025-02-01"}`)

	require.NoError(t, err)
	assert.Equal(t, rental.TrialActive, v.TrialStatus)
	require.NotNil(t, v.TrialEnd)
	assert.Nil(t, v.TrialStart)

	_, err = f.ParseVendor(`{"id": "v1", "trial_end": "tomorrow"}`)
	assert.Error(t, err)
}

func TestParseUnit(t *testing.T) {
	u, err := NewAgreementFactory().ParseUnit(`{"id": "shelf-a1", "type": "shelf", "base_price": "75.5"}`)

	require.NoError(t, err)
	assert.True(t, u.Available)
	assert.True(t, decimal.RequireFromString("75.5").Equal(u.BasePrice))
}
