/*
Package factory provides JSON to Go agreement conversion.

PURPOSE:
  Converts JSON agreement, unit and vendor definitions into rental inputs.
  Demo scenarios, the HTTP API and fixtures describe bookings as JSON; the
  factory parses dates and money, applies defaults and hands the result to
  rental.NewAgreement (via the lifecycle coordinator), which computes the
  derived fields.

JSON SCHEMA:
  {
    "id": "agr-001",
    "vendor_id": "vendor-1",
    "scheduled_start": "2025-01-10",
    "duration_months": 3,
    "commission_tier": "premium",
    "discount": "0.1",
    "status": "active",
    "lines": [
      {"unit_id": "shelf-a1", "price": "100"},
      {"unit_id": "shelf-a2", "price": "80", "start": "2025-02-01"}
    ],
    "add_ons": {"storage_handling": true, "shipping_fee": "12.50"}
  }

  Dates accept "2006-01-02" or RFC3339. Money is a decimal string or number.

USAGE:
  f := factory.NewAgreementFactory()
  in, err := f.ParseAgreement(jsonStr)
  agreement, err := coordinator.CreateAgreement(ctx, in)

  // From a preset
  in, err := f.ParseAgreement(factory.StandardShelfJSON("agr-1", "v1", "shelf-a1", "100", "2025-01-10", 3))

SEE ALSO:
  - rental/agreement.go: NewAgreement, validation and derived fields
  - api/scenarios.go: demo data built from these presets
*/
package factory

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// AgreementJSON is the JSON representation of an agreement request.
type AgreementJSON struct {
	ID             string           `json:"id,omitempty"`
	VendorID       string           `json:"vendor_id"`
	ScheduledStart string           `json:"scheduled_start"`
	DurationMonths int              `json:"duration_months"`
	CommissionTier string           `json:"commission_tier,omitempty"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
	Discount       *decimal.Decimal `json:"discount,omitempty"`
	Status         string           `json:"status,omitempty"`
	Lines          []LineJSON       `json:"lines"`
	AddOns         *AddOnsJSON      `json:"add_ons,omitempty"`
}

// LineJSON is one booked unit. Start/End default to the agreement bounds.
type LineJSON struct {
	UnitID string          `json:"unit_id"`
	Price  decimal.Decimal `json:"price"`
	Start  string          `json:"start,omitempty"`
	End    string          `json:"end,omitempty"`
}

// AddOnsJSON represents optional services. A fee implies its service.
type AddOnsJSON struct {
	StorageHandling  bool             `json:"storage_handling,omitempty"`
	ShippingHandling bool             `json:"shipping_handling,omitempty"`
	StorageFee       *decimal.Decimal `json:"storage_fee,omitempty"`
	ShippingFee      *decimal.Decimal `json:"shipping_fee,omitempty"`
}

// UnitJSON is the JSON representation of a rental unit.
type UnitJSON struct {
	ID        string          `json:"id"`
	Label     string          `json:"label,omitempty"`
	Type      string          `json:"type"`
	Size      string          `json:"size,omitempty"`
	Location  string          `json:"location,omitempty"`
	BasePrice decimal.Decimal `json:"base_price"`
}

// VendorJSON is the JSON representation of a vendor.
type VendorJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TrialStatus string `json:"trial_status,omitempty"`
	TrialStart  string `json:"trial_start,omitempty"`
	TrialEnd    string `json:"trial_end,omitempty"`
}

// =============================================================================
// AGREEMENT FACTORY
// =============================================================================

// AgreementFactory converts JSON definitions to rental inputs.
type AgreementFactory struct{}

// NewAgreementFactory creates a new agreement factory.
func NewAgreementFactory() *AgreementFactory {
	return &AgreementFactory{}
}

// ParseAgreement parses a JSON string into an agreement input.
func (f *AgreementFactory) ParseAgreement(jsonStr string) (rental.AgreementInput, error) {
	var aj AgreementJSON
	if err := json.Unmarshal([]byte(jsonStr), &aj); err != nil {
		return rental.AgreementInput{}, fmt.Errorf("failed to parse agreement JSON: %w", err)
	}
	return f.FromJSON(aj)
}

// FromJSON converts an AgreementJSON struct. Validation beyond parsing is
// left to rental.NewAgreement so both entry points share one rule set.
func (f *AgreementFactory) FromJSON(aj AgreementJSON) (rental.AgreementInput, error) {
	start, err := ParseDate(aj.ScheduledStart)
	if err != nil {
		return rental.AgreementInput{}, fmt.Errorf("invalid scheduled_start: %w", err)
	}

	in := rental.AgreementInput{
		ID:             aj.ID,
		VendorID:       aj.VendorID,
		DurationMonths: aj.DurationMonths,
		CommissionTier: rental.CommissionTier(strings.ToLower(aj.CommissionTier)),
		CommissionRate: aj.CommissionRate,
		Status:         rental.Status(strings.ToLower(aj.Status)),
		ScheduledStart: start,
	}
	if aj.Discount != nil {
		in.Discount = *aj.Discount
	}

	for i, lj := range aj.Lines {
		line := rental.LineInput{UnitID: lj.UnitID, Price: lj.Price}
		if lj.Start != "" {
			t, err := ParseDate(lj.Start)
			if err != nil {
				return rental.AgreementInput{}, fmt.Errorf("invalid lines[%d].start: %w", i, err)
			}
			line.Start = &t
		}
		if lj.End != "" {
			t, err := ParseDate(lj.End)
			if err != nil {
				return rental.AgreementInput{}, fmt.Errorf("invalid lines[%d].end: %w", i, err)
			}
			line.End = &t
		}
		in.Lines = append(in.Lines, line)
	}

	if aj.AddOns != nil {
		in.AddOns = &rental.AddOnsInput{
			StorageHandling:  aj.AddOns.StorageHandling || aj.AddOns.StorageFee != nil,
			ShippingHandling: aj.AddOns.ShippingHandling || aj.AddOns.ShippingFee != nil,
			StorageFee:       aj.AddOns.StorageFee,
			ShippingFee:      aj.AddOns.ShippingFee,
		}
	}

	return in, nil
}

// ToJSON converts a stored agreement back to its request form.
func (f *AgreementFactory) ToJSON(a *rental.Agreement) AgreementJSON {
	aj := AgreementJSON{
		ID:             a.ID,
		VendorID:       a.VendorID,
		ScheduledStart: a.ScheduledStart.Format(dateLayout),
		DurationMonths: a.DurationMonths,
		CommissionTier: string(a.CommissionTier),
		Status:         string(a.Status),
	}
	// Line prices are stored after discount, so the discount is not repeated.
	rate := a.CommissionRate
	aj.CommissionRate = &rate
	for _, l := range a.Lines {
		aj.Lines = append(aj.Lines, LineJSON{
			UnitID: l.UnitID,
			Price:  l.Price,
			Start:  l.Start.Format(dateLayout),
			End:    l.End.Format(dateLayout),
		})
	}
	if a.AddOns.Any() {
		aj.AddOns = &AddOnsJSON{
			StorageHandling:  a.AddOns.StorageHandling,
			ShippingHandling: a.AddOns.ShippingHandling,
		}
		if a.AddOns.StorageHandling {
			fee := a.AddOns.StorageFee
			aj.AddOns.StorageFee = &fee
		}
		if a.AddOns.ShippingHandling {
			fee := a.AddOns.ShippingFee
			aj.AddOns.ShippingFee = &fee
		}
	}
	return aj
}

// ParseUnit parses a JSON rental unit.
func (f *AgreementFactory) ParseUnit(jsonStr string) (rental.RentalUnit, error) {
	var uj UnitJSON
	if err := json.Unmarshal([]byte(jsonStr), &uj); err != nil {
		return rental.RentalUnit{}, fmt.Errorf("failed to parse unit JSON: %w", err)
	}
	return f.UnitFromJSON(uj), nil
}

// UnitFromJSON converts a UnitJSON. New units start available.
func (f *AgreementFactory) UnitFromJSON(uj UnitJSON) rental.RentalUnit {
	return rental.RentalUnit{
		ID:        uj.ID,
		Label:     uj.Label,
		Type:      uj.Type,
		Available: true,
		Size:      uj.Size,
		Location:  uj.Location,
		BasePrice: uj.BasePrice,
	}
}

// ParseVendor parses a JSON vendor.
func (f *AgreementFactory) ParseVendor(jsonStr string) (rental.Vendor, error) {
	var vj VendorJSON
	if err := json.Unmarshal([]byte(jsonStr), &vj); err != nil {
		return rental.Vendor{}, fmt.Errorf("failed to parse vendor JSON: %w", err)
	}
	return f.VendorFromJSON(vj)
}

// VendorFromJSON converts a VendorJSON. Trial status defaults downstream.
func (f *AgreementFactory) VendorFromJSON(vj VendorJSON) (rental.Vendor, error) {
	v := rental.Vendor{
		ID:          vj.ID,
		Name:        vj.Name,
		TrialStatus: rental.TrialStatus(strings.ToLower(vj.TrialStatus)),
	}
	if vj.TrialStart != "" {
		t, err := ParseDate(vj.TrialStart)
		if err != nil {
			return rental.Vendor{}, fmt.Errorf("invalid trial_start: %w", err)
		}
		v.TrialStart = &t
	}
	if vj.TrialEnd != "" {
		t, err := ParseDate(vj.TrialEnd)
		if err != nil {
			return rental.Vendor{}, fmt.Errorf("invalid trial_end: %w", err)
		}
		v.TrialEnd = &t
	}
	return v, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

const dateLayout = "2006-01-02"

// ParseDate accepts a calendar date or an RFC3339 timestamp, returned in UTC.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC3339, got %q", s)
	}
	return t.UTC(), nil
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardShelfJSON is a single-unit basic-tier booking.
func StandardShelfJSON(id, vendorID, unitID, price, start string, months int) string {
	return fmt.Sprintf(`{
		"id": %q,
		"vendor_id": %q,
		"scheduled_start": %q,
		"duration_months": %d,
		"status": "active",
		"lines": [{"unit_id": %q, "price": %q}]
	}`, id, vendorID, start, months, unitID, price)
}

// PremiumBundleJSON books several units on the premium tier with both
// add-on services at their default fees.
func PremiumBundleJSON(id, vendorID, start string, months int, unitPrices map[string]string) string {
	aj := AgreementJSON{
		ID:             id,
		VendorID:       vendorID,
		ScheduledStart: start,
		DurationMonths: months,
		CommissionTier: string(rental.TierPremium),
		Status:         string(rental.StatusActive),
		AddOns:         &AddOnsJSON{StorageHandling: true, ShippingHandling: true},
	}
	unitIDs := lo.Keys(unitPrices)
	slices.Sort(unitIDs)
	for _, unitID := range unitIDs {
		aj.Lines = append(aj.Lines, LineJSON{UnitID: unitID, Price: decimal.RequireFromString(unitPrices[unitID])})
	}
	data, _ := json.Marshal(aj)
	return string(data)
}

// TrialBookingJSON is the first booking of a vendor still in trial. Its
// status is left to the coordinator default.
func TrialBookingJSON(id, vendorID, unitID, price, start string, months int) string {
	return fmt.Sprintf(`{
		"id": %q,
		"vendor_id": %q,
		"scheduled_start": %q,
		"duration_months": %d,
		"lines": [{"unit_id": %q, "price": %q}]
	}`, id, vendorID, start, months, unitID, price)
}
