/*
Package rental provides the temporal engine of the rental-unit marketplace.

PURPOSE:
  Vendors lease shelving capacity (rental units) through agreements that
  carry a monthly price, a commission rate and optional add-on services.
  This package answers two temporal questions over those agreements:
    1. Is a rental unit free for a requested date range? (availability.go)
    2. How much revenue does a reporting period earn?     (revenue.go)

KEY CONCEPTS IN THIS FILE (types.go):
  - RentalUnit:   a shelf/fixture slot that agreements reference
  - Agreement:    a vendor's lease of one or more units for a priced duration
  - ServiceLine:  one unit booked by an agreement, with its own bounds and price
  - Vendor:       the leasing party, with its trial lifecycle
  - MonthlyRevenueRecord: persisted monthly revenue snapshot

IMPACT INTERVAL:
  Every agreement occupies its units for Impact = [ScheduledStart,
  ScheduledStart + DurationMonths (+1 month when trial)). The same range feeds
  conflict detection and revenue proration.

PAYMENT START:
  Revenue begins at PaymentStart. For regular agreements it equals
  ScheduledStart; for trial agreements it equals the vendor's trial end.

MONEY:
  Prices use decimal.Decimal, as the rest of the engine does, so proration
  never accumulates float drift.

SEE ALSO:
  - agreement.go: NewAgreement, the only constructor computing derived fields
  - errors.go: error taxonomy
  - store.go: persistence interfaces
*/
package rental

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rental-engine/interval"
)

// =============================================================================
// RENTAL UNIT
// =============================================================================

type RentalUnit struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	Type      string          `json:"type"`
	Available bool            `json:"available"`
	Size      string          `json:"size,omitempty"`
	Location  string          `json:"location,omitempty"`
	BasePrice decimal.Decimal `json:"base_price"`
}

// =============================================================================
// AGREEMENT
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// BlockingStatuses occupy rental units for availability purposes.
var BlockingStatuses = []Status{StatusActive, StatusScheduled, StatusPending}

// RevenueStatuses are selected for revenue calculation.
var RevenueStatuses = []Status{StatusActive, StatusScheduled}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusActive, StatusConfirmed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// In reports whether s is one of set.
func (s Status) In(set []Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// CommissionTier selects the commission rate and gates add-on services.
type CommissionTier string

const (
	TierBasic   CommissionTier = "basic"
	TierPremium CommissionTier = "premium"
)

// ServiceLine is one rental unit booked by an agreement.
// End is exclusive, like the impact interval.
type ServiceLine struct {
	UnitID string          `json:"unit_id"`
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
	Price  decimal.Decimal `json:"price"`
}

// Bounds returns the line's half-open range.
func (l ServiceLine) Bounds() interval.Range { return interval.Range{From: l.Start, To: l.End} }

// AddOns are optional monthly services attached to an agreement.
type AddOns struct {
	StorageHandling  bool            `json:"storage_handling"`
	ShippingHandling bool            `json:"shipping_handling"`
	StorageFee       decimal.Decimal `json:"storage_fee"`
	ShippingFee      decimal.Decimal `json:"shipping_fee"`
}

// MonthlyFees is the add-on total embedded in the agreement price.
func (a *AddOns) MonthlyFees() decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	total := decimal.Zero
	if a.StorageHandling {
		total = total.Add(a.StorageFee)
	}
	if a.ShippingHandling {
		total = total.Add(a.ShippingFee)
	}
	return total
}

func (a *AddOns) Any() bool { return a != nil && (a.StorageHandling || a.ShippingHandling) }

type Agreement struct {
	ID         string        `json:"id"`
	VendorID   string        `json:"vendor_id"`
	VendorName string        `json:"vendor_name,omitempty"` // populated on read
	Lines      []ServiceLine `json:"lines"`

	// TotalMonthlyPrice already embeds line prices and add-on fees.
	TotalMonthlyPrice decimal.Decimal `json:"total_monthly_price"`
	DurationMonths    int             `json:"duration_months"`
	Discount          decimal.Decimal `json:"discount"`
	CommissionTier    CommissionTier  `json:"commission_tier"`
	CommissionRate    decimal.Decimal `json:"commission_rate"`
	Status            Status          `json:"status"`

	ScheduledStart time.Time      `json:"scheduled_start"`
	ActualStart    *time.Time     `json:"actual_start,omitempty"`
	Impact         interval.Range `json:"impact"`

	IsTrial              bool       `json:"is_trial"`
	PaymentStart         time.Time  `json:"payment_start"`
	CancelledDuringTrial bool       `json:"cancelled_during_trial"`
	TrialCancelledAt     *time.Time `json:"trial_cancelled_at,omitempty"`

	AddOns *AddOns `json:"add_ons,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RevenueAnchor is the first day revenue may accrue.
func (a *Agreement) RevenueAnchor() time.Time {
	if a.IsTrial {
		return a.PaymentStart
	}
	return a.ScheduledStart
}

// UnitIDs returns the distinct units referenced by the agreement, in line order.
func (a *Agreement) UnitIDs() []string {
	seen := make(map[string]bool, len(a.Lines))
	var ids []string
	for _, l := range a.Lines {
		if !seen[l.UnitID] {
			seen[l.UnitID] = true
			ids = append(ids, l.UnitID)
		}
	}
	return ids
}

// References reports whether any line books unitID.
func (a *Agreement) References(unitID string) bool {
	for _, l := range a.Lines {
		if l.UnitID == unitID {
			return true
		}
	}
	return false
}

// =============================================================================
// VENDOR
// =============================================================================

type TrialStatus string

const (
	TrialPreregistered TrialStatus = "preregistered"
	TrialActive        TrialStatus = "trial_active"
	TrialConverted     TrialStatus = "active"
	TrialCancelled     TrialStatus = "cancelled"
)

// DefaultTrialLength applies when a preregistered vendor has no trial end yet.
const DefaultTrialLength = 30 * 24 * time.Hour

type Vendor struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	TrialStatus TrialStatus `json:"trial_status"`
	TrialStart  *time.Time  `json:"trial_start,omitempty"`
	TrialEnd    *time.Time  `json:"trial_end,omitempty"`
}

// InActiveTrial reports whether the vendor's trial is running at now.
func (v *Vendor) InActiveTrial(now time.Time) bool {
	return v.TrialStatus == TrialActive && v.TrialEnd != nil && v.TrialEnd.After(now)
}

// =============================================================================
// REVENUE RECORDS
// =============================================================================

// UnitRevenue is the per-unit line of a monthly breakdown.
type UnitRevenue struct {
	UnitID         string          `json:"unit_id"`
	Label          string          `json:"label"`
	Revenue        decimal.Decimal `json:"revenue"`
	AgreementCount int             `json:"agreement_count"`
	TrialCount     int             `json:"trial_count"`
}

// MonthlyRevenueRecord is keyed by Month (first instant of the month, UTC).
type MonthlyRevenueRecord struct {
	Month        time.Time       `json:"month"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	PaidCount    int             `json:"paid_count"`
	TrialCount   int             `json:"trial_count"`
	Units        []UnitRevenue   `json:"units"`
	CalculatedAt time.Time       `json:"calculated_at"` // changes on every recalculation
}
