/*
lifecycle.go - Agreement creation, trial handling and status transitions

PURPOSE:
  The coordinator is the only writer of agreements. Every mutation goes
  through it so that:
    - derived fields come from NewAgreement
    - unit availability flags follow the agreement
    - both cache namespaces are invalidated right after the write

TRIAL RULES:
  isTrial       = vendor.trialStatus == trial_active AND vendor.trialEnd > now
  paymentStart  = vendor.trialEnd when isTrial, else scheduledStart
  A preregistered vendor is promoted to trial_active after its booking is
  stored (trialStart = now, trialEnd defaults to now + 30 days).

STATUS TRANSITIONS:
  pending   -> scheduled | active | cancelled
  scheduled -> active | cancelled
  active    -> confirmed | expired | cancelled
  confirmed -> expired
  Activation stamps ActualStart. Cancelling or expiring frees units no other
  blocking agreement still holds.
*/
package rental

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusScheduled, StatusActive, StatusCancelled},
	StatusScheduled: {StatusActive, StatusCancelled},
	StatusActive:    {StatusConfirmed, StatusExpired, StatusCancelled},
	StatusConfirmed: {StatusExpired},
}

// CanTransition reports whether an agreement may move from one status to another.
func CanTransition(from, to Status) bool {
	return to.In(allowedTransitions[from])
}

// TrialEligibility answers CanMakeTrialBooking. Reason is set when CanBook is false.
type TrialEligibility struct {
	CanBook bool   `json:"can_book"`
	Reason  string `json:"reason,omitempty"`
}

type LifecycleCoordinator struct {
	Store       Store
	Cache       Cache
	Logger      *zap.Logger
	Now         func() time.Time
	TrialLength time.Duration
}

func NewLifecycleCoordinator(store Store, cache Cache, logger *zap.Logger) *LifecycleCoordinator {
	if cache == nil {
		cache = NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleCoordinator{
		Store:       store,
		Cache:       cache,
		Logger:      logger,
		Now:         func() time.Time { return time.Now().UTC() },
		TrialLength: DefaultTrialLength,
	}
}

func (c *LifecycleCoordinator) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now()
}

// =============================================================================
// REGISTRATION
// =============================================================================

// RegisterVendor stores a vendor. New vendors default to preregistered.
func (c *LifecycleCoordinator) RegisterVendor(ctx context.Context, v Vendor) (*Vendor, error) {
	if err := ValidateID("vendor_id", v.ID); err != nil {
		return nil, err
	}
	if v.Name == "" {
		return nil, invalid("name", "required")
	}
	if v.TrialStatus == "" {
		v.TrialStatus = TrialPreregistered
	}
	switch v.TrialStatus {
	case TrialPreregistered, TrialActive, TrialConverted, TrialCancelled:
	default:
		return nil, invalid("trial_status", fmt.Sprintf("unknown trial status %q", v.TrialStatus))
	}
	if err := c.Store.SaveVendor(ctx, v); err != nil {
		return nil, err
	}
	return &v, nil
}

// RegisterUnit stores a rental unit.
func (c *LifecycleCoordinator) RegisterUnit(ctx context.Context, u RentalUnit) (*RentalUnit, error) {
	if err := ValidateID("unit_id", u.ID); err != nil {
		return nil, err
	}
	if u.BasePrice.IsNegative() || u.BasePrice.GreaterThan(MaxLinePrice) {
		return nil, invalid("base_price", "must be within [0, 1000]")
	}
	if u.Label == "" {
		u.Label = u.ID
	}
	if err := c.Store.SaveUnit(ctx, u); err != nil {
		return nil, err
	}
	c.invalidate(ctx)
	return &u, nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreateAgreement builds, stores and announces a new agreement. It does not
// check the units for overlapping bookings; callers run CalculateAvailability
// first.
func (c *LifecycleCoordinator) CreateAgreement(ctx context.Context, in AgreementInput) (*Agreement, error) {
	if err := ValidateID("vendor_id", in.VendorID); err != nil {
		return nil, err
	}
	vendor, err := c.Store.GetVendor(ctx, in.VendorID)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, notFound("vendor", in.VendorID)
	}

	now := c.now()
	trial := TrialTerms{IsTrial: vendor.InActiveTrial(now)}
	if trial.IsTrial {
		trial.TrialEnd = *vendor.TrialEnd
		existing, err := c.openTrialAgreements(ctx, vendor.ID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, conflict("vendor %s already has trial booking %s", vendor.ID, existing[0].ID)
		}
	}

	a, err := NewAgreement(in, trial, now)
	if err != nil {
		return nil, err
	}

	unitIDs := a.UnitIDs()
	units, err := c.Store.GetUnits(ctx, unitIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range unitIDs {
		if _, ok := units[id]; !ok {
			return nil, notFound("unit", id)
		}
	}

	if err := c.Store.SaveAgreement(ctx, a); err != nil {
		return nil, err
	}

	if vendor.TrialStatus == TrialPreregistered {
		vendor.TrialStatus = TrialActive
		vendor.TrialStart = &now
		if vendor.TrialEnd == nil {
			end := now.Add(c.TrialLength)
			vendor.TrialEnd = &end
		}
		if err := c.Store.SaveVendor(ctx, *vendor); err != nil {
			return nil, err
		}
		c.Logger.Info("vendor trial started", zap.String("vendor_id", vendor.ID), zap.Time("trial_end", *vendor.TrialEnd))
	}

	if a.Status.In(BlockingStatuses) {
		for _, id := range unitIDs {
			if err := c.Store.SetUnitAvailability(ctx, id, false); err != nil {
				return nil, err
			}
		}
	}
	c.invalidate(ctx)

	c.Logger.Info("agreement created",
		zap.String("agreement_id", a.ID),
		zap.String("vendor_id", a.VendorID),
		zap.Bool("trial", a.IsTrial),
		zap.Time("payment_start", a.PaymentStart),
		zap.Stringer("impact", a.Impact),
	)
	a.VendorName = vendor.Name
	return &a, nil
}

// =============================================================================
// TRIALS
// =============================================================================

// CancelTrialBooking cancels a trial agreement while the vendor's trial is
// still running and frees its units.
func (c *LifecycleCoordinator) CancelTrialBooking(ctx context.Context, agreementID, vendorID string) (*Agreement, error) {
	a, err := c.loadAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if a.VendorID != vendorID {
		return nil, conflict("agreement %s does not belong to vendor %s", agreementID, vendorID)
	}
	if !a.IsTrial {
		return nil, conflict("agreement %s is not a trial booking", agreementID)
	}
	if a.CancelledDuringTrial || a.Status == StatusCancelled {
		return nil, conflict("trial booking %s is already cancelled", agreementID)
	}

	vendor, err := c.Store.GetVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, notFound("vendor", vendorID)
	}
	now := c.now()
	if !vendor.InActiveTrial(now) {
		return nil, conflict("trial of vendor %s has ended", vendorID)
	}

	a.Status = StatusCancelled
	a.CancelledDuringTrial = true
	a.TrialCancelledAt = &now
	a.UpdatedAt = now
	if err := c.Store.SaveAgreement(ctx, *a); err != nil {
		return nil, err
	}
	if err := c.releaseUnits(ctx, a); err != nil {
		return nil, err
	}
	c.invalidate(ctx)

	c.Logger.Info("trial booking cancelled", zap.String("agreement_id", a.ID), zap.String("vendor_id", vendorID))
	return a, nil
}

// CanMakeTrialBooking fails closed: any doubt about the vendor yields CanBook=false.
func (c *LifecycleCoordinator) CanMakeTrialBooking(ctx context.Context, vendorID string) (TrialEligibility, error) {
	if ValidateID("vendor_id", vendorID) != nil {
		return TrialEligibility{Reason: "malformed vendor id"}, nil
	}
	vendor, err := c.Store.GetVendor(ctx, vendorID)
	if err != nil {
		return TrialEligibility{}, err
	}
	if vendor == nil {
		return TrialEligibility{Reason: "vendor not found"}, nil
	}

	switch vendor.TrialStatus {
	case TrialPreregistered:
	case TrialActive:
		if vendor.TrialEnd == nil || !vendor.TrialEnd.After(c.now()) {
			return TrialEligibility{Reason: "trial period has expired"}, nil
		}
	default:
		return TrialEligibility{Reason: fmt.Sprintf("vendor trial status is %s", vendor.TrialStatus)}, nil
	}

	existing, err := c.openTrialAgreements(ctx, vendorID)
	if err != nil {
		return TrialEligibility{}, err
	}
	if len(existing) > 0 {
		return TrialEligibility{Reason: "vendor already has a trial booking"}, nil
	}
	return TrialEligibility{CanBook: true}, nil
}

func (c *LifecycleCoordinator) openTrialAgreements(ctx context.Context, vendorID string) ([]Agreement, error) {
	isTrial := true
	agreements, err := c.Store.FindAgreements(ctx, AgreementFilter{VendorID: vendorID, IsTrial: &isTrial})
	if err != nil {
		return nil, err
	}
	return lo.Filter(agreements, func(a Agreement, _ int) bool { return a.Status != StatusCancelled }), nil
}

// =============================================================================
// STATUS
// =============================================================================

// TransitionStatus moves an agreement to a new status.
func (c *LifecycleCoordinator) TransitionStatus(ctx context.Context, agreementID string, to Status) (*Agreement, error) {
	if !to.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	a, err := c.loadAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, to) {
		return nil, invalid("status", fmt.Sprintf("cannot transition from %s to %s", a.Status, to))
	}

	now := c.now()
	from := a.Status
	a.Status = to
	a.UpdatedAt = now
	if to == StatusActive && a.ActualStart == nil {
		a.ActualStart = &now
	}
	if err := c.Store.SaveAgreement(ctx, *a); err != nil {
		return nil, err
	}

	if !to.In(BlockingStatuses) && from.In(BlockingStatuses) {
		if err := c.releaseUnits(ctx, a); err != nil {
			return nil, err
		}
	}
	c.invalidate(ctx)

	c.Logger.Info("agreement status changed",
		zap.String("agreement_id", a.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return a, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *LifecycleCoordinator) loadAgreement(ctx context.Context, id string) (*Agreement, error) {
	if err := ValidateID("agreement_id", id); err != nil {
		return nil, err
	}
	a, err := c.Store.GetAgreement(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, notFound("agreement", id)
	}
	return a, nil
}

// releaseUnits marks the agreement's units available unless another blocking
// agreement still references them.
func (c *LifecycleCoordinator) releaseUnits(ctx context.Context, a *Agreement) error {
	for _, unitID := range a.UnitIDs() {
		holders, err := c.Store.FindAgreements(ctx, AgreementFilter{UnitID: unitID, Statuses: BlockingStatuses})
		if err != nil {
			return err
		}
		held := lo.ContainsBy(holders, func(h Agreement) bool { return h.ID != a.ID })
		if held {
			continue
		}
		if err := c.Store.SetUnitAvailability(ctx, unitID, true); err != nil {
			return err
		}
	}
	return nil
}

// invalidate drops every memoized availability and revenue result. The write
// has already happened, so failures are logged rather than returned.
func (c *LifecycleCoordinator) invalidate(ctx context.Context) {
	for _, ns := range []string{NamespaceAvailability, NamespaceRevenue} {
		if err := c.Cache.InvalidateNamespace(ctx, ns); err != nil {
			c.Logger.Error("cache invalidation failed", zap.String("namespace", ns), zap.Error(err))
		}
	}
}
