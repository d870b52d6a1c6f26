/*
agreement.go - Explicit construction of agreements

PURPOSE:
  NewAgreement is the only place derived agreement fields are computed:
    - Impact interval: ScheduledStart + DurationMonths (+1 month when trial)
    - Service line defaults: each line spans the impact interval unless given;
      explicit bounds must lie within it
    - Effective line prices: base price x (1 - discount)
    - TotalMonthlyPrice: sum of line prices + add-on fees
    - PaymentStart: ScheduledStart, or the trial end for trial agreements

  An Agreement that did not come out of NewAgreement (or a store) is not
  considered valid. Nothing recomputes these fields later except trial
  cancellation.

ADD-ON RULES:
  - Only on the premium commission tier
  - Only with at least one service line
  - Fees default to StorageHandlingFee / ShippingHandlingFee unless overridden
*/
package rental

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/rental-engine/interval"
)

var (
	// StorageHandlingFee and ShippingHandlingFee are the default monthly add-on fees.
	StorageHandlingFee  = decimal.NewFromInt(20)
	ShippingHandlingFee = decimal.NewFromInt(15)

	// MaxLinePrice bounds the monthly price of a single service line.
	MaxLinePrice = decimal.NewFromInt(1000)

	// DefaultCommissionRates apply when the input carries no explicit rate.
	DefaultCommissionRates = map[CommissionTier]decimal.Decimal{
		TierBasic:   decimal.RequireFromString("0.10"),
		TierPremium: decimal.RequireFromString("0.15"),
	}
)

// =============================================================================
// INPUT
// =============================================================================

// AgreementInput is the caller-supplied part of an agreement.
type AgreementInput struct {
	ID             string           `json:"id,omitempty" validate:"omitempty,entityid"`
	VendorID       string           `json:"vendor_id" validate:"required,entityid"`
	Lines          []LineInput      `json:"lines" validate:"dive"`
	DurationMonths int              `json:"duration_months" validate:"min=1,max=120"`
	Discount       decimal.Decimal  `json:"discount"`
	CommissionTier CommissionTier   `json:"commission_tier" validate:"omitempty,oneof=basic premium"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
	Status         Status           `json:"status" validate:"omitempty,oneof=pending scheduled active"`
	ScheduledStart time.Time        `json:"scheduled_start" validate:"required"`
	AddOns         *AddOnsInput     `json:"add_ons,omitempty"`
}

type LineInput struct {
	UnitID string          `json:"unit_id" validate:"required,entityid"`
	Price  decimal.Decimal `json:"price"`
	Start  *time.Time      `json:"start,omitempty"`
	End    *time.Time      `json:"end,omitempty"`
}

type AddOnsInput struct {
	StorageHandling  bool             `json:"storage_handling"`
	ShippingHandling bool             `json:"shipping_handling"`
	StorageFee       *decimal.Decimal `json:"storage_fee,omitempty"`
	ShippingFee      *decimal.Decimal `json:"shipping_fee,omitempty"`
}

// TrialTerms is what the coordinator derived from the vendor.
type TrialTerms struct {
	IsTrial  bool
	TrialEnd time.Time
}

// =============================================================================
// VALIDATION
// =============================================================================

var (
	entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,63}$`)
	validate        = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("entityid", func(fl validator.FieldLevel) bool {
		return entityIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateID reports a ValidationError for malformed ids.
func ValidateID(field, id string) error {
	if !entityIDPattern.MatchString(id) {
		return invalid(field, "malformed id")
	}
	return nil
}

func validateInput(in AgreementInput) error {
	if err := validate.Struct(in); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			fe := errs[0]
			return invalid(strings.ToLower(fe.Namespace()), "failed '"+fe.Tag()+"' check")
		}
		return invalid("", err.Error())
	}

	for _, l := range in.Lines {
		if l.Price.IsNegative() || l.Price.GreaterThan(MaxLinePrice) {
			return invalid("lines.price", "must be within [0, 1000]")
		}
		if l.Start != nil && l.End != nil && !l.End.After(*l.Start) {
			return invalid("lines.end", "must be after start")
		}
	}
	if in.Discount.IsNegative() || in.Discount.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return invalid("discount", "must be within [0, 1)")
	}
	if in.CommissionRate != nil && (in.CommissionRate.IsNegative() || in.CommissionRate.GreaterThan(decimal.NewFromInt(1))) {
		return invalid("commission_rate", "must be within [0, 1]")
	}
	if in.AddOns != nil && (in.AddOns.StorageHandling || in.AddOns.ShippingHandling) {
		if in.CommissionTier != TierPremium {
			return invalid("add_ons", "add-on services require the premium commission tier")
		}
		if len(in.Lines) == 0 {
			return invalid("add_ons", "add-on services require at least one service line")
		}
	}
	return nil
}

// =============================================================================
// CONSTRUCTOR
// =============================================================================

// NewAgreement validates the input and computes every derived field.
func NewAgreement(in AgreementInput, trial TrialTerms, now time.Time) (Agreement, error) {
	if err := validateInput(in); err != nil {
		return Agreement{}, err
	}

	start := in.ScheduledStart.UTC()
	months := in.DurationMonths
	if trial.IsTrial {
		months++
	}
	impact := interval.Range{From: start, To: interval.AddMonths(start, months)}

	paymentStart := start
	if trial.IsTrial {
		// Payment never starts before the booking does.
		paymentStart = interval.Later(trial.TrialEnd.UTC(), start)
	}

	tier := in.CommissionTier
	if tier == "" {
		tier = TierBasic
	}
	rate := DefaultCommissionRates[tier]
	if in.CommissionRate != nil {
		rate = *in.CommissionRate
	}

	status := in.Status
	if status == "" {
		status = StatusScheduled
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	factor := decimal.NewFromInt(1).Sub(in.Discount)
	lines := make([]ServiceLine, len(in.Lines))
	total := decimal.Zero
	for i, l := range in.Lines {
		line := ServiceLine{
			UnitID: l.UnitID,
			Start:  impact.From,
			End:    impact.To,
			Price:  l.Price.Mul(factor).Round(2),
		}
		if l.Start != nil {
			line.Start = l.Start.UTC()
		}
		if l.End != nil {
			line.End = l.End.UTC()
		}
		if line.Start.Before(impact.From) || line.End.After(impact.To) || !line.End.After(line.Start) {
			return Agreement{}, invalid(fmt.Sprintf("lines[%d]", i), "must lie within the agreement impact interval "+impact.String())
		}
		lines[i] = line
		total = total.Add(line.Price)
	}

	var addOns *AddOns
	if in.AddOns != nil && (in.AddOns.StorageHandling || in.AddOns.ShippingHandling) {
		addOns = &AddOns{
			StorageHandling:  in.AddOns.StorageHandling,
			ShippingHandling: in.AddOns.ShippingHandling,
		}
		if addOns.StorageHandling {
			addOns.StorageFee = feeOrDefault(in.AddOns.StorageFee, StorageHandlingFee)
		}
		if addOns.ShippingHandling {
			addOns.ShippingFee = feeOrDefault(in.AddOns.ShippingFee, ShippingHandlingFee)
		}
		total = total.Add(addOns.MonthlyFees())
	}

	return Agreement{
		ID:                id,
		VendorID:          in.VendorID,
		Lines:             lines,
		TotalMonthlyPrice: total,
		DurationMonths:    in.DurationMonths,
		Discount:          in.Discount,
		CommissionTier:    tier,
		CommissionRate:    rate,
		Status:            status,
		ScheduledStart:    start,
		Impact:            impact,
		IsTrial:           trial.IsTrial,
		PaymentStart:      paymentStart,
		AddOns:            addOns,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func feeOrDefault(override *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if override != nil && !override.IsNegative() {
		return *override
	}
	return def
}
