/*
store.go - Persistence interfaces consumed by the engines

PURPOSE:
  The engines never talk to a database directly. They depend on these
  interfaces; store/sqlite and rental/store provide implementations.

NOT-FOUND CONTRACT:
  Get* methods return (nil, nil) when the entity does not exist. The
  coordinator turns that into a NotFoundError. Any other error must be an
  InfrastructureError (see Infra).

FILTERS:
  The store cannot express "impact interval overlaps range" for every
  backend, so AgreementFilter offers the primitive predicates (status set,
  date comparisons, unit reference) and engines re-check overlap in Go.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - rental/store/memory.go: in-memory for tests and demos
*/
package rental

import (
	"context"
	"time"

	"github.com/warp/rental-engine/interval"
)

// AgreementFilter selects agreements. Zero-valued fields do not filter.
type AgreementFilter struct {
	IDs      []string
	UnitID   string // any service line references this unit
	VendorID string
	Statuses []Status
	IsTrial  *bool

	// ScheduledStartOnOrBefore keeps scheduledStart <= t.
	ScheduledStartOnOrBefore *time.Time
	// ScheduledStartOnOrAfter keeps scheduledStart >= t.
	ScheduledStartOnOrAfter *time.Time
	// ImpactEndsOnOrAfter keeps impact.to >= t, or impact unset.
	ImpactEndsOnOrAfter *time.Time
	// Overlapping keeps agreements whose impact interval overlaps the range.
	Overlapping *interval.Range
}

// Matches applies the filter to a single agreement. Stores that cannot push a
// predicate down use this to finish filtering.
func (f AgreementFilter) Matches(a *Agreement) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, a.ID) {
		return false
	}
	if f.UnitID != "" && !a.References(f.UnitID) {
		return false
	}
	if f.VendorID != "" && a.VendorID != f.VendorID {
		return false
	}
	if len(f.Statuses) > 0 && !a.Status.In(f.Statuses) {
		return false
	}
	if f.IsTrial != nil && a.IsTrial != *f.IsTrial {
		return false
	}
	if f.ScheduledStartOnOrBefore != nil && a.ScheduledStart.After(*f.ScheduledStartOnOrBefore) {
		return false
	}
	if f.ScheduledStartOnOrAfter != nil && a.ScheduledStart.Before(*f.ScheduledStartOnOrAfter) {
		return false
	}
	if f.ImpactEndsOnOrAfter != nil && !a.Impact.IsZero() && a.Impact.To.Before(*f.ImpactEndsOnOrAfter) {
		return false
	}
	if f.Overlapping != nil && (a.Impact.IsZero() || !interval.Overlaps(a.Impact, *f.Overlapping)) {
		return false
	}
	return true
}

// UnitFilter selects rental units.
type UnitFilter struct {
	Types []string
	Limit int // 0 = no limit
}

func (f UnitFilter) Matches(u *RentalUnit) bool {
	return len(f.Types) == 0 || containsString(f.Types, u.Type)
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

type AgreementStore interface {
	FindAgreements(ctx context.Context, filter AgreementFilter) ([]Agreement, error)
	GetAgreement(ctx context.Context, id string) (*Agreement, error)
	// SaveAgreement inserts or replaces the agreement.
	SaveAgreement(ctx context.Context, a Agreement) error
}

type UnitStore interface {
	FindUnits(ctx context.Context, filter UnitFilter) ([]RentalUnit, error)
	CountUnits(ctx context.Context, filter UnitFilter) (int, error)
	GetUnit(ctx context.Context, id string) (*RentalUnit, error)
	// GetUnits resolves many units in one lookup. Missing ids are skipped.
	GetUnits(ctx context.Context, ids []string) (map[string]RentalUnit, error)
	SaveUnit(ctx context.Context, u RentalUnit) error
	SetUnitAvailability(ctx context.Context, id string, available bool) error
}

type VendorStore interface {
	GetVendor(ctx context.Context, id string) (*Vendor, error)
	SaveVendor(ctx context.Context, v Vendor) error
}

type RevenueStore interface {
	GetRevenueRecord(ctx context.Context, month time.Time) (*MonthlyRevenueRecord, error)
	// UpsertRevenueRecord writes the whole record or nothing.
	UpsertRevenueRecord(ctx context.Context, rec MonthlyRevenueRecord) error
	// ListRevenueRecords returns records with from <= month <= to, ordered by month.
	ListRevenueRecords(ctx context.Context, from, to time.Time) ([]MonthlyRevenueRecord, error)
}

// Store bundles every persistence capability the engines need.
type Store interface {
	AgreementStore
	UnitStore
	VendorStore
	RevenueStore
}

func containsString(set []string, s string) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
