/*
availability.go - Conflict detection and next-available-date search

PURPOSE:
  Answers "can this rental unit be booked for [from, to)?" by looking for
  agreements that reference the unit, are in a blocking status (active,
  scheduled, pending) and whose impact interval overlaps the request.

RESULT:
  Available      = no conflicts
  Conflicts      = one entry per overlapping agreement (optional)
  NextAvailable  = latest impact.to across conflicts (optional)

BATCH SEMANTICS:
  CalculateBatchAvailability fans out one lookup per unit and joins before
  returning. A failure (or panic) for one unit becomes
  {Available: false, Error: ...} for that unit only.

FIND AVAILABLE UNITS:
  The store cannot express interval overlap declaratively for every backend,
  so FindAvailableUnits loads candidate units first, then computes and
  filters (filter-then-annotate).

CACHING:
  Single-unit results are memoized in NamespaceAvailability. Entries are
  dropped by the lifecycle coordinator on every agreement mutation.
*/
package rental

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/rental-engine/interval"
	"github.com/warp/rental-engine/metrics"
)

// DefaultBatchConcurrency bounds batch fan-out when the engine sets none.
const DefaultBatchConcurrency = 8

// =============================================================================
// TYPES
// =============================================================================

type AvailabilityOptions struct {
	IncludeConflicts       bool `json:"include_conflicts"`
	CalculateNextAvailable bool `json:"calculate_next_available"`
}

func DefaultAvailabilityOptions() AvailabilityOptions {
	return AvailabilityOptions{IncludeConflicts: true, CalculateNextAvailable: true}
}

// Conflict is an agreement blocking the requested range.
type Conflict struct {
	AgreementID string    `json:"agreement_id"`
	VendorName  string    `json:"vendor_name"`
	Status      Status    `json:"status"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

type AvailabilityResult struct {
	UnitID        string     `json:"unit_id"`
	Available     bool       `json:"available"`
	Conflicts     []Conflict `json:"conflicts,omitempty"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
}

type BatchAvailabilityInput struct {
	UnitIDs []string
	Range   interval.Range
	Options *AvailabilityOptions // nil = defaults
}

// UnitAvailability is one item of a batch result.
type UnitAvailability struct {
	UnitID    string              `json:"unit_id"`
	Available bool                `json:"available"`
	Result    *AvailabilityResult `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	Err       error               `json:"-"`
}

// AvailableUnit is a unit annotated with its availability result.
type AvailableUnit struct {
	Unit         RentalUnit         `json:"unit"`
	Availability AvailabilityResult `json:"availability"`
}

// AvailabilityStore is the subset of Store the engine reads.
type AvailabilityStore interface {
	AgreementStore
	UnitStore
}

// =============================================================================
// ENGINE
// =============================================================================

type AvailabilityEngine struct {
	Store          AvailabilityStore
	Cache          Cache
	CacheTTL       time.Duration
	MaxConcurrency int
	Logger         *zap.Logger
}

func NewAvailabilityEngine(store AvailabilityStore, cache Cache, logger *zap.Logger) *AvailabilityEngine {
	if cache == nil {
		cache = NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityEngine{
		Store:          store,
		Cache:          cache,
		CacheTTL:       5 * time.Minute,
		MaxConcurrency: DefaultBatchConcurrency,
		Logger:         logger,
	}
}

// CalculateAvailability checks one unit against the requested range.
// Store failures propagate to the caller.
func (e *AvailabilityEngine) CalculateAvailability(ctx context.Context, unitID string, requested interval.Range, opts AvailabilityOptions) (*AvailabilityResult, error) {
	if err := ValidateID("unit_id", unitID); err != nil {
		return nil, err
	}
	if err := requested.Validate(); err != nil {
		return nil, invalid("range", err.Error())
	}

	key := fmt.Sprintf("%s|%d|%d|%t|%t", unitID, requested.From.Unix(), requested.To.Unix(),
		opts.IncludeConflicts, opts.CalculateNextAvailable)

	var cached AvailabilityResult
	if hit, err := e.Cache.Get(ctx, NamespaceAvailability, key, &cached); err != nil {
		e.Logger.Warn("availability cache read failed", zap.String("unit_id", unitID), zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	agreements, err := e.Store.FindAgreements(ctx, AgreementFilter{
		UnitID:      unitID,
		Statuses:    BlockingStatuses,
		Overlapping: &requested,
	})
	if err != nil {
		metrics.AvailabilityChecks.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("find agreements for unit %s: %w", unitID, err)
	}

	result := &AvailabilityResult{UnitID: unitID}
	var conflicts []Conflict
	for _, a := range agreements {
		// Re-check in Go: not every store pushes the overlap predicate down.
		if !a.Status.In(BlockingStatuses) || a.Impact.IsZero() || !interval.Overlaps(a.Impact, requested) || !a.References(unitID) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			AgreementID: a.ID,
			VendorName:  a.VendorName,
			Status:      a.Status,
			Start:       a.Impact.From,
			End:         a.Impact.To,
		})
	}

	result.Available = len(conflicts) == 0
	if opts.IncludeConflicts {
		result.Conflicts = conflicts
	}
	if !result.Available && opts.CalculateNextAvailable {
		next := conflicts[0].End
		for _, c := range conflicts[1:] {
			next = interval.Later(next, c.End)
		}
		result.NextAvailable = &next
	}

	if result.Available {
		metrics.AvailabilityChecks.WithLabelValues("available").Inc()
	} else {
		metrics.AvailabilityChecks.WithLabelValues("conflict").Inc()
	}

	if err := e.Cache.Set(ctx, NamespaceAvailability, key, result, e.CacheTTL); err != nil {
		e.Logger.Warn("availability cache write failed", zap.String("unit_id", unitID), zap.Error(err))
	}
	return result, nil
}

// CalculateBatchAvailability checks many units concurrently. Per-unit failures
// are reported in the item, never returned.
func (e *AvailabilityEngine) CalculateBatchAvailability(ctx context.Context, in BatchAvailabilityInput) []UnitAvailability {
	opts := DefaultAvailabilityOptions()
	if in.Options != nil {
		opts = *in.Options
	}

	results := make([]UnitAvailability, len(in.UnitIDs))
	var g errgroup.Group
	g.SetLimit(e.concurrency())

	for i, unitID := range in.UnitIDs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("availability for unit %s panicked: %v", unitID, r)
					results[i] = failedItem(unitID, err)
					e.Logger.Error("batch availability item panicked", zap.String("unit_id", unitID), zap.Any("panic", r))
				}
			}()

			res, calcErr := e.CalculateAvailability(ctx, unitID, in.Range, opts)
			if calcErr != nil {
				e.Logger.Warn("batch availability item failed", zap.String("unit_id", unitID), zap.Error(calcErr))
				results[i] = failedItem(unitID, calcErr)
				return nil
			}
			results[i] = UnitAvailability{UnitID: unitID, Available: res.Available, Result: res}
			return nil
		})
	}

	// Items never return errors; recovered panics are already recorded.
	_ = g.Wait()
	return results
}

func failedItem(unitID string, err error) UnitAvailability {
	return UnitAvailability{UnitID: unitID, Available: false, Error: err.Error(), Err: err}
}

// FindAvailableUnits loads up to limit units of the given types and returns
// the ones free for the requested range. A limit of 0 loads every matching
// unit; negative limits are rejected.
func (e *AvailabilityEngine) FindAvailableUnits(ctx context.Context, types []string, requested interval.Range, limit int) ([]AvailableUnit, error) {
	if err := requested.Validate(); err != nil {
		return nil, invalid("range", err.Error())
	}
	if limit < 0 {
		return nil, invalid("limit", "must not be negative")
	}

	units, err := e.Store.FindUnits(ctx, UnitFilter{Types: types, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("find units: %w", err)
	}

	available := make([]AvailableUnit, 0, len(units))
	for _, u := range units {
		res, err := e.CalculateAvailability(ctx, u.ID, requested, DefaultAvailabilityOptions())
		if err != nil {
			return nil, err
		}
		if res.Available {
			available = append(available, AvailableUnit{Unit: u, Availability: *res})
		}
	}
	return available, nil
}

func (e *AvailabilityEngine) concurrency() int {
	if e.MaxConcurrency > 0 {
		return e.MaxConcurrency
	}
	return DefaultBatchConcurrency
}
