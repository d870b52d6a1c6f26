/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario registers units and vendors,
	books agreements through the lifecycle coordinator and, where useful,
	calculates revenue so the dashboards have something to show.

AVAILABLE SCENARIOS:

	basic-month:      Paying vendors, mid-month start, premium bundle with add-ons
	trial-conversion: Trial booking whose revenue starts at the trial end,
	                  plus a trial booking cancelled during the trial
	conflicts:        Overlapping and touching bookings on the same unit

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Register units and vendors
 3. Create agreements via factory presets + coordinator
 4. Optionally calculate revenue for the previous month

Dates are anchored to the current month so trials are still running
whenever the scenario is loaded.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "trial-conversion"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add it to the loaders map

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and helpers
  - factory/agreement.go: agreement JSON presets
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/rental-engine/factory"
	"github.com/warp/rental-engine/interval"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "basic-month",
		Name:        "Basic Month",
		Description: "Paying vendors with a mid-month start and a premium bundle; previous month revenue calculated",
	},
	{
		ID:          "trial-conversion",
		Name:        "Trial Conversion",
		Description: "Trial booking paying from the trial end, and a trial booking cancelled during the trial",
	},
	{
		ID:          "conflicts",
		Name:        "Conflicts",
		Description: "Overlapping and back-to-back bookings on the same unit",
	},
}

func (h *Handler) loaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"basic-month":      h.loadBasicMonthScenario,
		"trial-conversion": h.loadTrialConversionScenario,
		"conflicts":        h.loadConflictsScenario,
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := h.loaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.writeDomainError(w, "Failed to reset store", err)
		return
	}

	if err := load(ctx); err != nil {
		h.writeDomainError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears every entity and cached result.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeDomainError(w, "Failed to reset store", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	for _, ns := range []string{rental.NamespaceAvailability, rental.NamespaceRevenue} {
		if err := h.Cache.InvalidateNamespace(ctx, ns); err != nil {
			h.Logger.Warn("cache invalidation failed", zap.String("namespace", ns), zap.Error(err))
		}
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadBasicMonthScenario(ctx context.Context) error {
	// Previous month, so its revenue is historical
	prev := interval.MonthOf(h.Coordinator.Now()).Prev()
	start := prev.Start()

	if err := h.registerUnits(ctx, []factory.UnitJSON{
		{ID: "shelf-a1", Label: "Shelf A1", Type: "shelf", Location: "aisle A", BasePrice: decimal.NewFromInt(100)},
		{ID: "shelf-a2", Label: "Shelf A2", Type: "shelf", Location: "aisle A", BasePrice: decimal.NewFromInt(80)},
		{ID: "fridge-b1", Label: "Fridge B1", Type: "fridge", Location: "back wall", BasePrice: decimal.NewFromInt(150)},
		{ID: "shelf-c1", Label: "Shelf C1", Type: "shelf", Location: "aisle C", BasePrice: decimal.NewFromInt(60)},
	}); err != nil {
		return err
	}
	if err := h.registerVendors(ctx, []rental.Vendor{
		{ID: "vendor-acme", Name: "Acme Ceramics", TrialStatus: rental.TrialConverted},
		{ID: "vendor-bloom", Name: "Bloom Botanicals", TrialStatus: rental.TrialConverted},
	}); err != nil {
		return err
	}

	// Starts on the 10th: prorated over the rest of the month
	if err := h.book(ctx, factory.StandardShelfJSON("agr-acme-1", "vendor-acme", "shelf-a1", "100",
		start.AddDate(0, 0, 9).Format("2006-01-02"), 3)); err != nil {
		return err
	}
	// Full month, premium tier with storage + shipping handling
	if err := h.book(ctx, factory.PremiumBundleJSON("agr-bloom-1", "vendor-bloom",
		start.Format("2006-01-02"), 6, map[string]string{"shelf-a2": "80", "fridge-b1": "150"})); err != nil {
		return err
	}

	_, err := h.Revenue.CalculateMonthlyRevenue(ctx, prev.Year, prev.Month, false)
	return err
}

func (h *Handler) loadTrialConversionScenario(ctx context.Context) error {
	now := h.Coordinator.Now()
	trialEnd := interval.StartOfDay(now).AddDate(0, 0, 14)

	if err := h.registerUnits(ctx, []factory.UnitJSON{
		{ID: "shelf-t1", Label: "Trial Shelf 1", Type: "shelf", BasePrice: decimal.NewFromInt(120)},
		{ID: "shelf-t2", Label: "Trial Shelf 2", Type: "shelf", BasePrice: decimal.NewFromInt(90)},
	}); err != nil {
		return err
	}
	trialStart := interval.StartOfDay(now).AddDate(0, 0, -16)
	if err := h.registerVendors(ctx, []rental.Vendor{
		{ID: "vendor-nova", Name: "Nova Candles", TrialStatus: rental.TrialActive, TrialStart: &trialStart, TrialEnd: &trialEnd},
		{ID: "vendor-quill", Name: "Quill Paper Co", TrialStatus: rental.TrialActive, TrialStart: &trialStart, TrialEnd: &trialEnd},
	}); err != nil {
		return err
	}

	today := interval.StartOfDay(now).Format("2006-01-02")
	// Trial booking: revenue starts at the trial end, two weeks from now
	if err := h.book(ctx, factory.TrialBookingJSON("agr-nova-trial", "vendor-nova", "shelf-t1", "120", today, 2)); err != nil {
		return err
	}
	if err := h.book(ctx, factory.TrialBookingJSON("agr-quill-trial", "vendor-quill", "shelf-t2", "90", today, 1)); err != nil {
		return err
	}
	// Quill changes its mind during the trial: shelf-t2 is free again
	_, err := h.Coordinator.CancelTrialBooking(ctx, "agr-quill-trial", "vendor-quill")
	return err
}

func (h *Handler) loadConflictsScenario(ctx context.Context) error {
	month := interval.MonthOf(h.Coordinator.Now())
	start := month.Start()

	if err := h.registerUnits(ctx, []factory.UnitJSON{
		{ID: "shelf-x1", Label: "Shelf X1", Type: "shelf", BasePrice: decimal.NewFromInt(100)},
		{ID: "shelf-x2", Label: "Shelf X2", Type: "shelf", BasePrice: decimal.NewFromInt(100)},
	}); err != nil {
		return err
	}
	if err := h.registerVendors(ctx, []rental.Vendor{
		{ID: "vendor-orbit", Name: "Orbit Games", TrialStatus: rental.TrialConverted},
		{ID: "vendor-pine", Name: "Pine & Co", TrialStatus: rental.TrialConverted},
	}); err != nil {
		return err
	}

	// Orbit holds X1 for two months from the 1st
	if err := h.book(ctx, factory.StandardShelfJSON("agr-orbit-1", "vendor-orbit", "shelf-x1", "100",
		start.Format("2006-01-02"), 2)); err != nil {
		return err
	}
	// Pine books X1 right after: touching, not overlapping
	if err := h.book(ctx, factory.StandardShelfJSON("agr-pine-1", "vendor-pine", "shelf-x1", "95",
		start.AddDate(0, 2, 0).Format("2006-01-02"), 1)); err != nil {
		return err
	}
	// A cancelled booking never blocks X2
	cancelled, err := h.Factory.ParseAgreement(factory.StandardShelfJSON("agr-pine-2", "vendor-pine", "shelf-x2", "100",
		start.Format("2006-01-02"), 1))
	if err != nil {
		return err
	}
	cancelled.Status = rental.StatusPending
	if _, err := h.Coordinator.CreateAgreement(ctx, cancelled); err != nil {
		return err
	}
	_, err = h.Coordinator.TransitionStatus(ctx, "agr-pine-2", rental.StatusCancelled)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) registerUnits(ctx context.Context, units []factory.UnitJSON) error {
	for _, uj := range units {
		if _, err := h.Coordinator.RegisterUnit(ctx, h.Factory.UnitFromJSON(uj)); err != nil {
			return fmt.Errorf("register unit %s: %w", uj.ID, err)
		}
	}
	return nil
}

func (h *Handler) registerVendors(ctx context.Context, vendors []rental.Vendor) error {
	for _, v := range vendors {
		if _, err := h.Coordinator.RegisterVendor(ctx, v); err != nil {
			return fmt.Errorf("register vendor %s: %w", v.ID, err)
		}
	}
	return nil
}

func (h *Handler) book(ctx context.Context, agreementJSON string) error {
	in, err := h.Factory.ParseAgreement(agreementJSON)
	if err != nil {
		return err
	}
	if _, err := h.Coordinator.CreateAgreement(ctx, in); err != nil {
		return fmt.Errorf("book %s: %w", in.ID, err)
	}
	return nil
}
