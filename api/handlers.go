/*
handlers.go - HTTP API handlers for the rental engine

PURPOSE:
  Exposes availability, revenue and agreement lifecycle operations via REST
  API. Handles HTTP request/response, JSON serialization, and delegates to
  the engines in package rental.

ENDPOINTS:
  Units:
    GET    /api/units                          List units (?type=shelf&type=fridge)
    POST   /api/units                          Register a unit
    GET    /api/units/available                Units free for ?from&to (&type&limit)
    POST   /api/units/availability             Batch availability
    GET    /api/units/{id}/availability        Single availability (?from&to&conflicts&next)

  Vendors:
    POST   /api/vendors                        Register a vendor
    GET    /api/vendors/{id}                   Vendor details
    GET    /api/vendors/{id}/trial-eligibility Can the vendor book a trial?

  Agreements:
    GET    /api/agreements                     List (?vendor_id&unit_id&status)
    POST   /api/agreements                     Create from JSON definition
    GET    /api/agreements/{id}                Agreement details
    POST   /api/agreements/{id}/status         Status transition
    POST   /api/agreements/{id}/cancel-trial   Cancel a trial booking

  Revenue:
    GET    /api/revenue                        Persisted records (?from&to, YYYY-MM)
    POST   /api/revenue/recalculate            Recalculate and persist a month range
    POST   /api/revenue/refresh                Recalculate every month with agreements
    GET    /api/revenue/combined               History + projection series
    GET    /api/revenue/statistics             Totals, average, best/worst
    GET    /api/revenue/trend                  Last N months with growth (?months)
    GET    /api/revenue/export.csv             CSV export (?from&to)
    GET    /api/revenue/year-over-year/{year}  Year vs previous year
    POST   /api/revenue/{month}/calculate      Historical month (persists)
    GET    /api/revenue/{month}/projection     Projected month (never persisted)
    GET    /api/occupancy/{month}              Occupancy (?top&projected)
    GET    /api/pipeline                       Future contract pipeline (?months)

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: persistence (SQLite or in-memory)
  - Coordinator / Availability / Revenue: engines sharing store and cache
  - Factory: JSON to rental input conversion

ERROR HANDLING:
  Domain errors map to HTTP status (see writeDomainError):
  - 400: ValidationError, malformed input
  - 404: NotFoundError
  - 409: ConflictError
  - 500: anything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/factory"
	"github.com/warp/rental-engine/interval"
	"github.com/warp/rental-engine/logger"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: the engine store plus Reset for
// demo scenarios.
type Store interface {
	rental.Store
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        Store
	Cache        rental.Cache
	Coordinator  *rental.LifecycleCoordinator
	Availability *rental.AvailabilityEngine
	Revenue      *rental.RevenueEngine
	Factory      *factory.AgreementFactory
	Logger       *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engines over one store and cache.
func NewHandler(store Store, cache rental.Cache, cfg config.Engine, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}

	coordinator := rental.NewLifecycleCoordinator(store, cache, logger.Named(log, "lifecycle"))
	if cfg.TrialLength > 0 {
		coordinator.TrialLength = cfg.TrialLength
	}

	availability := rental.NewAvailabilityEngine(store, cache, logger.Named(log, "availability"))
	if cfg.BatchConcurrency > 0 {
		availability.MaxConcurrency = cfg.BatchConcurrency
	}
	if cfg.AvailabilityTTL > 0 {
		availability.CacheTTL = cfg.AvailabilityTTL
	}

	revenue := rental.NewRevenueEngine(store, cache, logger.Named(log, "revenue"))
	if cfg.RevenueTTL > 0 {
		revenue.CacheTTL = cfg.RevenueTTL
	}

	return &Handler{
		Store:        store,
		Cache:        cache,
		Coordinator:  coordinator,
		Availability: availability,
		Revenue:      revenue,
		Factory:      factory.NewAgreementFactory(),
		Logger:       log,
	}
}

// SetClock overrides "now" for every engine. Used by tests and scenarios.
func (h *Handler) SetClock(now func() time.Time) {
	h.Coordinator.Now = now
	h.Revenue.Now = now
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

// ListUnits returns units, optionally filtered by type.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.Store.FindUnits(r.Context(), rental.UnitFilter{Types: r.URL.Query()["type"]})
	if err != nil {
		h.writeDomainError(w, "Failed to list units", err)
		return
	}
	if units == nil {
		units = []rental.RentalUnit{}
	}
	writeJSON(w, http.StatusOK, units)
}

// CreateUnit registers a unit.
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req factory.UnitJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	unit, err := h.Coordinator.RegisterUnit(r.Context(), h.Factory.UnitFromJSON(req))
	if err != nil {
		h.writeDomainError(w, "Failed to register unit", err)
		return
	}
	writeJSON(w, http.StatusCreated, unit)
}

// GetUnitAvailability checks one unit.
// GET /api/units/{id}/availability?from=2025-01-01&to=2025-02-01&conflicts=true&next=true
func (h *Handler) GetUnitAvailability(w http.ResponseWriter, r *http.Request) {
	requested, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	opts := rental.DefaultAvailabilityOptions()
	opts.IncludeConflicts = queryBool(r, "conflicts", opts.IncludeConflicts)
	opts.CalculateNextAvailable = queryBool(r, "next", opts.CalculateNextAvailable)

	result, err := h.Availability.CalculateAvailability(r.Context(), chi.URLParam(r, "id"), requested, opts)
	if err != nil {
		h.writeDomainError(w, "Failed to calculate availability", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BatchAvailability checks many units; one failing unit does not fail the batch.
func (h *Handler) BatchAvailability(w http.ResponseWriter, r *http.Request) {
	var req BatchAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	requested, err := parseRange(req.From, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	opts := rental.DefaultAvailabilityOptions()
	if req.IncludeConflicts != nil {
		opts.IncludeConflicts = *req.IncludeConflicts
	}
	if req.CalculateNextAvailable != nil {
		opts.CalculateNextAvailable = *req.CalculateNextAvailable
	}

	results := h.Availability.CalculateBatchAvailability(r.Context(), rental.BatchAvailabilityInput{
		UnitIDs: req.UnitIDs,
		Range:   requested,
		Options: &opts,
	})

	dto := BatchAvailabilityDTO{From: req.From, To: req.To, Results: results}
	for _, res := range results {
		if res.Available {
			dto.Available++
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// FindAvailableUnits lists units free for the whole range.
func (h *Handler) FindAvailableUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	requested, err := parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	units, err := h.Availability.FindAvailableUnits(r.Context(), q["type"], requested, limit)
	if err != nil {
		h.writeDomainError(w, "Failed to find available units", err)
		return
	}
	if units == nil {
		units = []rental.AvailableUnit{}
	}
	writeJSON(w, http.StatusOK, units)
}

// =============================================================================
// VENDOR HANDLERS
// =============================================================================

// CreateVendor registers a vendor. Trial status defaults to preregistered.
func (h *Handler) CreateVendor(w http.ResponseWriter, r *http.Request) {
	var req factory.VendorJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	vendor, err := h.Factory.VendorFromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid vendor", err)
		return
	}

	saved, err := h.Coordinator.RegisterVendor(r.Context(), vendor)
	if err != nil {
		h.writeDomainError(w, "Failed to register vendor", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// GetVendor returns a vendor.
func (h *Handler) GetVendor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	vendor, err := h.Store.GetVendor(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get vendor", err)
		return
	}
	if vendor == nil {
		writeError(w, http.StatusNotFound, "Vendor not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, vendor)
}

// GetTrialEligibility reports whether the vendor may book a trial.
func (h *Handler) GetTrialEligibility(w http.ResponseWriter, r *http.Request) {
	eligibility, err := h.Coordinator.CanMakeTrialBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to check trial eligibility", err)
		return
	}
	writeJSON(w, http.StatusOK, eligibility)
}

// =============================================================================
// AGREEMENT HANDLERS
// =============================================================================

// ListAgreements returns agreements filtered by vendor, unit or status.
func (h *Handler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := rental.AgreementFilter{
		VendorID: q.Get("vendor_id"),
		UnitID:   q.Get("unit_id"),
	}
	for _, s := range q["status"] {
		status := rental.Status(strings.ToLower(s))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown status: "+s, nil)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	agreements, err := h.Store.FindAgreements(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list agreements", err)
		return
	}
	if agreements == nil {
		agreements = []rental.Agreement{}
	}
	writeJSON(w, http.StatusOK, agreements)
}

// CreateAgreement books units for a vendor.
func (h *Handler) CreateAgreement(w http.ResponseWriter, r *http.Request) {
	var req CreateAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := h.Factory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid agreement", err)
		return
	}

	agreement, err := h.Coordinator.CreateAgreement(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, "Failed to create agreement", err)
		return
	}
	writeJSON(w, http.StatusCreated, agreement)
}

// GetAgreement returns one agreement.
func (h *Handler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	agreement, err := h.Store.GetAgreement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to get agreement", err)
		return
	}
	if agreement == nil {
		writeError(w, http.StatusNotFound, "Agreement not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

// TransitionStatus moves an agreement along its lifecycle.
func (h *Handler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req TransitionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	agreement, err := h.Coordinator.TransitionStatus(r.Context(), chi.URLParam(r, "id"), rental.Status(strings.ToLower(req.Status)))
	if err != nil {
		h.writeDomainError(w, "Failed to change status", err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

// CancelTrialBooking cancels a vendor's trial booking and frees its units.
func (h *Handler) CancelTrialBooking(w http.ResponseWriter, r *http.Request) {
	var req CancelTrialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	agreement, err := h.Coordinator.CancelTrialBooking(r.Context(), chi.URLParam(r, "id"), req.VendorID)
	if err != nil {
		h.writeDomainError(w, "Failed to cancel trial booking", err)
		return
	}
	writeJSON(w, http.StatusOK, agreement)
}

// =============================================================================
// REVENUE HANDLERS
// =============================================================================

// CalculateMonth recalculates and persists one historical month.
// POST /api/revenue/2025-01/calculate?include_trial=false
func (h *Handler) CalculateMonth(w http.ResponseWriter, r *http.Request) {
	m, err := interval.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}

	result, err := h.Revenue.CalculateMonthlyRevenue(r.Context(), m.Year, m.Month, queryBool(r, "include_trial", false))
	if err != nil {
		h.writeDomainError(w, "Failed to calculate revenue", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ProjectMonth projects a month. Trial revenue is included by default.
func (h *Handler) ProjectMonth(w http.ResponseWriter, r *http.Request) {
	m, err := interval.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}

	result, err := h.Revenue.CalculateFutureRevenue(r.Context(), m.Year, m.Month, queryBool(r, "include_trial", true))
	if err != nil {
		h.writeDomainError(w, "Failed to project revenue", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetRevenueRange returns persisted records.
func (h *Handler) GetRevenueRange(w http.ResponseWriter, r *http.Request) {
	from, to, ok := monthRange(w, r)
	if !ok {
		return
	}

	records, err := h.Revenue.GetRevenueRange(r.Context(), from, to)
	if err != nil {
		h.writeDomainError(w, "Failed to get revenue records", err)
		return
	}
	if records == nil {
		records = []rental.MonthlyRevenueRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// RecalculateRange recalculates a month range sequentially.
func (h *Handler) RecalculateRange(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	from, err := interval.ParseMonth(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from month", err)
		return
	}
	to, err := interval.ParseMonth(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to month", err)
		return
	}

	results, err := h.Revenue.CalculateRevenueRange(r.Context(), from, to, req.IncludeTrial)
	if err != nil {
		h.writeDomainError(w, "Failed to recalculate revenue", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// RefreshAll recalculates every month that has agreements.
func (h *Handler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Revenue.RefreshAllRevenueData(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to refresh revenue", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetCombinedRevenue returns history stitched with projections.
func (h *Handler) GetCombinedRevenue(w http.ResponseWriter, r *http.Request) {
	from, to, ok := monthRange(w, r)
	if !ok {
		return
	}

	series, err := h.Revenue.GetCombinedRevenue(r.Context(), from, to)
	if err != nil {
		h.writeDomainError(w, "Failed to get combined revenue", err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// GetRevenueStatistics summarizes persisted records.
func (h *Handler) GetRevenueStatistics(w http.ResponseWriter, r *http.Request) {
	from, to, ok := monthRange(w, r)
	if !ok {
		return
	}

	stats, err := h.Revenue.GetRevenueStatistics(r.Context(), from, to)
	if err != nil {
		h.writeDomainError(w, "Failed to get revenue statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetRevenueTrend returns the last N months (default 12).
func (h *Handler) GetRevenueTrend(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "months", 12)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid months", err)
		return
	}

	trend, err := h.Revenue.GetRevenueTrend(r.Context(), months)
	if err != nil {
		h.writeDomainError(w, "Failed to get revenue trend", err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

// CompareYearOverYear compares a year with the previous one.
func (h *Handler) CompareYearOverYear(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	yoy, err := h.Revenue.CompareYearOverYear(r.Context(), year)
	if err != nil {
		h.writeDomainError(w, "Failed to compare years", err)
		return
	}
	writeJSON(w, http.StatusOK, yoy)
}

// ExportRevenueCSV streams the key/value CSV export.
func (h *Handler) ExportRevenueCSV(w http.ResponseWriter, r *http.Request) {
	from, to, ok := monthRange(w, r)
	if !ok {
		return
	}

	out, err := h.Revenue.ExportRevenueCSV(r.Context(), from, to)
	if err != nil {
		h.writeDomainError(w, "Failed to export revenue", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="revenue-`+from.String()+`-`+to.String()+`.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(out))
}

// GetOccupancy reports occupancy for a month; ?projected=true projects it.
func (h *Handler) GetOccupancy(w http.ResponseWriter, r *http.Request) {
	m, err := interval.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}
	top, err := queryInt(r, "top", 5)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid top", err)
		return
	}

	var occupancy *rental.OccupancyAnalysis
	if queryBool(r, "projected", false) {
		occupancy, err = h.Revenue.GetProjectedOccupancy(r.Context(), m.Year, m.Month, top)
	} else {
		occupancy, err = h.Revenue.GetOccupancyAnalysis(r.Context(), m.Year, m.Month, top)
	}
	if err != nil {
		h.writeDomainError(w, "Failed to analyse occupancy", err)
		return
	}
	writeJSON(w, http.StatusOK, occupancy)
}

// GetPipeline groups upcoming agreements by start month (default 6 months).
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "months", 6)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid months", err)
		return
	}

	pipeline, err := h.Revenue.GetFutureContractPipeline(r.Context(), months)
	if err != nil {
		h.writeDomainError(w, "Failed to get pipeline", err)
		return
	}
	writeJSON(w, http.StatusOK, pipeline)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the rental error taxonomy to HTTP status codes.
// Infrastructure details are logged, not returned.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, rental.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, rental.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, rental.ErrConflict):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func parseRange(from, to string) (interval.Range, error) {
	f, err := factory.ParseDate(from)
	if err != nil {
		return interval.Range{}, err
	}
	t, err := factory.ParseDate(to)
	if err != nil {
		return interval.Range{}, err
	}
	return interval.NewRange(f, t), nil
}

// monthRange parses ?from=YYYY-MM&to=YYYY-MM and writes a 400 on failure.
func monthRange(w http.ResponseWriter, r *http.Request) (interval.Month, interval.Month, bool) {
	from, err := interval.ParseMonth(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from month", err)
		return interval.Month{}, interval.Month{}, false
	}
	to, err := interval.ParseMonth(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to month", err)
		return interval.Month{}, interval.Month{}, false
	}
	return from, to, true
}

func queryBool(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
