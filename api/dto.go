/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication that have no domain
  counterpart. Agreements, units, vendors and revenue results already carry
  JSON tags in package rental and are returned as-is.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Availability:
    BatchAvailabilityRequest, BatchAvailabilityDTO

  Agreements:
    CreateAgreementRequest (factory.AgreementJSON), TransitionStatusRequest,
    CancelTrialRequest

  Revenue:
    RecalculateRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Parsing happens in handlers; domain validation in package rental.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/agreement.go: AgreementJSON, UnitJSON, VendorJSON
*/
package api

import (
	"github.com/warp/rental-engine/factory"
	"github.com/warp/rental-engine/rental"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// BatchAvailabilityRequest checks many units against one range.
type BatchAvailabilityRequest struct {
	UnitIDs                []string `json:"unit_ids"`
	From                   string   `json:"from"`
	To                     string   `json:"to"`
	IncludeConflicts       *bool    `json:"include_conflicts,omitempty"`
	CalculateNextAvailable *bool    `json:"calculate_next_available,omitempty"`
}

// BatchAvailabilityDTO wraps per-unit results. Failed units carry Error.
type BatchAvailabilityDTO struct {
	From      string                    `json:"from"`
	To        string                    `json:"to"`
	Available int                       `json:"available"`
	Results   []rental.UnitAvailability `json:"results"`
}

// CreateAgreementRequest is the JSON agreement definition.
type CreateAgreementRequest = factory.AgreementJSON

// TransitionStatusRequest moves an agreement to a new status.
type TransitionStatusRequest struct {
	Status string `json:"status"`
}

// CancelTrialRequest identifies the vendor cancelling its trial booking.
type CancelTrialRequest struct {
	VendorID string `json:"vendor_id"`
}

// RecalculateRequest recalculates and persists months from..to (YYYY-MM).
type RecalculateRequest struct {
	From         string `json:"from"`
	To           string `json:"to"`
	IncludeTrial bool   `json:"include_trial"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
