// Package metrics holds the prometheus collectors of the rental engine.
// Collectors register on the default registry; api exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rental_engine"

var (
	// AvailabilityChecks counts single-unit availability calculations by outcome
	// (available, conflict, error).
	AvailabilityChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "availability_checks_total",
		Help:      "Availability calculations by outcome.",
	}, []string{"result"})

	// RevenueCalculations counts monthly revenue calculations by mode
	// (historical, projection) and outcome (ok, error).
	RevenueCalculations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "revenue_calculations_total",
		Help:      "Monthly revenue calculations by mode and outcome.",
	}, []string{"mode", "result"})

	RevenueCalculationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "revenue_calculation_duration_seconds",
		Help:      "Duration of a single monthly revenue calculation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	// RecalculationJobRuns counts scheduled recalculation attempts (ok, retry, failed).
	RecalculationJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recalculation_job_runs_total",
		Help:      "Scheduled revenue recalculation runs by outcome.",
	}, []string{"result"})
)
