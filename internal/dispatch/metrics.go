package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	geocodeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_geocode_requests_total",
			Help: "Geocode requests by tier and outcome",
		},
		[]string{"tier", "status"},
	)

	geocodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_geocode_duration_seconds",
			Help:    "End-to-end geocode latency including the provider cascade",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tier"},
	)

	providerSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_provider_selections_total",
			Help: "Successful provider selections by provider and tier",
		},
		[]string{"provider", "tier"},
	)

	strategySwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_strategy_switches_total",
			Help: "Runtime strategy switches by target strategy",
		},
		[]string{"strategy"},
	)

	credentialRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_credential_rotations_total",
			Help: "Credential rotations by provider and action",
		},
		[]string{"provider", "action"},
	)

	overlayMarkers = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_overlay_markers",
			Help:    "Marker count per built disease overlay",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"disease"},
	)
)

// Geocode outcome labels. Cancelled requests are tracked separately because
// they are caller-initiated, not provider failures.
const (
	outcomeSuccess     = "success"
	outcomeUnavailable = "unavailable"
	outcomeDenied      = "denied"
	outcomeNoProvider  = "no_provider"
	outcomeCancelled   = "cancelled"
	outcomeError       = "error"
)

func recordGeocode(tier, status string, started time.Time) {
	geocodeRequests.WithLabelValues(tier, status).Inc()
	geocodeDuration.WithLabelValues(tier).Observe(time.Since(started).Seconds())
}

func recordSelection(provider, tier string) {
	providerSelections.WithLabelValues(provider, tier).Inc()
}

func recordStrategySwitch(strategy string) {
	strategySwitches.WithLabelValues(strategy).Inc()
}

func recordCredentialRotation(provider, action string) {
	credentialRotations.WithLabelValues(provider, action).Inc()
}

func recordOverlay(disease string, markers int) {
	overlayMarkers.WithLabelValues(disease).Observe(float64(markers))
}
