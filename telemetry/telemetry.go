// ABOUTME: Prometheus collectors for the HTTP surface and calendar reconciliation
// ABOUTME: Uses a private registry exposed on /metrics by the web server
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application's collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funnel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "funnel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	// MeetingsAutoResolved counts pending meetings closed by reconciliation, by reason.
	MeetingsAutoResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funnel",
			Subsystem: "calendar",
			Name:      "meetings_auto_resolved_total",
			Help:      "Pending meetings closed automatically during reconciliation.",
		},
		[]string{"reason"},
	)

	// ProviderErrors counts failed calls to the calendar provider, by operation.
	ProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funnel",
			Subsystem: "calendar",
			Name:      "provider_errors_total",
			Help:      "Failed calls to the external calendar provider.",
		},
		[]string{"operation"},
	)

	// TokensRotated counts OAuth tokens persisted after a refresh.
	TokensRotated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "funnel",
			Subsystem: "calendar",
			Name:      "tokens_rotated_total",
			Help:      "OAuth tokens written back after rotation.",
		},
	)

	// StageTransitions counts applied transitions by target stage.
	StageTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funnel",
			Subsystem: "pipeline",
			Name:      "stage_transitions_total",
			Help:      "Stage transitions applied, by target stage.",
		},
		[]string{"stage"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		MeetingsAutoResolved,
		ProviderErrors,
		TokensRotated,
		StageTransitions,
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
