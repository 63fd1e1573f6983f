// README: Prometheus collectors for the API, the refinery and the canary path.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated registry every binary exposes.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vectra_http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "vectra_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// ResolveOutcomes counts resolutions by result: cache_hit, db_hit, not_found, error.
	ResolveOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vectra_resolve_total", Help: "Resolution requests by outcome."},
		[]string{"outcome"},
	)
	// CanaryDecisions counts router outcomes: skipped, served, fallback, rejected.
	CanaryDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vectra_canary_total", Help: "Canary routing decisions."},
		[]string{"decision"},
	)
	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "vectra_breaker_state", Help: "Circuit breaker state per target."},
		[]string{"name"},
	)

	RefineOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vectra_refine_geohash_total", Help: "Per-geohash refinement outcomes."},
		[]string{"outcome"},
	)
	RefineCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "vectra_refine_cycle_seconds", Help: "Refinement cycle duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}},
	)

	SnapAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vectra_snap_attempts_total", Help: "Road snap attempts by provider and status."},
		[]string{"provider", "status"},
	)

	FeedbackOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vectra_feedback_total", Help: "Feedback submissions by outcome."},
		[]string{"outcome"},
	)
)

// RegisterDefault registers every collector on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(ResolveOutcomes)
		Registry.MustRegister(CanaryDecisions)
		Registry.MustRegister(BreakerState)
		Registry.MustRegister(RefineOutcomes)
		Registry.MustRegister(RefineCycleDuration)
		Registry.MustRegister(SnapAttempts)
		Registry.MustRegister(FeedbackOutcomes)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
