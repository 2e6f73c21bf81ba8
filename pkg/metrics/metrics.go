package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WmsRequestsTotal counts handled requests by backend, suffix and outcome.
	WmsRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapserver_wms_requests_total",
			Help: "Total number of WMS requests by backend, suffix and status",
		},
		[]string{"backend", "suffix", "status"},
	)

	WmsRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapserver_wms_request_duration_seconds",
			Help:    "End-to-end WMS request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "suffix"},
	)

	// FcgiClientPoolAvailable tracks idle connections per worker's client pool.
	FcgiClientPoolAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mapserver_fcgi_client_pool_available",
			Help: "Number of idle FastCGI client connections available per worker",
		},
		[]string{"backend", "worker"},
	)

	FcgiClientPoolInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mapserver_fcgi_client_pool_in_use",
			Help: "Number of FastCGI client connections currently checked out per worker",
		},
		[]string{"backend", "worker"},
	)

	FcgiClientWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapserver_fcgi_client_wait_seconds",
			Help:    "Time spent waiting to acquire a FastCGI client connection",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 50},
		},
		[]string{"backend"},
	)

	// WorkersAlive tracks the number of running worker processes per backend.
	WorkersAlive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mapserver_workers_alive",
			Help: "Number of FastCGI worker processes currently running",
		},
		[]string{"backend"},
	)

	WorkersRespawnedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapserver_workers_respawned_total",
			Help: "Total number of worker respawns by backend",
		},
		[]string{"backend"},
	)

	// ProjectCacheSize and ProjectCacheHitTotal are registered, but no code
	// in this module sets or increments them, so they export no series.
	ProjectCacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mapserver_project_cache_size",
			Help: "Number of projects currently indexed per backend",
		},
		[]string{"backend"},
	)

	ProjectCacheHitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapserver_project_cache_hit_total",
			Help: "Total number of requests served by an already-indexed project",
		},
		[]string{"backend"},
	)

	// DispatchSlowPromotionsTotal and DispatchSlowDemotionsTotal track the
	// WmsOptimized dispatcher moving fingerprints between priority tables.
	DispatchSlowPromotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapserver_dispatch_slow_promotions_total",
			Help: "Total number of request fingerprints promoted to the slow table",
		},
	)

	DispatchSlowDemotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapserver_dispatch_slow_demotions_total",
			Help: "Total number of request fingerprints demoted back to normal",
		},
	)
)

func init() {
	prometheus.MustRegister(WmsRequestsTotal)
	prometheus.MustRegister(WmsRequestDuration)
	prometheus.MustRegister(FcgiClientPoolAvailable)
	prometheus.MustRegister(FcgiClientPoolInUse)
	prometheus.MustRegister(FcgiClientWaitSeconds)
	prometheus.MustRegister(WorkersAlive)
	prometheus.MustRegister(WorkersRespawnedTotal)
	prometheus.MustRegister(ProjectCacheSize)
	prometheus.MustRegister(ProjectCacheHitTotal)
	prometheus.MustRegister(DispatchSlowPromotionsTotal)
	prometheus.MustRegister(DispatchSlowDemotionsTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
