package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arpitdalal/tax-calculator/internal/health"
)

var (
	// Cache metrics

	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxcalc",
		Name:      "cache_hits_total",
		Help:      "Cache hits, by cache.",
	}, []string{"cache"})

	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxcalc",
		Name:      "cache_misses_total",
		Help:      "Cache misses, by cache.",
	}, []string{"cache"})

	UpstreamFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxcalc",
		Name:      "upstream_fetches_total",
		Help:      "Bracket schedule fetches against the upstream API, by outcome.",
	}, []string{"outcome"})

	// Batch metrics

	JobsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taxcalc",
		Name:      "jobs_submitted_total",
		Help:      "Total batch jobs accepted.",
	})

	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxcalc",
		Name:      "jobs_completed_total",
		Help:      "Total batch jobs finished, by outcome.",
	}, []string{"outcome"})

	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taxcalc",
		Name:      "job_duration_seconds",
		Help:      "Time from job submission to completion.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	ItemsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "taxcalc",
		Name:      "items_in_flight",
		Help:      "Batch items currently being processed by workers.",
	})

	ItemsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxcalc",
		Name:      "items_processed_total",
		Help:      "Batch items resolved, by outcome.",
	}, []string{"outcome"})

	ItemDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taxcalc",
		Name:      "item_duration_seconds",
		Help:      "Time to resolve a single batch item.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// Webhook metrics

	WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxcalc",
		Name:      "webhook_deliveries_total",
		Help:      "Webhook delivery attempts concluded, by outcome.",
	}, []string{"outcome"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taxcalc",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taxcalc",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "taxcalc",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})
)

func Register() {
	prometheus.MustRegister(
		CacheHits,
		CacheMisses,
		UpstreamFetches,
		JobsSubmitted,
		JobsCompleted,
		JobDuration,
		ItemsInFlight,
		ItemsProcessed,
		ItemDuration,
		WebhookDeliveries,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		RateLimited,
	)
}

func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	code := http.StatusOK
	if result.Status != "up" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(result)
}
