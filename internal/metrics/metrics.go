// Package metrics exposes Prometheus collectors for the archiver service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	fetchAttemptsTotal         *prometheus.CounterVec
	unitCacheTotal             *prometheus.CounterVec
	unitsTotal                 *prometheus.CounterVec
	imagesTotal                *prometheus.CounterVec
	jobSubmissionsTotal        *prometheus.CounterVec
	artifactBytes              *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fetch_attempts_total",
				Help: "Upstream fetch attempts, labeled by site, operation and result.",
			},
			[]string{"site", "op", "result"},
		)

		unitCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_unit_cache_total",
				Help: "Unit cache lookups, labeled by result (hit, miss, error).",
			},
			[]string{"result"},
		)

		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_units_total",
				Help: "Units resolved by acquisition jobs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		imagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_images_total",
				Help: "Embedded image resolutions during packaging, labeled by result.",
			},
			[]string{"result"},
		)

		jobSubmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_job_submissions_total",
				Help: "Job submissions, labeled by result (created, resubmitted, existing).",
			},
			[]string{"result"},
		)

		artifactBytes = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_artifact_bytes",
				Help:    "Size of packaged artifacts, labeled by format.",
				Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
			},
			[]string{"format"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFetchAttempt counts one upstream attempt.
func ObserveFetchAttempt(site, op, result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(site, op, result).Inc()
}

// ObserveCacheLookup counts a unit cache lookup result.
func ObserveCacheLookup(result string) {
	Init()
	unitCacheTotal.WithLabelValues(result).Inc()
}

// ObserveUnit counts a resolved unit by outcome.
func ObserveUnit(outcome string) {
	Init()
	unitsTotal.WithLabelValues(outcome).Inc()
}

// ObserveImage counts an image resolution result.
func ObserveImage(result string) {
	Init()
	imagesTotal.WithLabelValues(result).Inc()
}

// ObserveJobSubmission counts a SubmitJob call by how it was resolved.
func ObserveJobSubmission(result string) {
	Init()
	jobSubmissionsTotal.WithLabelValues(result).Inc()
}

// ObserveArtifact records the size of a packaged artifact.
func ObserveArtifact(format string, size int64) {
	Init()
	artifactBytes.WithLabelValues(format).Observe(float64(size))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
