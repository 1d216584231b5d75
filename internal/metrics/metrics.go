// Package metrics exposes Prometheus collectors for the listing pipeline.
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
	queueClaimedTotal          prometheus.Counter
	queueTransitionsTotal      *prometheus.CounterVec
	fetchTotal                 *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	extractionsTotal           *prometheus.CounterVec
	qualityScore               prometheus.Histogram
	changeRecordsTotal         *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	bloomAddsTotal             *prometheus.CounterVec
	requeuedTotal              prometheus.Counter
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		queueClaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "listing_queue_claimed_total",
			Help: "Queue items claimed for fetching.",
		})
		queueTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_queue_transitions_total",
			Help: "Queue item state transitions, labeled by resulting status.",
		}, []string{"status"})
		fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_fetch_total",
			Help: "Fetch attempts, labeled by outcome.",
		}, []string{"outcome"})
		fetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listing_fetch_duration_seconds",
			Help:    "Fetch latency, labeled by fetcher.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"fetcher"})
		extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_extractions_total",
			Help: "Extraction passes, labeled by outcome.",
		}, []string{"outcome"})
		qualityScore = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "listing_quality_score",
			Help:    "Quality score of written snapshots.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		})
		changeRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_change_records_total",
			Help: "Change records written, labeled by field.",
		}, []string{"field"})
		notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_notifications_total",
			Help: "Change notifications sent, labeled by sink and outcome.",
		}, []string{"sink", "outcome"})
		bloomAddsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "listing_bloom_adds_total",
			Help: "Bloom filter adds, labeled by filter and whether the item was new.",
		}, []string{"filter", "result"})
		requeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "listing_requeued_total",
			Help: "Pages returned to the queue by the requeue step.",
		})
		rateLimitDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listing_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the per-domain limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain"})
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})
		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"})
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

// ObserveClaimed counts claimed queue items.
func ObserveClaimed(n int) {
	Init()
	queueClaimedTotal.Add(float64(n))
}

// ObserveTransition counts a queue item moving to status.
func ObserveTransition(status string) {
	Init()
	queueTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveFetch records a fetch outcome and its latency.
func ObserveFetch(fetcher, outcome string, duration time.Duration) {
	Init()
	fetchTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.WithLabelValues(fetcher).Observe(duration.Seconds())
}

// ObserveExtraction counts an extraction pass. Successful passes also record the score.
func ObserveExtraction(outcome string, score int) {
	Init()
	extractionsTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		qualityScore.Observe(float64(score))
	}
}

// ObserveChange counts a change record for field.
func ObserveChange(field string) {
	Init()
	changeRecordsTotal.WithLabelValues(field).Inc()
}

// ObserveNotification counts a notification attempt.
func ObserveNotification(sink, outcome string) {
	Init()
	notificationsTotal.WithLabelValues(sink, outcome).Inc()
}

// ObserveBloomAdd counts a bloom add; added reports whether the item was new.
func ObserveBloomAdd(filter string, added bool) {
	Init()
	result := "duplicate"
	if added {
		result = "added"
	}
	bloomAddsTotal.WithLabelValues(filter, result).Inc()
}

// ObserveRequeued counts requeued pages.
func ObserveRequeued(n int) {
	Init()
	requeuedTotal.Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
