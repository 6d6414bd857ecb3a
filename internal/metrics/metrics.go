// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetch_total",
			Help: "Total number of HTTP fetches, labeled by site, method and outcome.",
		},
		[]string{"site", "method", "outcome"},
	)

	fetchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetch_retries_total",
			Help: "Total number of retried fetch attempts, labeled by site.",
		},
		[]string{"site"},
	)

	fetchBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_fetch_bytes_total",
			Help: "Total number of bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	linksDiscoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_links_discovered_total",
			Help: "Total number of unique product links discovered, labeled by run.",
		},
		[]string{"run"},
	)

	productsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_products_total",
			Help: "Total number of product links processed, labeled by run and status.",
		},
		[]string{"run", "status"},
	)

	stageWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_stage_writes_total",
			Help: "Total number of artifact writes, labeled by stage.",
		},
		[]string{"stage"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_http_requests_total",
			Help: "Total number of HTTP requests served, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	rateLimitDelaySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_rate_limit_delay_seconds",
			Help:    "Histogram of pacing waits between requests.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		Register(prometheus.DefaultRegisterer)
	})
}

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		fetchTotal,
		fetchRetriesTotal,
		fetchBytesTotal,
		linksDiscoveredTotal,
		productsTotal,
		stageWritesTotal,
		httpRequestsTotal,
		httpRequestDurationSeconds,
		rateLimitDelaySeconds,
	)
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

// ObserveFetch counts one completed fetch.
func ObserveFetch(rawURL, method, outcome string, bytesFetched int) {
	site := SanitizeSite(rawURL)
	fetchTotal.WithLabelValues(site, method, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts one retried attempt.
func ObserveRetry(rawURL string) {
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveLinksDiscovered adds n discovered links for run.
func ObserveLinksDiscovered(run string, n int) {
	linksDiscoveredTotal.WithLabelValues(run).Add(float64(n))
}

// ObserveProduct counts one processed product link.
func ObserveProduct(run, status string) {
	productsTotal.WithLabelValues(run, status).Inc()
}

// ObserveStageWrite counts one artifact write.
func ObserveStageWrite(stage string) {
	stageWritesTotal.WithLabelValues(stage).Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
