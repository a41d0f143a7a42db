// Package metrics exposes Prometheus collectors for the crawl engine.
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
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerDiscoveredTotal        *prometheus.CounterVec
	crawlerSitesTotal             *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of directory pages scraped, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total artifact bytes persisted, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_discovered_urls_total",
				Help: "Total directory URLs discovered, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerSitesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sites_total",
				Help: "Total site crawls finished, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of dispatcher slots currently scraping a page.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"domain"},
		)

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

// ObserveScrape increments the page counters after a scrape settles.
func ObserveScrape(site string, status string, bytesWritten int) {
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesWritten > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesWritten))
	}
}

// ObserveDiscovered counts directory URLs as discovery finds them.
func ObserveDiscovered(site string, count int) {
	if count <= 0 {
		return
	}
	crawlerDiscoveredTotal.WithLabelValues(SanitizeSite(site)).Add(float64(count))
}

// ObserveSite increments the site counter for the given terminal status.
func ObserveSite(status string) {
	crawlerSitesTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
