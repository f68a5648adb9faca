// Package metrics exposes Prometheus collectors for the crawler service.
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
	navigationsTotal           *prometheus.CounterVec
	navigationDelaySeconds     *prometheus.HistogramVec
	sessionsInUse              prometheus.Gauge
	archiveWritesTotal         *prometheus.CounterVec
	landingFetchesTotal        *prometheus.CounterVec
	eventsPublishedTotal       *prometheus.CounterVec

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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		navigationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcrawler_navigations_total",
				Help: "Browser navigations, labeled by driver and result.",
			},
			[]string{"driver", "result"},
		)

		navigationDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "adcrawler_navigation_delay_seconds",
				Help:    "Time spent waiting on the per-host navigation limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		sessionsInUse = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "adcrawler_sessions_in_use",
				Help: "Browser sessions currently checked out of the pool.",
			},
		)

		archiveWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcrawler_archive_writes_total",
				Help: "Result archive writes, labeled by result.",
			},
			[]string{"result"},
		)

		landingFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcrawler_landing_fetches_total",
				Help: "Landing page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		eventsPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "adcrawler_events_published_total",
				Help: "Completion events published, labeled by result.",
			},
			[]string{"result"},
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

// ObserveNavigation counts one browser navigation.
func ObserveNavigation(driver, result string) {
	Init()
	navigationsTotal.WithLabelValues(driver, result).Inc()
}

// ObserveNavigationDelay records how long a navigation waited on the limiter.
func ObserveNavigationDelay(host string, duration time.Duration) {
	Init()
	navigationDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// IncSessionsInUse increments the checked-out sessions gauge.
func IncSessionsInUse() {
	Init()
	sessionsInUse.Inc()
}

// DecSessionsInUse decrements the checked-out sessions gauge.
func DecSessionsInUse() {
	Init()
	sessionsInUse.Dec()
}

// ObserveArchiveWrite counts an archive write by outcome.
func ObserveArchiveWrite(ok bool) {
	Init()
	archiveWritesTotal.WithLabelValues(resultLabel(ok)).Inc()
}

// ObserveLandingFetch counts a landing page fetch.
func ObserveLandingFetch(rawURL string, status int) {
	Init()
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status/100) + "xx"
	}
	landingFetchesTotal.WithLabelValues(SanitizeSite(rawURL), label).Inc()
}

// ObserveEventPublished counts a completion event publish.
func ObserveEventPublished(ok bool) {
	Init()
	eventsPublishedTotal.WithLabelValues(resultLabel(ok)).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
