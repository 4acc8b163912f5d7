// Package metrics exposes Prometheus collectors for the auditor service.
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
	auditPagesTotal               *prometheus.CounterVec
	auditPageDurationSeconds      *prometheus.HistogramVec
	auditPageRetriesTotal         prometheus.Counter
	auditsTotal                   *prometheus.CounterVec
	auditActiveRuns               prometheus.Gauge
	auditContentGapFailuresTotal  prometheus.Counter
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	headlessPromotionsTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		auditPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_pages_total",
				Help: "Total number of audited pages, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		auditPageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "audit_page_duration_seconds",
				Help:    "Fetch plus analysis time per page, labeled by outcome.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		)

		auditPageRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_page_retries_total",
				Help: "Total number of page retries after transient fetch failures.",
			},
		)

		auditsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audits_total",
				Help: "Total number of audits that reached a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		auditActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audit_active_runs",
				Help: "Number of audits currently executing.",
			},
		)

		auditContentGapFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_content_gap_failures_total",
				Help: "Total number of failed or timed out content-gap analyses.",
			},
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

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		headlessPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_headless_promotions_total",
				Help: "Pages re-fetched in a headless browser after a plain fetch, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
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

// ObservePage records one finished page task.
func ObservePage(outcome string, duration time.Duration) {
	Init()
	auditPagesTotal.WithLabelValues(outcome).Inc()
	auditPageDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObservePageRetry counts a retried page.
func ObservePageRetry() {
	Init()
	auditPageRetriesTotal.Inc()
}

// ObserveAudit counts an audit reaching a terminal status.
func ObserveAudit(status string) {
	Init()
	auditsTotal.WithLabelValues(status).Inc()
}

// ObserveContentGapFailure counts a degraded content-gap analysis.
func ObserveContentGapFailure() {
	Init()
	auditContentGapFailuresTotal.Inc()
}

// IncActiveRuns increments the active audits gauge.
func IncActiveRuns() {
	Init()
	auditActiveRuns.Inc()
}

// DecActiveRuns decrements the active audits gauge.
func DecActiveRuns() {
	Init()
	auditActiveRuns.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHeadlessPromotion counts a plain fetch that was promoted to a
// headless render.
func ObserveHeadlessPromotion(result string) {
	Init()
	headlessPromotionsTotal.WithLabelValues(result).Inc()
}
