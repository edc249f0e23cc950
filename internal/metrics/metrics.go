// Package metrics exposes Prometheus collectors for the ranking crawler.
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
	rankRunsTotal              *prometheus.CounterVec
	rankBooksTotal             *prometheus.CounterVec
	rankDetailFetchTotal       *prometheus.CounterVec
	rankSignalStrategyTotal    *prometheus.CounterVec
	rankMechanismFallbacks     *prometheus.CounterVec
	rankPacingDelaySeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		rankRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rank_runs_total",
				Help: "Total number of ranking runs, labeled by site, mechanism and outcome.",
			},
			[]string{"site", "mechanism", "outcome"},
		)

		rankBooksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rank_books_total",
				Help: "Total number of book records produced, labeled by mechanism.",
			},
			[]string{"mechanism"},
		)

		rankDetailFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rank_detail_fetch_total",
				Help: "Total number of detail page fetches, labeled by mechanism and status.",
			},
			[]string{"mechanism", "status"},
		)

		rankSignalStrategyTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rank_signal_strategy_total",
				Help: "Weekly recommendation extractions, labeled by the strategy that matched.",
			},
			[]string{"strategy"},
		)

		rankMechanismFallbacks = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rank_mechanism_fallbacks_total",
				Help: "Total number of fallbacks between acquisition mechanisms.",
			},
			[]string{"from", "to"},
		)

		rankPacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rank_pacing_delay_seconds",
				Help:    "Histogram of pauses between detail fetches.",
				Buckets: []float64{0.5, 1, 1.5, 2, 3, 5},
			},
			[]string{"mechanism"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
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

// ObserveRun increments the run counter for the site hosting rankingURL and,
// on success, the produced books.
func ObserveRun(rankingURL, mechanism, outcome string, books int) {
	Init()
	rankRunsTotal.WithLabelValues(SanitizeSite(rankingURL), mechanism, outcome).Inc()
	if books > 0 {
		rankBooksTotal.WithLabelValues(mechanism).Add(float64(books))
	}
}

// ObserveDetailFetch increments the detail fetch counter.
func ObserveDetailFetch(mechanism, status string) {
	Init()
	rankDetailFetchTotal.WithLabelValues(mechanism, status).Inc()
}

// ObserveSignalStrategy records which strategy produced a weekly recommendation count.
func ObserveSignalStrategy(strategy string) {
	Init()
	rankSignalStrategyTotal.WithLabelValues(strategy).Inc()
}

// ObserveFallback records a switch from one mechanism to another.
func ObserveFallback(from, to string) {
	Init()
	rankMechanismFallbacks.WithLabelValues(from, to).Inc()
}

// ObservePacingDelay records the duration of a pause between fetches.
func ObservePacingDelay(mechanism string, duration time.Duration) {
	Init()
	rankPacingDelaySeconds.WithLabelValues(mechanism).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
