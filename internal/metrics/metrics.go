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

// Outcome labels for discovery runs.
const (
	RunOK        = "ok"
	RunPartial   = "partial"
	RunSpawnFail = "spawn_error"
	RunError     = "error"
)

var (
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	httpResponseBytesTotal        *prometheus.CounterVec
	ytdlpRunsTotal                *prometheus.CounterVec
	ytdlpRunDurationSeconds       prometheus.Histogram
	ytdlpLinksTotal               *prometheus.CounterVec
	ytdlpKillsTotal               prometheus.Counter
	metadataRecordsTotal          *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	robotsFallbacksTotal          *prometheus.CounterVec
	frontierScheduledTotal        *prometheus.CounterVec
	frontierPending               prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediacrawler_fetches_total",
				Help: "Total number of resources fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediacrawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediacrawler_api_requests_total",
				Help: "Ops API requests, labeled by method, route pattern and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpResponseBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediacrawler_api_response_bytes_total",
				Help: "Bytes written by the ops API, labeled by route pattern.",
			},
			[]string{"route"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediacrawler_api_request_duration_seconds",
				Help:    "Ops API latency, labeled by method and route pattern.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		ytdlpRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediacrawler_ytdlp_runs_total",
				Help: "Discovery tool invocations, labeled by result.",
			},
			[]string{"result"},
		)

		ytdlpRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mediacrawler_ytdlp_run_duration_seconds",
				Help:    "Wall time of discovery tool invocations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		ytdlpLinksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediacrawler_ytdlp_links_total",
				Help: "URLs discovered by the tool, labeled by kind (video or page).",
			},
			[]string{"kind"},
		)

		ytdlpKillsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mediacrawler_ytdlp_kills_total",
				Help: "Discovery tool processes killed after the exit wait expired.",
			},
		)

		metadataRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediacrawler_metadata_records_total",
				Help: "Metadata records built from tool output, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediacrawler_active_workers",
				Help: "Number of workers currently processing a resource.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediacrawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		robotsFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediacrawler_robots_fallbacks_total",
				Help: "robots.txt probes answered with a synthetic allow-all, labeled by reason.",
			},
			[]string{"reason"},
		)

		frontierScheduledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediacrawler_frontier_scheduled_total",
				Help: "URLs handed to the frontier, labeled by last hop and outcome.",
			},
			[]string{"hop", "outcome"},
		)

		frontierPending = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mediacrawler_frontier_pending",
				Help: "Scheduled URLs not yet finished by a worker.",
			},
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

// ObserveFetch increments the fetch metrics.
func ObserveFetch(site string, status int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerFetchesTotal.WithLabelValues(sanitizedSite, strconv.Itoa(status)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest records one ops API request.
func ObserveHTTPRequest(method, route string, code int, written int64, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
	if written > 0 {
		httpResponseBytesTotal.WithLabelValues(route).Add(float64(written))
	}
}

// ObserveYtdlpRun records one discovery tool invocation.
func ObserveYtdlpRun(result string, duration time.Duration) {
	Init()
	ytdlpRunsTotal.WithLabelValues(result).Inc()
	ytdlpRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveYtdlpLinks adds n discovered URLs of the given kind.
func ObserveYtdlpLinks(kind string, n int) {
	Init()
	if n > 0 {
		ytdlpLinksTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveYtdlpKill counts a forced termination.
func ObserveYtdlpKill() {
	Init()
	ytdlpKillsTotal.Inc()
}

// ObserveMetadataRecord counts a metadata record outcome.
func ObserveMetadataRecord(result string) {
	Init()
	metadataRecordsTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback(reason string) {
	Init()
	robotsFallbacksTotal.WithLabelValues(reason).Inc()
}

// ObserveScheduled counts a URL offered to the frontier.
func ObserveScheduled(hop, outcome string) {
	Init()
	if hop == "" {
		hop = "seed"
	}
	frontierScheduledTotal.WithLabelValues(hop, outcome).Inc()
}

// SetFrontierPending publishes the number of unfinished URLs.
func SetFrontierPending(n int) {
	Init()
	frontierPending.Set(float64(n))
}
