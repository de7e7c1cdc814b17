package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/mediacrawler/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus. It owns the collectors
// for crawl runs, per-site fetches and media capture milestones.
type PrometheusSink struct {
	crawlsStarted   prometheus.Counter
	crawlsCompleted *prometheus.CounterVec
	crawlsRunning   prometheus.Gauge
	crawlRuntime    *prometheus.HistogramVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	discoveryRuns     prometheus.Counter
	discoveryDuration prometheus.Histogram
	containingPages   prometheus.Counter
	mediaDiscovered   prometheus.Counter
	mediaCaptures     *prometheus.CounterVec
	metadataRecords   prometheus.Counter
	metadataBytes     prometheus.Counter

	tracker *crawlTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediacrawler_crawls_started_total",
			Help: "Total crawls that have started.",
		}),
		crawlsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacrawler_crawls_completed_total",
			Help: "Total crawls completed partitioned by result.",
		}, []string{"result"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediacrawler_crawls_running",
			Help: "Current number of running crawls.",
		}),
		crawlRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediacrawler_crawl_runtime_seconds",
			Help:    "Wall time per completed crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacrawler_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacrawler_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediacrawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		discoveryRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediacrawler_discovery_runs_total",
			Help: "Discovery runs that produced output.",
		}),
		discoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mediacrawler_discovery_duration_seconds",
			Help:    "Wall time of discovery runs that produced output.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		containingPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediacrawler_containing_pages_total",
			Help: "Pages on which discovery found media.",
		}),
		mediaDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediacrawler_media_discovered_total",
			Help: "Media URLs found on containing pages.",
		}),
		mediaCaptures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacrawler_media_captures_total",
			Help: "Media resources captured partitioned by status class.",
		}, []string{"status_class"}),
		metadataRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediacrawler_metadata_records_written_total",
			Help: "Metadata records written to the archive.",
		}),
		metadataBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediacrawler_metadata_record_bytes_total",
			Help: "Payload bytes of metadata records written to the archive.",
		}),
		tracker: newCrawlTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsStarted,
		s.crawlsCompleted,
		s.crawlsRunning,
		s.crawlRuntime,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.discoveryRuns,
		s.discoveryDuration,
		s.containingPages,
		s.mediaDiscovered,
		s.mediaCaptures,
		s.metadataRecords,
		s.metadataBytes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCrawlStart, progress.StageCrawlDone, progress.StageCrawlError:
		s.handleCrawlEvent(evt)
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	case progress.StageDiscoveryRun:
		s.discoveryRuns.Inc()
		if evt.Dur > 0 {
			s.discoveryDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageContainingPage:
		s.containingPages.Inc()
		s.mediaDiscovered.Add(float64(evt.Videos))
	case progress.StageMediaCapture:
		s.mediaCaptures.WithLabelValues(string(progress.ClassifyStatus(evt.Status))).Inc()
	case progress.StageMetadataRecord:
		s.metadataRecords.Inc()
		if evt.Bytes > 0 {
			s.metadataBytes.Add(float64(evt.Bytes))
		}
	}
}

func (s *PrometheusSink) handleCrawlEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCrawlStart:
		s.crawlsStarted.Inc()
		if s.tracker.start(evt.CrawlID) {
			s.crawlsRunning.Inc()
		}
	case progress.StageCrawlDone:
		s.crawlsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageCrawlError:
		s.crawlsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageCrawlStart && s.tracker.complete(evt.CrawlID) {
		s.crawlsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.crawlRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type crawlTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newCrawlTracker() *crawlTracker {
	return &crawlTracker{running: make(map[[16]byte]struct{})}
}

func (t *crawlTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *crawlTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
