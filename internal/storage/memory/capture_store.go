package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/mediacrawler/internal/store"
)

// CaptureStore provides an in-memory store.CaptureRepository for development
// and tests.
type CaptureStore struct {
	mu       sync.RWMutex
	runs     map[uuid.UUID]store.CrawlRun
	sites    map[siteKey]store.SiteStats
	pages    map[pageKey]store.ContainingPage
	media    map[pageKey]store.MediaCapture
	metadata []store.MetadataRecord
}

type siteKey struct {
	crawl uuid.UUID
	site  string
}

type pageKey struct {
	crawl uuid.UUID
	url   string
	ts    string
}

var _ store.CaptureRepository = (*CaptureStore)(nil)

// NewCaptureStore constructs a CaptureStore.
func NewCaptureStore() *CaptureStore {
	return &CaptureStore{
		runs:  make(map[uuid.UUID]store.CrawlRun),
		sites: make(map[siteKey]store.SiteStats),
		pages: make(map[pageKey]store.ContainingPage),
		media: make(map[pageKey]store.MediaCapture),
	}
}

// UpsertCrawlStart marks the crawl running, keeping the first start time.
func (s *CaptureStore) UpsertCrawlStart(_ context.Context, crawlID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[crawlID]
	if !ok {
		run = store.CrawlRun{ID: crawlID, StartedAt: startedAt}
	}
	run.Status = store.RunRunning
	s.runs[crawlID] = run
	return nil
}

// CompleteCrawl records the final status of a crawl.
func (s *CaptureStore) CompleteCrawl(
	_ context.Context,
	crawlID uuid.UUID,
	finishedAt time.Time,
	status store.CrawlStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[crawlID]
	if !ok {
		return fmt.Errorf("complete crawl %s: %w", crawlID, store.ErrNotFound)
	}
	run.FinishedAt = pointerTime(finishedAt)
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[crawlID] = run
	return nil
}

// UpsertSiteStats applies fetch deltas for a site.
func (s *CaptureStore) UpsertSiteStats(
	_ context.Context,
	crawlID uuid.UUID,
	site string,
	deltaVisits,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := siteKey{crawl: crawlID, site: site}
	stat, ok := s.sites[key]
	if !ok {
		stat = store.SiteStats{CrawlID: crawlID, Site: site}
	}
	switch statusClass {
	case "2xx":
		stat.Fetch2xx += deltaVisits
	case "3xx":
		stat.Fetch3xx += deltaVisits
	case "4xx":
		stat.Fetch4xx += deltaVisits
	case "5xx":
		stat.Fetch5xx += deltaVisits
	default:
		return fmt.Errorf("unknown status class: %s", statusClass)
	}
	stat.Visits += deltaVisits
	stat.BytesTotal += deltaBytes
	if at.After(stat.LastUpdate) {
		stat.LastUpdate = at
	}
	s.sites[key] = stat
	return nil
}

// RecordContainingPage stores or refreshes a containing page.
func (s *CaptureStore) RecordContainingPage(_ context.Context, page store.ContainingPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[pageKey{crawl: page.CrawlID, url: page.URL, ts: page.Timestamp}] = page
	return nil
}

// RecordMediaCapture stores a media capture once per URL and fetch time.
func (s *CaptureStore) RecordMediaCapture(_ context.Context, media store.MediaCapture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pageKey{crawl: media.CrawlID, url: media.URL, ts: media.Timestamp}
	if _, exists := s.media[key]; !exists {
		s.media[key] = media
	}
	return nil
}

// RecordMetadata appends a metadata record location.
func (s *CaptureStore) RecordMetadata(_ context.Context, rec store.MetadataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, rec)
	return nil
}

// GetCrawl fetches a crawl run by ID.
func (s *CaptureStore) GetCrawl(_ context.Context, crawlID uuid.UUID) (store.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[crawlID]
	if !ok {
		return store.CrawlRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListMediaForPage returns copies of the media captured from pageURL, newest
// first.
func (s *CaptureStore) ListMediaForPage(
	_ context.Context,
	crawlID uuid.UUID,
	pageURL string,
	limit,
	offset int,
) ([]store.MediaCapture, error) {
	s.mu.RLock()
	var out []store.MediaCapture
	for _, m := range s.media {
		if m.CrawlID == crawlID && m.ContainingURL == pageURL {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].CapturedAt.After(out[j].CapturedAt)
		}
		return out[i].URL < out[j].URL
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ContainingPages returns every recorded containing page for a crawl.
func (s *CaptureStore) ContainingPages(crawlID uuid.UUID) []store.ContainingPage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ContainingPage
	for _, p := range s.pages {
		if p.CrawlID == crawlID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Metadata returns a copy of the recorded metadata locations.
func (s *CaptureStore) Metadata() []store.MetadataRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.MetadataRecord(nil), s.metadata...)
}

// SiteStats returns the aggregate for one site.
func (s *CaptureStore) SiteStats(crawlID uuid.UUID, site string) (store.SiteStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stat, ok := s.sites[siteKey{crawl: crawlID, site: site}]
	return stat, ok
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
