package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("capture record not found")

// CrawlStatus mirrors the crawl_runs status column.
type CrawlStatus string

// Crawl run statuses persisted in crawl_runs.status.
const (
	RunRunning CrawlStatus = "running"
	RunSuccess CrawlStatus = "success"
	RunError   CrawlStatus = "error"
)

// CrawlRun models the crawl_runs table for API responses.
type CrawlRun struct {
	// ID is the crawl identifier shared with workers.
	ID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status CrawlStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// SiteStats captures per-site aggregation for a crawl.
type SiteStats struct {
	CrawlID    uuid.UUID
	Site       string
	LastUpdate time.Time
	Visits     int64
	BytesTotal int64
	Fetch2xx   int64
	Fetch3xx   int64
	Fetch4xx   int64
	Fetch5xx   int64
}

// ContainingPage is a page on which discovery found media.
type ContainingPage struct {
	CrawlID uuid.UUID
	URL     string
	// Timestamp is the page's 17-digit fetch timestamp.
	Timestamp  string
	Digest     string
	Annotation string
	Videos     int
	Pages      int
	Seed       string
	SeenAt     time.Time
}

// MediaCapture is a captured media resource linked to its containing page.
type MediaCapture struct {
	CrawlID             uuid.UUID
	URL                 string
	Annotation          string
	Status              int
	Bytes               int64
	Digest              string
	Timestamp           string
	ContainingURL       string
	ContainingTimestamp string
	ContainingDigest    string
	Seed                string
	CapturedAt          time.Time
}

// MetadataRecord locates an archived discovery output.
type MetadataRecord struct {
	CrawlID       uuid.UUID
	URL           string
	ContainingURL string
	Digest        string
	Bytes         int64
	WARCFilename  string
	WARCOffset    int64
	WrittenAt     time.Time
}

// CaptureRepository persists crawl progress and the media capture index.
type CaptureRepository interface {
	// UpsertCrawlStart inserts (or idempotently updates) the started_at timestamp.
	UpsertCrawlStart(ctx context.Context, crawlID uuid.UUID, startedAt time.Time) error
	// CompleteCrawl marks the run finished with the provided status and error.
	CompleteCrawl(
		ctx context.Context,
		crawlID uuid.UUID,
		finishedAt time.Time,
		status CrawlStatus,
		errMsg *string,
	) error
	// UpsertSiteStats applies visit/byte deltas per (crawl, site, statusClass).
	UpsertSiteStats(
		ctx context.Context,
		crawlID uuid.UUID,
		site string,
		deltaVisits int64,
		deltaBytes int64,
		statusClass string,
		at time.Time,
	) error
	// RecordContainingPage stores a page whose discovery found media.
	RecordContainingPage(ctx context.Context, page ContainingPage) error
	// RecordMediaCapture stores a captured media resource.
	RecordMediaCapture(ctx context.Context, media MediaCapture) error
	// RecordMetadata stores the archive position of a discovery output.
	RecordMetadata(ctx context.Context, rec MetadataRecord) error

	// GetCrawl loads a single crawl run or returns ErrNotFound.
	GetCrawl(ctx context.Context, crawlID uuid.UUID) (CrawlRun, error)
	// ListMediaForPage returns the media captured from one containing page.
	ListMediaForPage(ctx context.Context, crawlID uuid.UUID, pageURL string, limit, offset int) ([]MediaCapture, error)
}
