// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/archive"
	"github.com/JakeFAU/mediacrawler/internal/crawler"
	"github.com/JakeFAU/mediacrawler/internal/metrics"
	"github.com/JakeFAU/mediacrawler/internal/progress"
	"github.com/JakeFAU/mediacrawler/internal/queue/memory"
)

// Fetch status codes for resources that never produced an HTTP response.
const (
	StatusConnectFailed  = -2
	StatusTimeout        = -4
	StatusRobotsBlocked  = -9998
	StatusFetchCancelled = -5000
)

// Config controls Worker behavior.
type Config struct {
	UserAgent        string
	MaxRetries       int
	RetryBackoffBase time.Duration
	CrawlID          [16]byte
}

// Frontier receives the outlinks of processed resources.
type Frontier interface {
	Schedule(ctx context.Context, res *crawler.Resource) int
	Done()
	Policy() crawler.Policy
}

// RateLimiter delays fetches to keep per-host politeness.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// ArchiveWriter persists records.
type ArchiveWriter interface {
	Write(ctx context.Context, rec *archive.Record) error
}

// RecordIDs produces archive record ids.
type RecordIDs interface {
	NewRecordID() (string, error)
}

// Worker consumes queue items and runs each through fetch, extraction,
// archiving and scheduling. A worker is single threaded; run one per
// goroutine.
type Worker struct {
	id         int
	queue      crawler.Queue
	fetcher    crawler.Fetcher
	frontier   Frontier
	limiter    RateLimiter
	hasher     crawler.Hasher
	ids        RecordIDs
	clock      crawler.Clock
	extractors []crawler.Extractor
	builders   []archive.RecordBuilder
	crawlLog   crawler.URILogger
	archive    ArchiveWriter
	events     progress.Emitter
	retry      retryPolicy
	cfg        Config
	logger     *zap.Logger
}

// Pipeline groups the per-worker processing stages.
type Pipeline struct {
	// Extractors run in order on every fetched resource.
	Extractors []crawler.Extractor
	// Builders contribute records after the response record.
	Builders []archive.RecordBuilder
	// CrawlLog receives one entry per resource.
	CrawlLog crawler.URILogger
	// Archive stores records; nil disables archiving.
	Archive ArchiveWriter
}

// New constructs a Worker. A nil limiter never waits and a nil emitter
// discards events.
func New(
	id int,
	queue crawler.Queue,
	fetcher crawler.Fetcher,
	frontier Frontier,
	limiter RateLimiter,
	hasher crawler.Hasher,
	ids RecordIDs,
	clock crawler.Clock,
	pipeline Pipeline,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = progress.Discard
	}
	return &Worker{
		id:         id,
		queue:      queue,
		fetcher:    fetcher,
		frontier:   frontier,
		limiter:    limiter,
		hasher:     hasher,
		ids:        ids,
		clock:      clock,
		extractors: pipeline.Extractors,
		builders:   pipeline.Builders,
		crawlLog:   pipeline.CrawlLog,
		archive:    pipeline.Archive,
		events:     events,
		retry:      newRetryPolicy(cfg.MaxRetries, cfg.RetryBackoffBase),
		cfg:        cfg,
		logger:     logger.Named("worker").With(zap.Int("worker", id)),
	}
}

// ID returns the worker number.
func (w *Worker) ID() int {
	return w.id
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.Process(ctx, item)
	}
}

// Close releases stage resources such as scratch buffers.
func (w *Worker) Close() error {
	var errs []error
	for _, b := range w.builders {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close worker %d: %w", w.id, err)
	}
	return nil
}

// Process runs one item through the pipeline and marks it done on the
// frontier.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	if w.frontier != nil {
		defer w.frontier.Done()
	}

	res := crawler.NewResourceFromItem(item)
	res.WorkerID = w.id
	if w.frontier != nil {
		res.SetPolicy(w.frontier.Policy())
	}
	logger := w.logger.With(zap.String("url", res.URL))

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, res.URL); err != nil {
			logger.Debug("rate limit wait aborted", zap.Error(err))
			return
		}
	}

	resp, err := w.fetch(ctx, res.URL)
	if err != nil {
		res.FetchStatus = failureStatus(err)
		res.FetchBegin = w.clock.Now()
		logger.Warn("fetch failed", zap.Int("status", res.FetchStatus), zap.Error(err))
		w.logResource(res)
		w.emitFetch(res)
		return
	}
	w.populate(res, resp)

	for _, ex := range w.extractors {
		if ex.ShouldProcess(res) {
			ex.Extract(ctx, res)
		}
	}

	w.logResource(res)
	w.writeRecords(ctx, res)

	if w.frontier != nil {
		queued := w.frontier.Schedule(ctx, res)
		logger.Debug("resource processed",
			zap.Int("status", res.FetchStatus),
			zap.Int("outlinks", len(res.Outlinks())),
			zap.Int("queued", queued),
		)
	}
	w.emitFetch(res)
}

func (w *Worker) fetch(ctx context.Context, rawURL string) (crawler.FetchResponse, error) {
	req := crawler.FetchRequest{URL: rawURL, UserAgent: w.cfg.UserAgent}
	for attempt := 0; ; attempt++ {
		resp, err := w.fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !w.retry.shouldRetry(err, attempt) {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		delay := w.retry.backoff(attempt)
		w.logger.Debug("retrying fetch",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleepContext(ctx, delay); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}
}

func (w *Worker) populate(res *crawler.Resource, resp crawler.FetchResponse) {
	res.FetchStatus = resp.StatusCode
	res.Headers = resp.Headers
	res.Body = resp.Body
	res.ContentType = resp.Headers.Get("Content-Type")
	res.ContentLength = resp.ContentLength
	res.ContentSize = int64(len(resp.Body))
	res.FetchBegin = resp.FetchedAt
	if res.FetchBegin.IsZero() {
		res.FetchBegin = w.clock.Now()
	}
	res.FetchDuration = resp.Duration
	res.HTTPTxn = true
	if w.hasher != nil {
		digest, err := w.hasher.Hash(resp.Body)
		if err != nil {
			w.logger.Warn("problem hashing body", zap.String("url", res.URL), zap.Error(err))
		} else {
			res.ContentDigest = digest
		}
	}
}

func (w *Worker) logResource(res *crawler.Resource) {
	if w.crawlLog != nil {
		w.crawlLog.Log(res)
	}
}

// writeRecords writes the response record, then lets every builder add its
// own records concurrent to it. Failures are logged and skipped.
func (w *Worker) writeRecords(ctx context.Context, res *crawler.Resource) {
	if w.archive == nil || w.ids == nil {
		return
	}
	logger := w.logger.With(zap.String("url", res.URL))
	id, err := w.ids.NewRecordID()
	if err != nil {
		logger.Warn("problem generating record id", zap.Error(err))
		return
	}
	if err := w.archive.Write(ctx, archive.ResponseRecord(res, id)); err != nil {
		logger.Warn("problem writing response record", zap.Error(err))
		return
	}
	for _, b := range w.builders {
		if !b.ShouldBuildRecord(res) {
			continue
		}
		rec, err := b.BuildRecord(res, id)
		if err != nil {
			logger.Warn("problem building record", zap.Error(err))
			continue
		}
		if err := w.archive.Write(ctx, rec); err != nil {
			logger.Warn("problem writing record", zap.String("type", string(rec.Type)), zap.Error(err))
			continue
		}
		b.PostWrite(rec, res)
	}
}

func (w *Worker) emitFetch(res *crawler.Resource) {
	site := metrics.SanitizeSite(res.URL)
	metrics.ObserveFetch(res.URL, res.FetchStatus, int(res.ContentSize))
	w.events.Emit(progress.Event{
		CrawlID:     w.cfg.CrawlID,
		TS:          w.clock.Now(),
		Stage:       progress.StageFetchDone,
		Site:        site,
		URL:         res.URL,
		Seed:        res.SourceTag,
		Status:      res.FetchStatus,
		Bytes:       res.ContentSize,
		StatusClass: progress.ClassifyStatus(res.FetchStatus),
		Dur:         res.FetchDuration,
	})
}

// failureStatus maps a fetch error to a negative crawl status.
func failureStatus(err error) int {
	var netErr net.Error
	switch {
	case errors.Is(err, crawler.ErrRobotsBlocked):
		return StatusRobotsBlocked
	case errors.Is(err, context.Canceled):
		return StatusFetchCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return StatusTimeout
	default:
		return StatusConnectFailed
	}
}
