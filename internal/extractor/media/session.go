package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/archive"
	"github.com/JakeFAU/mediacrawler/internal/crawler"
	"github.com/JakeFAU/mediacrawler/internal/jsonscan"
	"github.com/JakeFAU/mediacrawler/internal/metrics"
	"github.com/JakeFAU/mediacrawler/internal/progress"
	"github.com/JakeFAU/mediacrawler/internal/scratch"
)

// Outcome labels for metadata records.
const (
	recordBuilt  = "built"
	recordFailed = "build_error"
	recordLogged = "logged"
)

var (
	_ crawler.Extractor     = (*Session)(nil)
	_ archive.RecordBuilder = (*Session)(nil)
)

// Session is one worker's handle on the Extractor. It owns the scratch buffer
// holding the output of that worker's most recent discovery run and must not
// be shared between workers.
type Session struct {
	*Extractor
	worker int
	buf    *scratch.Buffer
	// payloadFor is the URL whose tool output is in buf.
	payloadFor string
	logger     *zap.Logger
}

// NewSession opens a session for the given worker number.
func (e *Extractor) NewSession(worker int) *Session {
	return &Session{
		Extractor: e,
		worker:    worker,
		buf:       scratch.New(e.fs, e.cfg.ScratchDir, fmt.Sprintf("ydl-%03d-", worker)),
		logger:    e.logger.With(zap.Int("worker", worker)),
	}
}

// Buffer exposes the session's scratch buffer.
func (s *Session) Buffer() *scratch.Buffer {
	return s.buf
}

// ShouldProcess reports whether Extract has anything to do for res.
func (s *Session) ShouldProcess(res *crawler.Resource) bool {
	if a, ok := FindAnnotation(res); ok {
		return !isSummary(a)
	}
	return ShouldDiscover(res)
}

// Extract classifies res and acts on it. Media resources reached through a
// discovery run either pass their linkage on to a redirect target or are
// written to the capture log. Eligible pages are run through the discovery
// tool and gain one embed outlink per media URL found.
func (s *Session) Extract(ctx context.Context, res *crawler.Resource) {
	if a, ok := FindAnnotation(res); ok {
		switch {
		case isSummary(a):
		case res.IsRedirect():
			s.inheritRedirect(res, a)
		default:
			s.logCapture(res, a)
		}
		return
	}
	if !ShouldDiscover(res) {
		return
	}
	s.discover(ctx, res)
}

func (s *Session) discover(ctx context.Context, res *crawler.Resource) {
	logger := s.logger.With(zap.String("url", res.URL))
	s.payloadFor = ""
	if err := s.buf.Reset(); err != nil {
		logger.Warn("reset scratch buffer", zap.Error(err))
		return
	}

	start := time.Now()
	results, err := s.runner.Run(ctx, res.URL, s.buf)
	if err != nil {
		logger.Debug("discovery produced nothing", zap.Error(err))
		return
	}
	s.payloadFor = res.URL

	s.emit(progress.Event{
		Stage:  progress.StageDiscoveryRun,
		URL:    res.URL,
		Seed:   res.SourceTag,
		Status: res.FetchStatus,
		Dur:    time.Since(start),
		Videos: len(results.VideoURLs),
		Pages:  len(results.PageURLs),
	})

	s.link(res, results)
}

func (s *Session) link(res *crawler.Resource, results *jsonscan.Results) {
	videos := distinct(results.VideoURLs)
	n := len(videos)
	for i, videoURL := range videos {
		s.linkVideo(res, videoURL, i, n)
	}
	for _, pageURL := range results.PageURLs {
		if res.CreateOutlink(pageURL, crawler.ContextNavlinkMisc, crawler.HopNavlink) == nil {
			s.logger.Debug("page outlink rejected", zap.String("page", res.URL), zap.String("target", pageURL))
		}
	}
	if n == 0 {
		return
	}

	annotation := AnnotationPrefix + strconv.Itoa(n)
	res.AddAnnotation(annotation)
	s.capture.LogContainingPage(res, annotation)
	s.emit(progress.Event{
		Stage:       progress.StageContainingPage,
		URL:         res.URL,
		Seed:        res.SourceTag,
		Status:      res.FetchStatus,
		Annotation:  annotation,
		Digest:      res.ContentDigest,
		Timestamp17: crawler.Format17(res.FetchBegin),
		Videos:      n,
		Pages:       len(results.PageURLs),
	})
}

// ShouldBuildRecord reports whether res is a containing page whose tool output
// should be archived. When it is not, the scratch buffer is released.
func (s *Session) ShouldBuildRecord(res *crawler.Resource) bool {
	if a, ok := FindAnnotation(res); ok && isSummary(a) && a != AnnotationPrefix {
		return true
	}
	if s.buf.Open() {
		if err := s.buf.Release(); err != nil {
			s.logger.Debug("release scratch buffer", zap.Error(err))
		}
	}
	s.payloadFor = ""
	return false
}

// BuildRecord builds the metadata record carrying the raw tool output for res.
// The record's Content is positioned at offset 0; the caller consumes and
// closes it.
func (s *Session) BuildRecord(res *crawler.Resource, concurrentTo string) (*archive.Record, error) {
	rec, err := s.buildRecord(res, concurrentTo)
	if err != nil {
		metrics.ObserveMetadataRecord(recordFailed)
		return nil, err
	}
	metrics.ObserveMetadataRecord(recordBuilt)
	return rec, nil
}

func (s *Session) buildRecord(res *crawler.Resource, concurrentTo string) (*archive.Record, error) {
	if s.payloadFor != res.URL {
		return nil, fmt.Errorf("build record for %s: %w", res.URL, ErrNoScratchBuffer)
	}
	size, err := s.buf.Size()
	if err != nil {
		return nil, fmt.Errorf("size tool output: %w", err)
	}

	payload, err := s.buf.Payload()
	if err != nil {
		return nil, fmt.Errorf("open tool output: %w", err)
	}
	_, digest, err := s.hasher.HashReader(payload)
	if err != nil {
		_ = payload.Close()
		return nil, fmt.Errorf("digest tool output: %w", err)
	}
	res.PutData(KeyJSONFileDigest, digest)

	id, err := s.ids.NewRecordID()
	if err != nil {
		_ = payload.Close()
		return nil, fmt.Errorf("record id: %w", err)
	}
	// Payload rewinds the same file; the stream handed out is at offset 0.
	content, err := s.buf.Payload()
	if err != nil {
		_ = payload.Close()
		return nil, fmt.Errorf("rewind tool output: %w", err)
	}

	rec := &archive.Record{
		Type:          archive.TypeMetadata,
		ID:            id,
		URL:           AnnotationPrefix + res.URL,
		Date14:        crawler.Format14(res.FetchBegin),
		ContentType:   MetadataContentType,
		EnforceLength: true,
		Length:        size,
		Content:       content,
		BlockDigest:   digest,
	}
	if concurrentTo != "" {
		rec.ConcurrentTo = bracket(concurrentTo)
	}
	return rec, nil
}

// PostWrite logs the written metadata record to the crawl log as an inferred
// pseudo resource.
func (s *Session) PostWrite(rec *archive.Record, res *crawler.Resource) {
	if rec == nil || !s.cfg.LogMetadataRecord {
		return
	}
	if rec.Filename == "" {
		s.logger.Warn("metadata record has no archive position", zap.String("url", rec.URL))
		return
	}
	digest, ok := res.Data(KeyJSONFileDigest)
	if !ok {
		s.logger.Warn("metadata record has no payload digest",
			zap.String("url", rec.URL),
			zap.String("warc_filename", rec.Filename))
	}

	pseudo := res.Derive(rec.URL, crawler.ContextEmbedMisc, crawler.HopInferred)
	pseudo.AddAnnotation(AnnotationPrefix)
	pseudo.FetchStatus = metadataStatus
	pseudo.FetchBegin = res.FetchBegin
	pseudo.ContentSize = rec.Length
	pseudo.ContentType = rec.ContentType
	pseudo.ContentDigest = digest
	pseudo.AddExtraInfo("warcFilename", rec.Filename)
	pseudo.AddExtraInfo("warcFileOffset", rec.Offset)
	pseudo.AddExtraInfo("contentSize", rec.Length)

	s.crawlLog.Log(pseudo)
	metrics.ObserveMetadataRecord(recordLogged)
	s.emit(progress.Event{
		Stage:         progress.StageMetadataRecord,
		URL:           rec.URL,
		Seed:          res.SourceTag,
		Status:        metadataStatus,
		Bytes:         rec.Length,
		Digest:        digest,
		ContainingURL: res.URL,
		WARCFilename:  rec.Filename,
		WARCOffset:    rec.Offset,
	})
}

// Close destroys the session's scratch buffer.
func (s *Session) Close() error {
	if err := s.buf.Destroy(); err != nil && !errors.Is(err, scratch.ErrReleased) {
		return fmt.Errorf("destroy scratch buffer: %w", err)
	}
	return nil
}

func bracket(id string) string {
	if strings.HasPrefix(id, "<") && strings.HasSuffix(id, ">") {
		return id
	}
	return "<" + id + ">"
}

// distinct drops repeated URLs, keeping first occurrences in order, so each
// media outlink carries exactly one ordinal.
func distinct(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
