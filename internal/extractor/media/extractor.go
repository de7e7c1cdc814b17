// Package media runs yt-dlp discovery on fetched HTML pages, turns the media
// it finds into embed outlinks linked back to the page, logs media captures,
// and archives the raw tool output as a metadata record beside the page.
//
// An Extractor is shared by all workers. Each worker opens its own Session,
// which owns the scratch buffer holding that worker's latest tool output.
package media

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/capturelog"
	"github.com/JakeFAU/mediacrawler/internal/crawler"
	"github.com/JakeFAU/mediacrawler/internal/jsonscan"
	"github.com/JakeFAU/mediacrawler/internal/progress"
	"github.com/JakeFAU/mediacrawler/internal/scratch"
)

const (
	// AnnotationPrefix namespaces every annotation this package reads or writes.
	AnnotationPrefix = "youtube-dl:"
	// KeyJSONFileDigest holds the digest of the archived tool output.
	KeyJSONFileDigest = "ydl-json-file-digest"
	// MetadataContentType is the content type of archived tool output.
	MetadataContentType = "application/vnd.youtube-dl_formats+json;charset=utf-8"
	// MaxContentLength excludes pages at or above this protocol length.
	MaxContentLength = 200_000_000

	keyCaptureLogged = "ydl-capture-logged"
	metadataStatus   = 204
)

// ErrNoScratchBuffer reports a record build for a resource whose tool output
// is not held by the session.
var ErrNoScratchBuffer = errors.New("no scratch buffer holds output for resource")

var discoverableTypes = []string{
	"text/html",
	"application/xhtml",
	"text/vnd.wap.wml",
	"application/vnd.wap.wml",
	"application/vnd.wap.xhtml",
}

// Discoverer runs the discovery tool for a URL, streaming its raw output into
// buf. ytdlp.Runner implements it.
type Discoverer interface {
	Run(ctx context.Context, url string, buf *scratch.Buffer) (*jsonscan.Results, error)
}

// CaptureLog receives media capture and containing page entries.
type CaptureLog interface {
	LogMedia(res *crawler.Resource, annotation string)
	LogContainingPage(res *crawler.Resource, annotation string)
}

// RecordIDs produces archive record ids.
type RecordIDs interface {
	NewRecordID() (string, error)
}

// Config controls optional behaviour.
type Config struct {
	// LogMetadataRecord writes a crawl log entry for every metadata record.
	LogMetadataRecord bool
	// ScratchDir is where sessions keep their scratch files.
	ScratchDir string
	// CrawlID tags emitted progress events.
	CrawlID [16]byte
}

// Extractor holds the collaborators shared by every Session.
type Extractor struct {
	runner   Discoverer
	capture  CaptureLog
	crawlLog crawler.URILogger
	hasher   crawler.Hasher
	ids      RecordIDs
	events   progress.Emitter
	clock    crawler.Clock
	fs       afero.Fs
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Extractor. A nil emitter discards events and a nil fs uses
// the OS file system.
func New(
	runner Discoverer,
	capture CaptureLog,
	crawlLog crawler.URILogger,
	hasher crawler.Hasher,
	ids RecordIDs,
	events progress.Emitter,
	clock crawler.Clock,
	fs afero.Fs,
	cfg Config,
	logger *zap.Logger,
) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = progress.Discard
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Extractor{
		runner:   runner,
		capture:  capture,
		crawlLog: crawlLog,
		hasher:   hasher,
		ids:      ids,
		events:   events,
		clock:    clock,
		fs:       fs,
		cfg:      cfg,
		logger:   logger.Named("media"),
	}
}

// FindAnnotation returns the resource's first annotation in this package's
// namespace.
func FindAnnotation(res *crawler.Resource) (string, bool) {
	return res.FindAnnotation(AnnotationPrefix)
}

// isSummary reports whether a is a containing page summary ("youtube-dl:N")
// or the bare prefix carried by metadata pseudo resources.
func isSummary(a string) bool {
	return !strings.Contains(strings.TrimPrefix(a, AnnotationPrefix), "/")
}

// ShouldDiscover reports whether the tool should run on res: a 200 HTML-like
// page of reasonable size that did not arrive from the message bus.
func ShouldDiscover(res *crawler.Resource) bool {
	if res.FetchStatus != 200 {
		return false
	}
	if res.ContentLength <= 0 || res.ContentLength >= MaxContentLength {
		return false
	}
	if res.HasAnnotation(crawler.AnnotationReceivedFromBus) {
		return false
	}
	mime := strings.ToLower(res.ContentType)
	for _, prefix := range discoverableTypes {
		if strings.HasPrefix(mime, prefix) {
			return true
		}
	}
	return false
}

func (e *Extractor) emit(evt progress.Event) {
	evt.CrawlID = e.cfg.CrawlID
	evt.TS = e.clock.Now()
	e.events.Emit(evt)
}

func (e *Extractor) linkVideo(page *crawler.Resource, videoURL string, index, total int) {
	link := page.CreateOutlink(videoURL, crawler.ContextEmbedMisc, crawler.HopEmbed)
	if link == nil {
		e.logger.Debug("media outlink rejected", zap.String("page", page.URL), zap.String("media", videoURL))
		return
	}
	link.AddAnnotation(AnnotationPrefix + strconv.Itoa(index+1) + "/" + strconv.Itoa(total))
	link.PutData(capturelog.KeyContainingPageURI, page.URL)
	link.PutData(capturelog.KeyContainingPageTimestamp, crawler.Format17(page.FetchBegin))
	link.PutData(capturelog.KeyContainingPageDigest, page.ContentDigest)
}

// inheritRedirect copies the annotation and containing page linkage onto the
// redirect target so the eventual media capture still knows its page.
func (e *Extractor) inheritRedirect(res *crawler.Resource, annotation string) {
	for _, link := range res.Outlinks() {
		if link.LastHop() != crawler.HopRedirect {
			continue
		}
		link.AddAnnotation(annotation)
		for _, key := range []string{
			capturelog.KeyContainingPageURI,
			capturelog.KeyContainingPageTimestamp,
			capturelog.KeyContainingPageDigest,
		} {
			v, _ := res.Data(key)
			link.PutData(key, v)
		}
	}
}

func (e *Extractor) logCapture(res *crawler.Resource, annotation string) {
	if _, done := res.Data(keyCaptureLogged); done {
		return
	}
	e.capture.LogMedia(res, annotation)
	res.PutData(keyCaptureLogged, "1")

	containingURL, _ := res.Data(capturelog.KeyContainingPageURI)
	containingTS, _ := res.Data(capturelog.KeyContainingPageTimestamp)
	containingDigest, _ := res.Data(capturelog.KeyContainingPageDigest)
	e.emit(progress.Event{
		Stage:               progress.StageMediaCapture,
		URL:                 res.URL,
		Seed:                res.SourceTag,
		Status:              res.FetchStatus,
		Bytes:               res.ContentSize,
		Annotation:          annotation,
		Digest:              res.ContentDigest,
		Timestamp17:         crawler.Format17(res.FetchBegin),
		ContainingURL:       containingURL,
		ContainingTimestamp: containingTS,
		ContainingDigest:    containingDigest,
	})
}
