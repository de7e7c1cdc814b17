// Package capturelog writes the media capture log that links captured media
// to the page it was discovered on.
//
// Each line is "<ts> <fields...>" with "-" standing in for absent values.
// Media lines carry status, length, type, digest, fetch timestamp, URL,
// annotation, the containing page's digest, timestamp and URL, and the seed.
// Containing page lines blank the six media fields and carry the summary
// annotation, digest, fetch timestamp, URL and seed.
package capturelog

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

// Extra-data keys holding the containing page linkage.
const (
	KeyContainingPageURI       = "ydl-containing-page-uri"
	KeyContainingPageTimestamp = "ydl-containing-page-timestamp"
	KeyContainingPageDigest    = "ydl-containing-page-digest"
)

// FileName is the log's file name inside the logs directory.
const FileName = "extractorYoutubeDL.log"

const absent = "-"

// Writer emits capture log lines. It is safe for concurrent use; the
// underlying zap core serializes writes.
type Writer struct {
	logger *zap.Logger
}

// New wraps a line logger (see logging.NewSimpleLog). A nil logger discards.
func New(logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{logger: logger}
}

// LogMedia writes the line for a captured media resource.
func (w *Writer) LogMedia(res *crawler.Resource, annotation string) {
	w.logger.Info(MediaLine(res, annotation))
}

// LogContainingPage writes the line for a page whose discovery produced media.
func (w *Writer) LogContainingPage(res *crawler.Resource, annotation string) {
	w.logger.Info(ContainingPageLine(res, annotation))
}

// MediaLine formats a media capture entry without the timestamp prefix.
func MediaLine(res *crawler.Resource, annotation string) string {
	return strings.Join([]string{
		strconv.Itoa(res.FetchStatus),
		Length(res),
		crawler.TruncateMIME(res.ContentType),
		orAbsent(res.ContentDigest),
		crawler.Format17(res.FetchBegin),
		res.URL,
		annotation,
		dataOrAbsent(res, KeyContainingPageDigest),
		dataOrAbsent(res, KeyContainingPageTimestamp),
		dataOrAbsent(res, KeyContainingPageURI),
		orAbsent(res.SourceTag),
	}, " ")
}

// ContainingPageLine formats a containing page entry without the timestamp
// prefix.
func ContainingPageLine(res *crawler.Resource, annotation string) string {
	return strings.Join([]string{
		"- - - - - -",
		annotation,
		orAbsent(res.ContentDigest),
		crawler.Format17(res.FetchBegin),
		res.URL,
		orAbsent(res.SourceTag),
	}, " ")
}

// Length renders the crawl-log length column: the protocol length for HTTP
// transactions when known, otherwise the recorded size when positive.
func Length(res *crawler.Resource) string {
	if res.HTTPTxn && res.ContentLength >= 0 {
		return strconv.FormatInt(res.ContentLength, 10)
	}
	if res.ContentSize > 0 {
		return strconv.FormatInt(res.ContentSize, 10)
	}
	return absent
}

func dataOrAbsent(res *crawler.Resource, key string) string {
	v, _ := res.Data(key)
	return orAbsent(v)
}

func orAbsent(s string) string {
	if s == "" {
		return absent
	}
	return s
}
