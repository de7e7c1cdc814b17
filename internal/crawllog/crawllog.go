// Package crawllog writes the per-resource crawl log.
package crawllog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-json-experiment/json"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

// FileName is the log's file name inside the logs directory.
const FileName = "crawl.log"

// Logger implements crawler.URILogger on top of a line logger.
type Logger struct {
	logger *zap.Logger
}

var _ crawler.URILogger = (*Logger)(nil)

// New wraps a line logger (see logging.NewSimpleLog). A nil logger discards.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// Log writes one entry for res.
func (l *Logger) Log(res *crawler.Resource) {
	l.logger.Info(Line(res))
}

// Line formats the entry for res without the timestamp prefix:
// status, size, URL, hop path, via, type, worker, fetch timestamp and
// duration, digest, source tag, annotations and extra info JSON.
func Line(res *crawler.Resource) string {
	via := "-"
	if res.Via != nil && res.Via.URL != "" {
		via = res.Via.URL
	}
	fields := []string{
		fmt.Sprintf("%5d", res.FetchStatus),
		fmt.Sprintf("%10s", size(res)),
		res.URL,
		orDash(res.HopPath),
		via,
		crawler.TruncateMIME(res.ContentType),
		fmt.Sprintf("#%03d", res.WorkerID),
		fetchTiming(res),
		orDash(res.ContentDigest),
		orDash(res.SourceTag),
		annotations(res),
	}
	if extra := extraInfo(res); extra != "" {
		fields = append(fields, extra)
	}
	return strings.Join(fields, " ")
}

func size(res *crawler.Resource) string {
	if res.ContentSize > 0 {
		return strconv.FormatInt(res.ContentSize, 10)
	}
	return "-"
}

func fetchTiming(res *crawler.Resource) string {
	if res.FetchBegin.IsZero() {
		return "-"
	}
	return crawler.Format17(res.FetchBegin) + "+" + strconv.FormatInt(res.FetchDuration.Milliseconds(), 10)
}

func annotations(res *crawler.Resource) string {
	a := res.Annotations()
	if len(a) == 0 {
		return "-"
	}
	return strings.Join(a, ",")
}

func extraInfo(res *crawler.Resource) string {
	info := res.ExtraInfo()
	if len(info) == 0 {
		return ""
	}
	data, err := json.Marshal(info, json.Deterministic(true))
	if err != nil {
		return ""
	}
	return string(data)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
