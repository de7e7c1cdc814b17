package crawllog

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
	"github.com/JakeFAU/mediacrawler/internal/logging"
)

func TestLineFullResource(t *testing.T) {
	t.Parallel()

	page := crawler.NewResource("http://x/page")
	res := crawler.NewResource("youtube-dl:http://x/page")
	res.Via = page
	res.HopPath = "I"
	res.FetchStatus = 204
	res.ContentSize = 321
	res.ContentType = "application/vnd.youtube-dl_formats+json;charset=utf-8"
	res.WorkerID = 4
	res.FetchBegin = time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	res.FetchDuration = 250 * time.Millisecond
	res.ContentDigest = "sha1:ABC"
	res.SourceTag = "http://x/"
	res.AddAnnotation("youtube-dl:")
	res.AddExtraInfo("warcFilename", "MEDIA-00000.warc")
	res.AddExtraInfo("warcFileOffset", int64(1024))
	res.AddExtraInfo("contentSize", int64(321))

	want := "  204        321 youtube-dl:http://x/page I http://x/page application/vnd.youtube-dl_formats+json #004 20240102030405006+250 sha1:ABC http://x/ youtube-dl: " +
		`{"contentSize":321,"warcFileOffset":1024,"warcFilename":"MEDIA-00000.warc"}`
	assert.Equal(t, want, Line(res))
}

func TestLineSeedWithoutExtras(t *testing.T) {
	t.Parallel()

	res := crawler.NewResource("http://x/")
	res.FetchStatus = 200
	res.AddAnnotation("receivedFromAMQP")
	res.AddAnnotation("youtube-dl:2")
	assert.Equal(t, "  200          - http://x/ - - no-type #000 - - - receivedFromAMQP,youtube-dl:2", Line(res))
}

func TestLoggerWritesLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(logging.NewLineLogger(zapcore.AddSync(&buf))).Log(crawler.NewResource("http://x/"))
	_, rest, ok := strings.Cut(strings.TrimSpace(buf.String()), " ")
	require.True(t, ok)
	assert.Contains(t, rest, "http://x/ - -")
}
