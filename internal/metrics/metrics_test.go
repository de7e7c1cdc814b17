package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlerFetchesTotal == nil || crawlerBytesTotal == nil ||
		ytdlpRunsTotal == nil || metadataRecordsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("test.com", "200"))
	ObserveFetch("http://test.com/a", 200, 10)
	if val := testutil.ToFloat64(crawlerFetchesTotal.WithLabelValues("test.com", "200")); val != before+1 {
		t.Errorf("Expected fetch counter to grow by 1, got %f -> %f", before, val)
	}
}

func TestObserveYtdlp(t *testing.T) {
	beforeRuns := testutil.ToFloat64(ytdlpRunsTotal.WithLabelValues(RunPartial))
	beforeLinks := testutil.ToFloat64(ytdlpLinksTotal.WithLabelValues("video"))
	beforeKills := testutil.ToFloat64(ytdlpKillsTotal)

	ObserveYtdlpRun(RunPartial, 2*time.Second)
	ObserveYtdlpLinks("video", 3)
	ObserveYtdlpLinks("video", 0)
	ObserveYtdlpKill()
	ObserveMetadataRecord("written")

	if val := testutil.ToFloat64(ytdlpRunsTotal.WithLabelValues(RunPartial)); val != beforeRuns+1 {
		t.Errorf("runs: got %f want %f", val, beforeRuns+1)
	}
	if val := testutil.ToFloat64(ytdlpLinksTotal.WithLabelValues("video")); val != beforeLinks+3 {
		t.Errorf("links: got %f want %f", val, beforeLinks+3)
	}
	if val := testutil.ToFloat64(ytdlpKillsTotal); val != beforeKills+1 {
		t.Errorf("kills: got %f want %f", val, beforeKills+1)
	}
	if val := testutil.ToFloat64(metadataRecordsTotal.WithLabelValues("written")); val < 1 {
		t.Errorf("metadata records: got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
