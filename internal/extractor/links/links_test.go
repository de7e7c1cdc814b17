package links

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

const page = `<html><head>
<link rel="stylesheet" href="/style.css">
<script src="app.js"></script>
</head><body>
<a href="/about">About</a>
<a href="/about#team">About again</a>
<a href="mailto:someone@example.com">Mail</a>
<a href="javascript:void(0)">Nothing</a>
<a href="#top">Top</a>
<img src="https://cdn.example.com/logo.png">
<video src="/clip.mp4"></video>
</body></html>`

func htmlResource(body string) *crawler.Resource {
	res := crawler.NewResource("http://example.com/dir/page")
	res.FetchStatus = http.StatusOK
	res.ContentType = "text/html; charset=utf-8"
	res.Body = []byte(body)
	return res
}

func outlinkSet(res *crawler.Resource) map[string]crawler.Hop {
	out := make(map[string]crawler.Hop)
	for _, link := range res.Outlinks() {
		out[link.URL] = link.LastHop()
	}
	return out
}

func TestHTMLExtractorFindsLinks(t *testing.T) {
	t.Parallel()

	res := htmlResource(page)
	ex := NewHTMLExtractor(0, nil)
	require.True(t, ex.ShouldProcess(res))
	ex.Extract(context.Background(), res)

	assert.Equal(t, map[string]crawler.Hop{
		"http://example.com/about":         crawler.HopNavlink,
		"http://example.com/style.css":     crawler.HopEmbed,
		"http://example.com/dir/app.js":    crawler.HopEmbed,
		"https://cdn.example.com/logo.png": crawler.HopEmbed,
		"http://example.com/clip.mp4":      crawler.HopEmbed,
	}, outlinkSet(res))
	for _, link := range res.Outlinks() {
		assert.Same(t, res, link.Via)
	}
}

func TestHTMLExtractorHonorsBaseHref(t *testing.T) {
	t.Parallel()

	res := htmlResource(`<html><head><base href="http://other.example.com/root/"></head>
<body><a href="x.html">x</a></body></html>`)
	NewHTMLExtractor(0, nil).Extract(context.Background(), res)
	assert.Equal(t, map[string]crawler.Hop{
		"http://other.example.com/root/x.html": crawler.HopNavlink,
	}, outlinkSet(res))
}

func TestHTMLExtractorCap(t *testing.T) {
	t.Parallel()

	res := htmlResource(`<a href="/1">1</a><a href="/1">1</a><a href="/2">2</a><a href="/3">3</a>`)
	NewHTMLExtractor(2, nil).Extract(context.Background(), res)
	assert.Len(t, res.Outlinks(), 2)
}

func TestHTMLExtractorShouldProcess(t *testing.T) {
	t.Parallel()

	ex := NewHTMLExtractor(0, nil)
	cases := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        bool
	}{
		{"html ok", http.StatusOK, "text/html", "<html></html>", true},
		{"xhtml", http.StatusOK, "application/xhtml+xml", "<html></html>", true},
		{"uppercase type", http.StatusOK, "TEXT/HTML;charset=UTF-8", "<html></html>", true},
		{"not found", http.StatusNotFound, "text/html", "<html></html>", false},
		{"redirect", http.StatusFound, "text/html", "<html></html>", false},
		{"image", http.StatusOK, "image/png", "png", false},
		{"empty body", http.StatusOK, "text/html", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := crawler.NewResource("http://example.com/")
			res.FetchStatus = tc.status
			res.ContentType = tc.contentType
			res.Body = []byte(tc.body)
			assert.Equal(t, tc.want, ex.ShouldProcess(res))
		})
	}
}

func TestHTTPExtractorRedirect(t *testing.T) {
	t.Parallel()

	res := crawler.NewResource("http://example.com/old")
	res.HopPath = "L"
	res.FetchStatus = http.StatusMovedPermanently
	res.Headers = http.Header{"Location": {"/new"}}

	ex := NewHTTPExtractor(nil)
	require.True(t, ex.ShouldProcess(res))
	ex.Extract(context.Background(), res)

	links := res.Outlinks()
	require.Len(t, links, 1)
	assert.Equal(t, "http://example.com/new", links[0].URL)
	assert.Equal(t, "LR", links[0].HopPath)
	assert.Equal(t, crawler.ContextLocation, links[0].ViaContext)
}

func TestHTTPExtractorSkipsNonRedirects(t *testing.T) {
	t.Parallel()

	ex := NewHTTPExtractor(nil)
	ok := crawler.NewResource("http://example.com/")
	ok.FetchStatus = http.StatusOK
	ok.Headers = http.Header{"Location": {"/elsewhere"}}
	assert.False(t, ex.ShouldProcess(ok))

	bare := crawler.NewResource("http://example.com/")
	bare.FetchStatus = http.StatusFound
	assert.False(t, ex.ShouldProcess(bare))

	ex.Extract(context.Background(), ok)
	assert.Empty(t, ok.Outlinks())
}

func TestHTTPExtractorRespectsPolicy(t *testing.T) {
	t.Parallel()

	res := crawler.NewResource("http://example.com/old")
	res.FetchStatus = http.StatusFound
	res.Headers = http.Header{"Location": {"http://elsewhere.test/"}}
	res.SetPolicy(rejectAll{})

	NewHTTPExtractor(nil).Extract(context.Background(), res)
	assert.Empty(t, res.Outlinks())
}

type rejectAll struct{}

func (rejectAll) InScope(*crawler.Resource) bool { return false }
