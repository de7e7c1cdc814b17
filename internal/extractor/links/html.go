package links

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

// DefaultMaxOutlinks caps the outlinks taken from a single page.
const DefaultMaxOutlinks = 6000

type linkRule struct {
	selector string
	attr     string
	hop      crawler.Hop
	context  crawler.LinkContext
}

var htmlRules = []linkRule{
	{"a[href]", "href", crawler.HopNavlink, crawler.ContextNavlinkMisc},
	{"area[href]", "href", crawler.HopNavlink, crawler.ContextNavlinkMisc},
	{"img[src]", "src", crawler.HopEmbed, crawler.ContextEmbedMisc},
	{"script[src]", "src", crawler.HopEmbed, crawler.ContextEmbedMisc},
	{"iframe[src]", "src", crawler.HopEmbed, crawler.ContextEmbedMisc},
	{"embed[src]", "src", crawler.HopEmbed, crawler.ContextEmbedMisc},
	{"video[src]", "src", crawler.HopEmbed, crawler.ContextEmbedMisc},
	{"audio[src]", "src", crawler.HopEmbed, crawler.ContextEmbedMisc},
	{"source[src]", "src", crawler.HopEmbed, crawler.ContextEmbedMisc},
	{"link[href]", "href", crawler.HopEmbed, crawler.ContextEmbedMisc},
}

// HTMLExtractor finds href and src attributes in successful HTML responses.
type HTMLExtractor struct {
	maxOutlinks int
	logger      *zap.Logger
}

var _ crawler.Extractor = (*HTMLExtractor)(nil)

// NewHTMLExtractor builds an HTMLExtractor. maxOutlinks <= 0 selects
// DefaultMaxOutlinks.
func NewHTMLExtractor(maxOutlinks int, logger *zap.Logger) *HTMLExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxOutlinks <= 0 {
		maxOutlinks = DefaultMaxOutlinks
	}
	return &HTMLExtractor{maxOutlinks: maxOutlinks, logger: logger.Named("extractor_html")}
}

// ShouldProcess reports whether res is a 2xx HTML response with a body.
func (e *HTMLExtractor) ShouldProcess(res *crawler.Resource) bool {
	if res.FetchStatus < 200 || res.FetchStatus >= 300 || len(res.Body) == 0 {
		return false
	}
	return IsHTML(res.ContentType)
}

// Extract parses the body and appends one outlink per distinct attribute
// value. Parse failures are logged and leave the resource untouched.
func (e *HTMLExtractor) Extract(_ context.Context, res *crawler.Resource) {
	if !e.ShouldProcess(res) {
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		e.logger.Warn("problem parsing html", zap.String("url", res.URL), zap.Error(err))
		return
	}

	base := res.URL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved := absoluteTarget(res.URL, href); resolved != "" {
			base = resolved
		}
	}

	created := 0
	seen := make(map[string]struct{})
	for _, rule := range htmlRules {
		doc.Find(rule.selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if created >= e.maxOutlinks {
				return false
			}
			raw, _ := sel.Attr(rule.attr)
			target := absoluteTarget(base, raw)
			if target == "" {
				return true
			}
			key := string(rule.hop) + " " + target
			if _, dup := seen[key]; dup {
				return true
			}
			seen[key] = struct{}{}
			if res.CreateOutlink(target, rule.context, rule.hop) != nil {
				created++
			}
			return true
		})
	}
	if created >= e.maxOutlinks {
		e.logger.Info("outlink cap reached", zap.String("url", res.URL), zap.Int("max", e.maxOutlinks))
	}
}

// IsHTML reports whether contentType names an HTML document.
func IsHTML(contentType string) bool {
	mime := strings.ToLower(crawler.TruncateMIME(contentType))
	return mime == "text/html" || mime == "application/xhtml+xml"
}

// absoluteTarget resolves raw against base and keeps only http(s) targets.
func absoluteTarget(base, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if b, err := url.Parse(base); err == nil && b.IsAbs() {
		ref = b.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}
