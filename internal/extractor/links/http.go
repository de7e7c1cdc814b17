// Package links holds the generic outlink extractors that run ahead of media
// discovery: the redirect Location header and HTML href/src attributes.
package links

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

// HTTPExtractor turns the Location header of a redirect into an R outlink.
type HTTPExtractor struct {
	logger *zap.Logger
}

var _ crawler.Extractor = (*HTTPExtractor)(nil)

// NewHTTPExtractor builds an HTTPExtractor.
func NewHTTPExtractor(logger *zap.Logger) *HTTPExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPExtractor{logger: logger.Named("extractor_http")}
}

// ShouldProcess reports whether res is a redirect carrying a Location header.
func (e *HTTPExtractor) ShouldProcess(res *crawler.Resource) bool {
	return res.IsRedirect() && res.Headers.Get("Location") != ""
}

// Extract adds the redirect target as an outlink.
func (e *HTTPExtractor) Extract(_ context.Context, res *crawler.Resource) {
	if !e.ShouldProcess(res) {
		return
	}
	location := res.Headers.Get("Location")
	if res.CreateOutlink(location, crawler.ContextLocation, crawler.HopRedirect) == nil {
		e.logger.Debug("redirect target dropped",
			zap.String("url", res.URL),
			zap.String("location", location),
		)
	}
}
