package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
	"github.com/JakeFAU/mediacrawler/internal/progress"
)

// CaptureMessage is the payload published for each capture milestone.
type CaptureMessage struct {
	CrawlID             string    `json:"crawl_id"`
	Stage               string    `json:"stage"`
	TS                  time.Time `json:"ts"`
	URL                 string    `json:"url"`
	Seed                string    `json:"seed,omitempty"`
	Status              int       `json:"status,omitzero"`
	Annotation          string    `json:"annotation,omitempty"`
	Digest              string    `json:"digest,omitempty"`
	Timestamp           string    `json:"timestamp,omitempty"`
	ContainingURL       string    `json:"containing_url,omitempty"`
	ContainingTimestamp string    `json:"containing_timestamp,omitempty"`
	ContainingDigest    string    `json:"containing_digest,omitempty"`
	Videos              int       `json:"videos,omitzero"`
	WARCFilename        string    `json:"warc_filename,omitempty"`
	WARCOffset          int64     `json:"warc_offset,omitzero"`
}

// PublisherSink forwards containing page, media capture and metadata record
// events to a message topic. Other stages are ignored.
type PublisherSink struct {
	pub    crawler.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublisherSink constructs a PublisherSink publishing to topic.
func NewPublisherSink(pub crawler.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes every capture event in the batch. Publishing stops at the
// first failure.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		msg, ok := captureMessage(evt)
		if !ok {
			continue
		}
		id, err := s.pub.Publish(ctx, s.topic, msg)
		if err != nil {
			return fmt.Errorf("publish %s for %s: %w", evt.Stage, evt.URL, err)
		}
		s.logger.Debug("capture event published", zap.String("message_id", id), zap.String("url", evt.URL))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}

func captureMessage(evt progress.Event) (CaptureMessage, bool) {
	switch evt.Stage {
	case progress.StageContainingPage, progress.StageMediaCapture, progress.StageMetadataRecord:
	default:
		return CaptureMessage{}, false
	}
	return CaptureMessage{
		CrawlID:             evt.CrawlUUID().String(),
		Stage:               string(evt.Stage),
		TS:                  evt.TS.UTC(),
		URL:                 evt.URL,
		Seed:                evt.Seed,
		Status:              evt.Status,
		Annotation:          evt.Annotation,
		Digest:              evt.Digest,
		Timestamp:           evt.Timestamp17,
		ContainingURL:       evt.ContainingURL,
		ContainingTimestamp: evt.ContainingTimestamp,
		ContainingDigest:    evt.ContainingDigest,
		Videos:              evt.Videos,
		WARCFilename:        evt.WARCFilename,
		WARCOffset:          evt.WARCOffset,
	}, true
}
