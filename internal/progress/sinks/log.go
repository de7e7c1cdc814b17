package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Fields that
// do not apply to the event's stage are omitted.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("crawl_id", evt.CrawlUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			fields = append(fields,
				zap.String("site", evt.Site),
				zap.String("url", evt.URL),
				zap.Int("status", evt.Status),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageDiscoveryRun:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.Int("videos", evt.Videos),
				zap.Int("pages", evt.Pages),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageContainingPage, progress.StageMediaCapture:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("annotation", evt.Annotation),
				zap.String("digest", evt.Digest),
				zap.String("containing_url", evt.ContainingURL),
			)
		case progress.StageMetadataRecord:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("warc_filename", evt.WARCFilename),
				zap.Int64("warc_offset", evt.WARCOffset),
				zap.Int64("bytes", evt.Bytes),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
