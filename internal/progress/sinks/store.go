package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/progress"
	"github.com/JakeFAU/mediacrawler/internal/store"
)

// StoreSink persists crawl progress and the media capture index via a
// store.CaptureRepository. Site-level counters are collapsed per batch to
// reduce write amplification.
type StoreSink struct {
	repo   store.CaptureRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.CaptureRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository. It respects ctx deadlines and
// returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		crawlID := evt.CrawlUUID()
		var err error
		switch evt.Stage {
		case progress.StageCrawlStart, progress.StageCrawlDone, progress.StageCrawlError:
			err = s.handleCrawlEvent(ctx, crawlID, evt)
		case progress.StageFetchDone:
			s.recordSiteStats(stats, crawlID, evt)
		case progress.StageContainingPage:
			err = s.repo.RecordContainingPage(ctx, store.ContainingPage{
				CrawlID:    crawlID,
				URL:        evt.URL,
				Timestamp:  evt.Timestamp17,
				Digest:     evt.Digest,
				Annotation: evt.Annotation,
				Videos:     evt.Videos,
				Pages:      evt.Pages,
				Seed:       evt.Seed,
				SeenAt:     evt.TS,
			})
		case progress.StageMediaCapture:
			err = s.repo.RecordMediaCapture(ctx, store.MediaCapture{
				CrawlID:             crawlID,
				URL:                 evt.URL,
				Annotation:          evt.Annotation,
				Status:              evt.Status,
				Bytes:               evt.Bytes,
				Digest:              evt.Digest,
				Timestamp:           evt.Timestamp17,
				ContainingURL:       evt.ContainingURL,
				ContainingTimestamp: evt.ContainingTimestamp,
				ContainingDigest:    evt.ContainingDigest,
				Seed:                evt.Seed,
				CapturedAt:          evt.TS,
			})
		case progress.StageMetadataRecord:
			err = s.repo.RecordMetadata(ctx, store.MetadataRecord{
				CrawlID:       crawlID,
				URL:           evt.URL,
				ContainingURL: evt.ContainingURL,
				Digest:        evt.Digest,
				Bytes:         evt.Bytes,
				WARCFilename:  evt.WARCFilename,
				WARCOffset:    evt.WARCOffset,
				WrittenAt:     evt.TS,
			})
		}
		if err != nil {
			return fmt.Errorf("persist %s: %w", evt.Stage, err)
		}
	}

	for key, delta := range stats {
		if delta.visits == 0 && delta.bytes == 0 {
			continue
		}
		if err := s.repo.UpsertSiteStats(
			ctx,
			key.crawlID,
			key.site,
			delta.visits,
			delta.bytes,
			key.statusClass,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleCrawlEvent(ctx context.Context, crawlID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageCrawlStart:
		if err := s.repo.UpsertCrawlStart(ctx, crawlID, evt.TS); err != nil {
			return fmt.Errorf("upsert crawl start: %w", err)
		}
	case progress.StageCrawlDone:
		if err := s.repo.CompleteCrawl(ctx, crawlID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete crawl: %w", err)
		}
	case progress.StageCrawlError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteCrawl(ctx, crawlID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete crawl: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) recordSiteStats(stats map[statsKey]*statsDelta, crawlID uuid.UUID, evt progress.Event) {
	if evt.Site == "" || evt.StatusClass == progress.StatusOther {
		return
	}
	key := statsKey{
		crawlID:     crawlID,
		site:        evt.Site,
		statusClass: string(evt.StatusClass),
	}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	stat.visits++
	stat.bytes += evt.Bytes
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	crawlID     uuid.UUID
	site        string
	statusClass string
}

type statsDelta struct {
	visits int64
	bytes  int64
	at     time.Time
}
