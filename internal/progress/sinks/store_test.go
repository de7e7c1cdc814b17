package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediacrawler/internal/progress"
	"github.com/JakeFAU/mediacrawler/internal/storage/memory"
	"github.com/JakeFAU/mediacrawler/internal/store"
)

// TestStoreSinkPersistsEvents ensures visits/bytes are collapsed per site before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeCaptureRepo{}
	sink := NewStoreSink(repo, nil)
	crawlUUID := uuid.New()
	crawlID := progress.UUIDToBytes(crawlUUID)
	now := time.Now()

	batch := []progress.Event{
		{CrawlID: crawlID, Stage: progress.StageCrawlStart, TS: now},
		{
			CrawlID:     crawlID,
			Stage:       progress.StageFetchDone,
			Site:        "example.com",
			Bytes:       100,
			StatusClass: progress.Status2xx,
			TS:          now.Add(1 * time.Second),
		},
		{
			CrawlID:     crawlID,
			Stage:       progress.StageFetchDone,
			Site:        "example.com",
			Bytes:       50,
			StatusClass: progress.Status2xx,
			TS:          now.Add(2 * time.Second),
		},
		{CrawlID: crawlID, Stage: progress.StageCrawlDone, TS: now.Add(3 * time.Second), Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{crawlUUID}, repo.starts)
	require.Equal(t, []uuid.UUID{crawlUUID}, repo.completes)
	require.Len(t, repo.siteStats, 1)
	stats := repo.siteStats[0]
	require.Equal(t, int64(2), stats.deltaVisits)
	require.Equal(t, int64(150), stats.deltaBytes)
	require.Equal(t, "2xx", stats.statusClass)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeCaptureRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	crawlID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{CrawlID: crawlID, Stage: progress.StageCrawlStart, TS: time.Now()},
	})
	require.Error(t, err)

	err = sink.Consume(context.Background(), []progress.Event{
		{CrawlID: crawlID, Stage: progress.StageMediaCapture, URL: "http://m/1", Annotation: "youtube-dl:1/1", TS: time.Now()},
	})
	require.Error(t, err)
}

// TestStoreSinkIndexesCaptures feeds capture events into the memory repository
// and reads the page-to-media index back.
func TestStoreSinkIndexesCaptures(t *testing.T) {
	t.Parallel()

	repo := memory.NewCaptureStore()
	sink := NewStoreSink(repo, nil)
	crawlUUID := uuid.New()
	crawlID := progress.UUIDToBytes(crawlUUID)
	now := time.Unix(1700000000, 0).UTC()

	batch := []progress.Event{
		{CrawlID: crawlID, TS: now, Stage: progress.StageCrawlStart},
		{
			CrawlID: crawlID, TS: now, Stage: progress.StageContainingPage,
			URL: "http://x/page", Annotation: "youtube-dl:2", Digest: "sha1:PAGE", Timestamp17: "20231114221320000", Videos: 2,
		},
		{
			CrawlID: crawlID, TS: now.Add(time.Second), Stage: progress.StageMediaCapture,
			URL: "http://m/1", Annotation: "youtube-dl:1/2", Status: 200, Timestamp17: "20231114221321000",
			ContainingURL: "http://x/page", ContainingTimestamp: "20231114221320000", ContainingDigest: "sha1:PAGE",
		},
		{
			CrawlID: crawlID, TS: now, Stage: progress.StageMetadataRecord,
			URL: "youtube-dl:http://x/page", ContainingURL: "http://x/page", WARCFilename: "MEDIA-00000.warc", WARCOffset: 10,
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	run, err := repo.GetCrawl(context.Background(), crawlUUID)
	require.NoError(t, err)
	require.Equal(t, store.RunRunning, run.Status)

	media, err := repo.ListMediaForPage(context.Background(), crawlUUID, "http://x/page", 10, 0)
	require.NoError(t, err)
	require.Len(t, media, 1)
	require.Equal(t, "sha1:PAGE", media[0].ContainingDigest)

	pages := repo.ContainingPages(crawlUUID)
	require.Len(t, pages, 1)
	require.Equal(t, 2, pages[0].Videos)
	require.Len(t, repo.Metadata(), 1)
	require.Equal(t, int64(10), repo.Metadata()[0].WARCOffset)
}

type fakeCaptureRepo struct {
	fail      bool
	starts    []uuid.UUID
	completes []uuid.UUID
	siteStats []siteCall
}

type siteCall struct {
	crawlID     uuid.UUID
	site        string
	deltaVisits int64
	deltaBytes  int64
	statusClass string
}

func (f *fakeCaptureRepo) UpsertCrawlStart(_ context.Context, crawlID uuid.UUID, _ time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, crawlID)
	return nil
}

func (f *fakeCaptureRepo) CompleteCrawl(
	_ context.Context,
	crawlID uuid.UUID,
	_ time.Time,
	_ store.CrawlStatus,
	_ *string,
) error {
	if f.fail {
		return assertErr("complete")
	}
	f.completes = append(f.completes, crawlID)
	return nil
}

func (f *fakeCaptureRepo) UpsertSiteStats(
	_ context.Context,
	crawlID uuid.UUID,
	site string,
	deltaVisits int64,
	deltaBytes int64,
	statusClass string,
	_ time.Time,
) error {
	if f.fail {
		return assertErr("site")
	}
	f.siteStats = append(f.siteStats, siteCall{
		crawlID:     crawlID,
		site:        site,
		deltaVisits: deltaVisits,
		deltaBytes:  deltaBytes,
		statusClass: statusClass,
	})
	return nil
}

func (f *fakeCaptureRepo) RecordContainingPage(context.Context, store.ContainingPage) error {
	if f.fail {
		return assertErr("page")
	}
	return nil
}

func (f *fakeCaptureRepo) RecordMediaCapture(context.Context, store.MediaCapture) error {
	if f.fail {
		return assertErr("media")
	}
	return nil
}

func (f *fakeCaptureRepo) RecordMetadata(context.Context, store.MetadataRecord) error {
	if f.fail {
		return assertErr("metadata")
	}
	return nil
}

func (f *fakeCaptureRepo) GetCrawl(context.Context, uuid.UUID) (store.CrawlRun, error) {
	return store.CrawlRun{}, assertErr("read")
}

func (f *fakeCaptureRepo) ListMediaForPage(context.Context, uuid.UUID, string, int, int) ([]store.MediaCapture, error) {
	return nil, assertErr("list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
