package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediacrawler/internal/store"
)

func TestCaptureStoreCrawlLifecycle(t *testing.T) {
	t.Parallel()

	s := NewCaptureStore()
	ctx := context.Background()
	id := uuid.New()
	started := time.Unix(1700000000, 0).UTC()

	_, err := s.GetCrawl(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.CompleteCrawl(ctx, id, started, store.RunSuccess, nil), store.ErrNotFound)

	require.NoError(t, s.UpsertCrawlStart(ctx, id, started))
	require.NoError(t, s.UpsertCrawlStart(ctx, id, started.Add(time.Hour)))
	msg := "fetch failed"
	require.NoError(t, s.CompleteCrawl(ctx, id, started.Add(time.Minute), store.RunError, &msg))
	msg = "modified"

	run, err := s.GetCrawl(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, started, run.StartedAt)
	assert.Equal(t, store.RunError, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "fetch failed", *run.ErrorMessage)
}

func TestCaptureStoreSiteStats(t *testing.T) {
	t.Parallel()

	s := NewCaptureStore()
	ctx := context.Background()
	id := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.UpsertSiteStats(ctx, id, "x", 2, 100, "2xx", at))
	require.NoError(t, s.UpsertSiteStats(ctx, id, "x", 1, 10, "3xx", at.Add(time.Second)))
	require.Error(t, s.UpsertSiteStats(ctx, id, "x", 1, 10, "other", at))

	stat, ok := s.SiteStats(id, "x")
	require.True(t, ok)
	assert.Equal(t, int64(3), stat.Visits)
	assert.Equal(t, int64(110), stat.BytesTotal)
	assert.Equal(t, int64(2), stat.Fetch2xx)
	assert.Equal(t, int64(1), stat.Fetch3xx)
	assert.Equal(t, at.Add(time.Second), stat.LastUpdate)
}

func TestCaptureStoreMediaIndex(t *testing.T) {
	t.Parallel()

	s := NewCaptureStore()
	ctx := context.Background()
	id := uuid.New()
	at := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.RecordContainingPage(ctx, store.ContainingPage{CrawlID: id, URL: "http://x/page", Timestamp: "1"}))
	for i, u := range []string{"http://m/a", "http://m/b", "http://m/c"} {
		require.NoError(t, s.RecordMediaCapture(ctx, store.MediaCapture{
			CrawlID:       id,
			URL:           u,
			Timestamp:     "2",
			ContainingURL: "http://x/page",
			CapturedAt:    at.Add(time.Duration(i) * time.Second),
		}))
	}
	// Duplicate capture of the same fetch is ignored.
	require.NoError(t, s.RecordMediaCapture(ctx, store.MediaCapture{
		CrawlID: id, URL: "http://m/a", Timestamp: "2", ContainingURL: "http://x/page", CapturedAt: at.Add(time.Hour),
	}))
	require.NoError(t, s.RecordMediaCapture(ctx, store.MediaCapture{
		CrawlID: id, URL: "http://m/z", Timestamp: "2", ContainingURL: "http://x/other",
	}))

	media, err := s.ListMediaForPage(ctx, id, "http://x/page", 2, 0)
	require.NoError(t, err)
	require.Len(t, media, 2)
	assert.Equal(t, "http://m/c", media[0].URL)
	assert.Equal(t, "http://m/b", media[1].URL)

	media, err = s.ListMediaForPage(ctx, id, "http://x/page", 10, 2)
	require.NoError(t, err)
	require.Len(t, media, 1)
	assert.Equal(t, "http://m/a", media[0].URL)

	media, err = s.ListMediaForPage(ctx, id, "http://x/page", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, media)

	assert.Len(t, s.ContainingPages(id), 1)
	require.NoError(t, s.RecordMetadata(ctx, store.MetadataRecord{CrawlID: id, URL: "youtube-dl:http://x/page"}))
	assert.Len(t, s.Metadata(), 1)
}
