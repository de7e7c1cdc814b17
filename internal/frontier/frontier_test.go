package frontier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
	"github.com/JakeFAU/mediacrawler/internal/policy/scope"
	"github.com/JakeFAU/mediacrawler/internal/queue/memory"
)

func newFrontier(t *testing.T, capacity int) (*Frontier, *memory.Queue) {
	t.Helper()
	seen, err := OpenSeenSet(SeenConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, seen.Close()) })
	q := memory.NewQueue(capacity)
	return New(q, seen, scope.New(scope.Config{}), nil), q
}

func runFrontier(t *testing.T, f *Frontier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func dequeue(t *testing.T, q *memory.Queue) crawler.QueueItem {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return item
}

func TestFrontierSeedAndSchedule(t *testing.T) {
	t.Parallel()

	f, q := newFrontier(t, 8)
	runFrontier(t, f)
	ctx := context.Background()

	require.NoError(t, f.AddSeed(ctx, "http://example.com/"))
	seed := dequeue(t, q)
	assert.Equal(t, "http://example.com/", seed.URL)
	assert.Equal(t, "http://example.com/", seed.SourceTag)

	res := crawler.NewResourceFromItem(seed)
	res.SetPolicy(f.Policy())
	require.NotNil(t, res.CreateOutlink("/a", crawler.ContextNavlinkMisc, crawler.HopNavlink))
	require.NotNil(t, res.CreateOutlink("/a#frag", crawler.ContextNavlinkMisc, crawler.HopNavlink))
	require.NotNil(t, res.CreateOutlink("http://cdn.test/v.mp4", crawler.ContextEmbedMisc, crawler.HopEmbed))
	assert.Nil(t, res.CreateOutlink("http://elsewhere.test/", crawler.ContextNavlinkMisc, crawler.HopNavlink))

	assert.Equal(t, 2, f.Schedule(ctx, res))
	assert.Equal(t, 3, f.Pending())

	first := dequeue(t, q)
	assert.Equal(t, "http://example.com/a", first.URL)
	assert.Equal(t, crawler.HopNavlink, first.LastHop)
	assert.Equal(t, "http://example.com/", first.Via)
	second := dequeue(t, q)
	assert.Equal(t, "http://cdn.test/v.mp4", second.URL)
	assert.Equal(t, "E", second.HopPath)

	// same outlinks from another page are duplicates
	again := crawler.NewResource("http://example.com/b")
	again.SetPolicy(f.Policy())
	again.CreateOutlink("/a", crawler.ContextNavlinkMisc, crawler.HopNavlink)
	assert.Zero(t, f.Schedule(ctx, again))
}

func TestFrontierWaitIdle(t *testing.T) {
	t.Parallel()

	f, q := newFrontier(t, 2)
	runFrontier(t, f)
	ctx := context.Background()
	require.NoError(t, f.WaitIdle(ctx))

	require.NoError(t, f.AddSeed(ctx, "http://example.com/"))
	dequeue(t, q)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, f.WaitIdle(waitCtx))

	f.Done()
	require.NoError(t, f.WaitIdle(ctx))
	assert.Zero(t, f.Pending())

	// extra Done calls are ignored
	f.Done()
	assert.Zero(t, f.Pending())
}

func TestFrontierBacklogExceedsQueue(t *testing.T) {
	t.Parallel()

	f, q := newFrontier(t, 1)
	ctx := context.Background()
	require.NoError(t, f.AddSeed(ctx, "http://example.com/"))

	res := crawler.NewResource("http://example.com/")
	res.SetPolicy(f.Policy())
	for _, p := range []string{"/1", "/2", "/3", "/4"} {
		res.CreateOutlink(p, crawler.ContextNavlinkMisc, crawler.HopNavlink)
	}
	// scheduling never blocks on the bounded queue
	assert.Equal(t, 4, f.Schedule(ctx, res))

	runFrontier(t, f)
	urls := make([]string, 0, 5)
	for range 5 {
		urls = append(urls, dequeue(t, q).URL)
	}
	assert.Equal(t, []string{
		"http://example.com/",
		"http://example.com/1",
		"http://example.com/2",
		"http://example.com/3",
		"http://example.com/4",
	}, urls)
}

func TestFrontierBusItemsBypassSeen(t *testing.T) {
	t.Parallel()

	f, q := newFrontier(t, 4)
	runFrontier(t, f)
	ctx := context.Background()

	item := crawler.QueueItem{URL: "http://example.com/v", SourceTag: "http://example.com/v"}
	require.NoError(t, f.Enqueue(ctx, item))
	require.NoError(t, f.Enqueue(ctx, item))
	dequeue(t, q)
	assert.Equal(t, 1, f.Pending())

	item.Annotations = []string{crawler.AnnotationReceivedFromBus}
	require.NoError(t, f.Enqueue(ctx, item))
	got := dequeue(t, q)
	assert.Contains(t, got.Annotations, crawler.AnnotationReceivedFromBus)
	assert.Equal(t, 2, f.Pending())
}

func TestFrontierRejectsBadURL(t *testing.T) {
	t.Parallel()

	f, _ := newFrontier(t, 1)
	require.Error(t, f.Enqueue(context.Background(), crawler.QueueItem{URL: "http://%zz"}))
	require.Error(t, f.AddSeed(context.Background(), "no-host"))
	assert.Zero(t, f.Pending())
}
