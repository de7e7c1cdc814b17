package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
	"github.com/JakeFAU/mediacrawler/internal/queue/memory"
)

func TestDecodeItem(t *testing.T) {
	t.Parallel()

	item, err := DecodeItem([]byte(`{"url":"http://x/page","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, "http://x/page", item.URL)
	assert.Equal(t, "http://x/page", item.SourceTag)
	assert.Equal(t, []string{crawler.AnnotationReceivedFromBus}, item.Annotations)

	item, err = DecodeItem([]byte(`{"url":" http://m/v.mp4 ","parentUrl":"http://x/page","hopPath":"LE"}`))
	require.NoError(t, err)
	assert.Equal(t, "http://m/v.mp4", item.URL)
	assert.Equal(t, "http://x/page", item.Via)
	assert.Equal(t, crawler.HopEmbed, item.LastHop)
	assert.Empty(t, item.SourceTag)

	res := crawler.NewResourceFromItem(item)
	assert.True(t, res.HasAnnotation(crawler.AnnotationReceivedFromBus))
}

func TestDecodeItemRejects(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		`not json`,
		`{}`,
		`{"url":"/relative"}`,
		`{"url":"ftp://x/file"}`,
	} {
		_, err := DecodeItem([]byte(body))
		require.ErrorIs(t, err, ErrInvalidMessage, body)
	}
}

func TestReceiverEnqueuesMessages(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "urls")
	require.NoError(t, err)
	defer topic.Stop()
	sub, err := client.CreateSubscription(ctx, "urls-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	for _, body := range []string{`garbage`, `{"url":"http://x/page"}`} {
		_, err := topic.Publish(ctx, &pubsub.Message{Data: []byte(body)}).Get(ctx)
		require.NoError(t, err)
	}

	q := memory.NewQueue(4)
	recv := NewReceiver(sub, q, nil)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- recv.Run(runCtx) }()

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://x/page", item.URL)
	assert.Contains(t, item.Annotations, crawler.AnnotationReceivedFromBus)

	stop()
	require.NoError(t, <-done)
}
