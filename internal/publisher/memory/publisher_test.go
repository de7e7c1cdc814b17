package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsByTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id, err := pub.Publish(ctx, "captures", map[string]string{"url": "http://m/1"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)
	_, err = pub.Publish(ctx, "seeds", "http://x/")
	require.NoError(t, err)
	_, err = pub.Publish(ctx, "captures", map[string]string{"url": "http://m/2"})
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "memory-2", msgs[1].ID)
	assert.JSONEq(t, `{"url":"http://m/1"}`, string(msgs[0].Data))

	msgs[0].Topic = "modified"
	assert.Equal(t, "captures", pub.Messages()[0].Topic)
	assert.Equal(t, []any{"http://x/"}, pub.Topic("seeds"))
	assert.Len(t, pub.Topic("captures"), 2)
	assert.Empty(t, pub.Topic("other"))
}

func TestPublisherRejects(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "captures", make(chan int))
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "captures", "x")
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, pub.Messages())
}
