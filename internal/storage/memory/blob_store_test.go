package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "warcs/MEDIA-1.warc", "application/warc", bytes.NewReader([]byte("content")))
	require.NoError(t, err)
	assert.Equal(t, "memory://warcs/MEDIA-1.warc", uri)

	got, contentType, ok := store.Object("warcs/MEDIA-1.warc")
	require.True(t, ok)
	assert.Equal(t, "application/warc", contentType)
	got[0] = 'C'

	again, _, _ := store.Object("warcs/MEDIA-1.warc")
	assert.Equal(t, "content", string(again))
	assert.Equal(t, []string{"warcs/MEDIA-1.warc"}, store.Paths())

	_, _, ok = store.Object("missing")
	assert.False(t, ok)
}
