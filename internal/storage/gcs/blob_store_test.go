package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s, err := New(&storage.Client{}, Config{Bucket: "b", Prefix: "/crawls/"})
	require.NoError(t, err)
	assert.Equal(t, "crawls/MEDIA-1.warc", s.ObjectName("/MEDIA-1.warc"))

	bare, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "MEDIA-1.warc", bare.ObjectName("MEDIA-1.warc"))
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	s, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = s.PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}
