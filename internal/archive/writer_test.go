package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

func newTestWriter(t *testing.T, cfg Config, store crawler.BlobStore) (*Writer, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if cfg.Dir == "" {
		cfg.Dir = "/warcs"
	}
	return NewWriter(fs, cfg, store, &seqIDs{}, fixedClock{}, nil), fs
}

func metadataRecord(body string) *Record {
	return &Record{
		Type:          TypeMetadata,
		ID:            "<urn:uuid:meta>",
		ConcurrentTo:  "<urn:uuid:resp>",
		URL:           "youtube-dl:http://x/page",
		Date14:        "20240102030405",
		ContentType:   "application/vnd.youtube-dl_formats+json;charset=utf-8",
		EnforceLength: true,
		Length:        int64(len(body)),
		Content:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestWriterWritesRecordAndFillsPosition(t *testing.T) {
	t.Parallel()

	w, fs := newTestWriter(t, Config{Prefix: "TEST"}, nil)
	rec := metadataRecord(`{"url":"http://m/v.mp4"}`)
	require.NoError(t, w.Write(context.Background(), rec))

	assert.Equal(t, "TEST-20240102030405000-00000.warc", rec.Filename)
	assert.Greater(t, rec.Offset, int64(0), "warcinfo precedes the first record")
	require.NoError(t, w.Close(context.Background()))

	data, err := afero.ReadFile(fs, "/warcs/TEST-20240102030405000-00000.warc")
	require.NoError(t, err)
	got := string(data[rec.Offset:])
	assert.True(t, strings.HasPrefix(got, "WARC/1.1\r\nWARC-Type: metadata\r\n"))
	assert.Contains(t, got, "WARC-Record-ID: <urn:uuid:meta>\r\n")
	assert.Contains(t, got, "WARC-Date: 2024-01-02T03:04:05Z\r\n")
	assert.Contains(t, got, "WARC-Target-URI: youtube-dl:http://x/page\r\n")
	assert.Contains(t, got, "WARC-Concurrent-To: <urn:uuid:resp>\r\n")
	assert.Contains(t, got, "Content-Length: 24\r\n\r\n{\"url\":\"http://m/v.mp4\"}\r\n\r\n")
	assert.True(t, strings.HasPrefix(string(data), "WARC/1.1\r\nWARC-Type: warcinfo\r\n"))
}

func TestWriterEnforcesLength(t *testing.T) {
	t.Parallel()

	w, fs := newTestWriter(t, Config{Prefix: "TEST"}, nil)
	good := metadataRecord("abc")
	require.NoError(t, w.Write(context.Background(), good))
	sizeAfterGood := w.size

	short := metadataRecord("abc")
	short.Length = 10
	err := w.Write(context.Background(), short)
	require.ErrorIs(t, err, ErrLengthMismatch)

	long := metadataRecord("abcdef")
	long.Length = 3
	require.ErrorIs(t, w.Write(context.Background(), long), ErrLengthMismatch)

	assert.Equal(t, sizeAfterGood, w.size)
	require.NoError(t, w.Close(context.Background()))
	data, err := afero.ReadFile(fs, "/warcs/TEST-20240102030405000-00000.warc")
	require.NoError(t, err)
	assert.EqualValues(t, sizeAfterGood, len(data))
}

func TestWriterClosesContent(t *testing.T) {
	t.Parallel()

	w, _ := newTestWriter(t, Config{}, nil)
	content := &trackingCloser{Reader: strings.NewReader("abc")}
	rec := metadataRecord("abc")
	rec.Content = content
	require.NoError(t, w.Write(context.Background(), rec))
	assert.True(t, content.closed)
}

func TestWriterRotatesAndUploads(t *testing.T) {
	t.Parallel()

	store := &fakeBlobStore{}
	w, fs := newTestWriter(t, Config{Prefix: "ROT", MaxSize: 200, UploadPrefix: "crawl-1"}, store)

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(context.Background(), metadataRecord(strings.Repeat("x", 150))))
	}
	require.NoError(t, w.Close(context.Background()))

	uploads := w.Uploaded()
	require.Len(t, uploads, 3)
	assert.Equal(t, "fake://crawl-1/ROT-20240102030405000-00000.warc", uploads[0])
	assert.Equal(t, "application/warc", store.contentTypes[0])

	files, err := afero.ReadDir(fs, "/warcs")
	require.NoError(t, err)
	assert.Empty(t, files, "uploaded files are removed locally")
}

func TestWriterUploadFailure(t *testing.T) {
	t.Parallel()

	store := &fakeBlobStore{err: errors.New("bucket gone")}
	w, fs := newTestWriter(t, Config{Prefix: "ERR", KeepLocal: true}, store)
	require.NoError(t, w.Write(context.Background(), metadataRecord("abc")))
	require.ErrorContains(t, w.Close(context.Background()), "bucket gone")

	exists, err := afero.Exists(fs, "/warcs/ERR-20240102030405000-00000.warc")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestResponseRecord(t *testing.T) {
	t.Parallel()

	res := crawler.NewResource("http://x/page")
	res.FetchStatus = 200
	res.FetchBegin = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	res.Headers = http.Header{"Content-Type": {"text/html"}, "X-A": {"1", "2"}}
	res.Body = []byte("<html></html>")
	res.ContentDigest = "sha1:PAGE"

	rec := ResponseRecord(res, "<urn:uuid:r>")
	assert.Equal(t, TypeResponse, rec.Type)
	assert.Equal(t, "20240102030405", rec.Date14)
	data, err := io.ReadAll(rec.Content)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nX-A: 1\r\nX-A: 2\r\n\r\n<html></html>", string(data))
	assert.EqualValues(t, len(data), rec.Length)
	assert.Equal(t, []Header{{Name: "WARC-Payload-Digest", Value: "sha1:PAGE"}}, rec.Headers)
}

// --- fakes ---

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewRecordID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("<urn:uuid:%d>", s.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

type fakeBlobStore struct {
	mu           sync.Mutex
	err          error
	objects      map[string][]byte
	contentTypes []string
}

func (f *fakeBlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return "", err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[path] = buf.Bytes()
	f.contentTypes = append(f.contentTypes, contentType)
	return "fake://" + path, nil
}
