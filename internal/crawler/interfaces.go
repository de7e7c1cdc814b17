package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrRobotsBlocked is returned by fetchers when robots.txt forbids the URL.
var ErrRobotsBlocked = errors.New("blocked by robots.txt")

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Queue provides enqueue/dequeue semantics for crawl items.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Policy decides whether a newly created outlink is in scope.
type Policy interface {
	InScope(link *Resource) bool
}

// Hasher computes content digests in scheme form (e.g. "sha1:BASE32").
type Hasher interface {
	Hash(data []byte) (string, error)
	HashReader(r io.Reader) (raw []byte, scheme string, err error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Extractor is a link-extraction stage in the fetch chain. Extract mutates the
// resource (annotations, outlinks) and never fails the chain.
type Extractor interface {
	ShouldProcess(res *Resource) bool
	Extract(ctx context.Context, res *Resource)
}

// URILogger receives one entry per processed resource (the crawl log).
type URILogger interface {
	Log(res *Resource)
}
