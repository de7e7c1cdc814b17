// Package progress defines the event structures emitted by the crawl workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart     Stage = "CRAWL_START"
	StageCrawlDone      Stage = "CRAWL_DONE"
	StageCrawlError     Stage = "CRAWL_ERROR"
	StageFetchDone      Stage = "FETCH_DONE"
	StageDiscoveryRun   Stage = "DISCOVERY_RUN"
	StageContainingPage Stage = "CONTAINING_PAGE"
	StageMediaCapture   Stage = "MEDIA_CAPTURE"
	StageMetadataRecord Stage = "METADATA_RECORD"
)

// Terminal reports whether s ends a crawl run.
func (s Stage) Terminal() bool {
	return s == StageCrawlDone || s == StageCrawlError
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawler progress.
type Event struct {
	// CrawlID identifies the crawl run using the 16-byte UUID form.
	CrawlID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Site optionally scopes fetch events to a host label.
	Site string
	// URL is the resource the event is about.
	URL string
	// Seed is the source tag of the resource, if any.
	Seed string
	// Status is the fetch status of URL.
	Status int
	// Bytes carries the response size for fetches and the payload size for
	// metadata records.
	Bytes int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures fetch and discovery latency.
	Dur time.Duration
	// Annotation is the media annotation ("youtube-dl:2", "youtube-dl:1/2").
	Annotation string
	// Digest is the content digest of URL in scheme form.
	Digest string
	// Timestamp17 is URL's 17-digit fetch timestamp.
	Timestamp17 string
	// ContainingURL, ContainingTimestamp and ContainingDigest link a media
	// capture back to its page.
	ContainingURL       string
	ContainingTimestamp string
	ContainingDigest    string
	// Videos and Pages count discovery results.
	Videos int
	Pages  int
	// WARCFilename and WARCOffset locate a metadata record.
	WARCFilename string
	WARCOffset   int64
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == [16]byte{} {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError:
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageDiscoveryRun:
		if e.URL == "" {
			return errors.New("discovery run requires url")
		}
	case StageContainingPage, StageMediaCapture:
		if e.URL == "" || e.Annotation == "" {
			return fmt.Errorf("%s requires url and annotation", e.Stage)
		}
	case StageMetadataRecord:
		if e.URL == "" || e.WARCFilename == "" {
			return errors.New("metadata record requires url and warc filename")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CrawlUUID converts the binary crawl ID to uuid.UUID for repositories.
func (e Event) CrawlUUID() uuid.UUID {
	return uuid.UUID(e.CrawlID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
