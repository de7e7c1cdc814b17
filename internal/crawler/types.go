// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Hop records how a resource was reached from the resource that discovered it.
type Hop string

// Hop values as they appear in hop paths.
const (
	HopNavlink      Hop = "L"
	HopPrerequisite Hop = "P"
	HopEmbed        Hop = "E"
	HopRedirect     Hop = "R"
	HopInferred     Hop = "I"
	HopSpeculative  Hop = "X"
)

// LinkContext describes where in the discovering resource a link was found.
type LinkContext string

// Link contexts used by the extractors.
const (
	ContextNavlinkMisc LinkContext = "navlink/misc"
	ContextEmbedMisc   LinkContext = "embed/misc"
	ContextLocation    LinkContext = "location:"
	ContextInferred    LinkContext = "inferred/misc"
)

// AnnotationReceivedFromBus marks resources injected from the message bus
// rather than discovered by the crawl itself.
const AnnotationReceivedFromBus = "receivedFromAMQP"

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL       string
	Headers   http.Header
	UserAgent string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL           string
	StatusCode    int
	Headers       http.Header
	Body          []byte
	ContentLength int64
	FetchedAt     time.Time
	Duration      time.Duration
}

// QueueItem wraps a resource ready to be fetched.
type QueueItem struct {
	URL         string
	Via         string
	HopPath     string
	LastHop     Hop
	Context     LinkContext
	SourceTag   string
	Annotations []string
	Data        map[string]string
	Attempt     int
	Submitted   int64
}

// Resource is a single fetched (or to-be-fetched) URI moving through the
// extraction pipeline. It is owned by one worker at a time and is not safe for
// concurrent use.
type Resource struct {
	URL           string
	Via           *Resource
	ViaContext    LinkContext
	HopPath       string
	SourceTag     string
	FetchStatus   int
	ContentLength int64
	ContentSize   int64
	ContentType   string
	ContentDigest string
	FetchBegin    time.Time
	FetchDuration time.Duration
	WorkerID      int
	HTTPTxn       bool
	Headers       http.Header
	Body          []byte

	annotations []string
	data        map[string]string
	extraInfo   map[string]any
	outlinks    []*Resource
	outlinkKeys map[string]struct{}
	policy      Policy
}

// NewResource constructs a Resource for rawURL. The protocol-reported content
// length starts unknown (-1).
func NewResource(rawURL string) *Resource {
	return &Resource{
		URL:           rawURL,
		ContentLength: -1,
	}
}

// NewResourceFromItem rebuilds a Resource from a dequeued item, carrying over
// the annotations and data attached when the item was scheduled.
func NewResourceFromItem(item QueueItem) *Resource {
	r := NewResource(item.URL)
	r.HopPath = item.HopPath
	r.SourceTag = item.SourceTag
	r.ViaContext = item.Context
	if item.Via != "" {
		r.Via = NewResource(item.Via)
	}
	for _, a := range item.Annotations {
		r.AddAnnotation(a)
	}
	for k, v := range item.Data {
		r.PutData(k, v)
	}
	return r
}

// QueueItem converts the resource back into a schedulable item.
func (r *Resource) QueueItem() QueueItem {
	item := QueueItem{
		URL:         r.URL,
		HopPath:     r.HopPath,
		LastHop:     r.LastHop(),
		Context:     r.ViaContext,
		SourceTag:   r.SourceTag,
		Annotations: r.Annotations(),
	}
	if r.Via != nil {
		item.Via = r.Via.URL
	}
	if len(r.data) > 0 {
		item.Data = make(map[string]string, len(r.data))
		for k, v := range r.data {
			item.Data[k] = v
		}
	}
	return item
}

func (r *Resource) String() string {
	return r.URL
}

// SetPolicy installs the scope policy consulted by CreateOutlink.
func (r *Resource) SetPolicy(p Policy) {
	r.policy = p
}

// LastHop returns the final hop of the hop path, or "" for seeds.
func (r *Resource) LastHop() Hop {
	if r.HopPath == "" {
		return ""
	}
	return Hop(r.HopPath[len(r.HopPath)-1:])
}

// Annotations returns a copy of the annotation set in insertion order.
func (r *Resource) Annotations() []string {
	return append([]string(nil), r.annotations...)
}

// AddAnnotation appends a to the annotation set. It reports false if the
// annotation was already present.
func (r *Resource) AddAnnotation(a string) bool {
	if a == "" || slices.Contains(r.annotations, a) {
		return false
	}
	r.annotations = append(r.annotations, a)
	return true
}

// HasAnnotation reports whether a is present.
func (r *Resource) HasAnnotation(a string) bool {
	return slices.Contains(r.annotations, a)
}

// FindAnnotation returns the first annotation starting with prefix.
func (r *Resource) FindAnnotation(prefix string) (string, bool) {
	for _, a := range r.annotations {
		if strings.HasPrefix(a, prefix) {
			return a, true
		}
	}
	return "", false
}

// Data returns the value stored under key.
func (r *Resource) Data(key string) (string, bool) {
	v, ok := r.data[key]
	return v, ok
}

// PutData stores value under key.
func (r *Resource) PutData(key, value string) {
	if r.data == nil {
		r.data = make(map[string]string)
	}
	r.data[key] = value
}

// ExtraInfo returns a copy of the extra info logged alongside the resource.
func (r *Resource) ExtraInfo() map[string]any {
	out := make(map[string]any, len(r.extraInfo))
	for k, v := range r.extraInfo {
		out[k] = v
	}
	return out
}

// AddExtraInfo records an additional field for the crawl log.
func (r *Resource) AddExtraInfo(key string, value any) {
	if r.extraInfo == nil {
		r.extraInfo = make(map[string]any)
	}
	r.extraInfo[key] = value
}

// Outlinks returns the outlinks created so far, in creation order.
func (r *Resource) Outlinks() []*Resource {
	return append([]*Resource(nil), r.outlinks...)
}

// CreateOutlink resolves target against the resource URL and appends it as a
// new outlink with the given hop. It returns nil when the URL cannot be
// resolved or the scope policy rejects it. Creating the same URL and hop twice
// returns the existing outlink.
func (r *Resource) CreateOutlink(target string, lc LinkContext, hop Hop) *Resource {
	resolved, err := r.resolve(target)
	if err != nil {
		return nil
	}
	key := string(hop) + " " + resolved
	if _, dup := r.outlinkKeys[key]; dup {
		for _, existing := range r.outlinks {
			if existing.URL == resolved && existing.LastHop() == hop {
				return existing
			}
		}
	}
	link := r.Derive(resolved, lc, hop)
	if r.policy != nil && !r.policy.InScope(link) {
		return nil
	}
	if r.outlinkKeys == nil {
		r.outlinkKeys = make(map[string]struct{})
	}
	r.outlinkKeys[key] = struct{}{}
	r.outlinks = append(r.outlinks, link)
	return link
}

// Derive builds a resource reached from r by hop without recording it as an
// outlink. The URL is used verbatim.
func (r *Resource) Derive(rawURL string, lc LinkContext, hop Hop) *Resource {
	link := NewResource(rawURL)
	link.Via = r
	link.ViaContext = lc
	link.HopPath = r.HopPath + string(hop)
	link.SourceTag = r.SourceTag
	link.WorkerID = r.WorkerID
	link.policy = r.policy
	return link
}

func (r *Resource) resolve(target string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", fmt.Errorf("parse outlink %q: %w", target, err)
	}
	base, err := url.Parse(r.URL)
	if err != nil || !base.IsAbs() {
		if !ref.IsAbs() {
			return "", fmt.Errorf("cannot resolve relative outlink %q", target)
		}
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

// IsRedirect reports whether the fetch status is a 3xx.
func (r *Resource) IsRedirect() bool {
	return r.FetchStatus >= 300 && r.FetchStatus < 400
}
