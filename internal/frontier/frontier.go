// Package frontier schedules crawl targets: it deduplicates URLs against a
// seen-set, keeps an unbounded backlog in front of the bounded work queue, and
// tracks outstanding work so a crawl can tell when it has run dry.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
	"github.com/JakeFAU/mediacrawler/internal/metrics"
)

// Scheduling outcomes reported to metrics.
const (
	outcomeQueued    = "queued"
	outcomeDuplicate = "duplicate"
	outcomeInvalid   = "invalid"
)

// Seen is the dedup store consulted before a URL is queued.
type Seen interface {
	MarkSeen(key string) (bool, error)
}

// Scope is the crawl policy plus seed registration.
type Scope interface {
	crawler.Policy
	AddSeed(rawURL string) error
}

// Frontier feeds the work queue. It is safe for concurrent use.
type Frontier struct {
	queue  crawler.Queue
	seen   Seen
	scope  Scope
	logger *zap.Logger

	mu      sync.Mutex
	backlog []crawler.QueueItem
	pending int
	idle    chan struct{}
	wake    chan struct{}
}

// New builds a Frontier in front of queue.
func New(queue crawler.Queue, seen Seen, scope Scope, logger *zap.Logger) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	idle := make(chan struct{})
	close(idle)
	return &Frontier{
		queue:  queue,
		seen:   seen,
		scope:  scope,
		logger: logger.Named("frontier"),
		idle:   idle,
		wake:   make(chan struct{}, 1),
	}
}

// Policy returns the scope installed on resources before extraction.
func (f *Frontier) Policy() crawler.Policy {
	return f.scope
}

// AddSeed puts rawURL's host in scope and schedules it.
func (f *Frontier) AddSeed(ctx context.Context, rawURL string, annotations ...string) error {
	if err := f.scope.AddSeed(rawURL); err != nil {
		return fmt.Errorf("add seed: %w", err)
	}
	return f.Enqueue(ctx, crawler.QueueItem{
		URL:         rawURL,
		SourceTag:   rawURL,
		Annotations: annotations,
	})
}

// Enqueue schedules an externally submitted item. Bus-delivered items are
// queued even when already seen, since the sender asked for a fetch.
func (f *Frontier) Enqueue(_ context.Context, item crawler.QueueItem) error {
	key, err := crawler.CanonicalKey(item.URL)
	if err != nil {
		metrics.ObserveScheduled(string(item.LastHop), outcomeInvalid)
		return fmt.Errorf("enqueue %q: %w", item.URL, err)
	}
	added, err := f.seen.MarkSeen(key)
	if err != nil {
		return fmt.Errorf("enqueue %q: %w", item.URL, err)
	}
	if !added && !slices.Contains(item.Annotations, crawler.AnnotationReceivedFromBus) {
		metrics.ObserveScheduled(string(item.LastHop), outcomeDuplicate)
		return nil
	}
	if item.HopPath == "" && item.SourceTag != "" {
		if err := f.scope.AddSeed(item.URL); err != nil {
			f.logger.Debug("seed host not registered", zap.String("url", item.URL), zap.Error(err))
		}
	}
	f.push(item)
	metrics.ObserveScheduled(string(item.LastHop), outcomeQueued)
	return nil
}

// Schedule queues every outlink of res that has not been seen. It returns the
// number queued.
func (f *Frontier) Schedule(_ context.Context, res *crawler.Resource) int {
	queued := 0
	for _, link := range res.Outlinks() {
		hop := string(link.LastHop())
		key, err := crawler.CanonicalKey(link.URL)
		if err != nil {
			metrics.ObserveScheduled(hop, outcomeInvalid)
			continue
		}
		added, err := f.seen.MarkSeen(key)
		if err != nil {
			f.logger.Warn("problem consulting seen-set", zap.String("url", link.URL), zap.Error(err))
			continue
		}
		if !added {
			metrics.ObserveScheduled(hop, outcomeDuplicate)
			continue
		}
		f.push(link.QueueItem())
		metrics.ObserveScheduled(hop, outcomeQueued)
		queued++
	}
	return queued
}

// Done marks one dequeued item as finished.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == 0 {
		return
	}
	f.pending--
	metrics.SetFrontierPending(f.pending)
	if f.pending == 0 {
		close(f.idle)
	}
}

// Pending reports the items scheduled but not yet finished.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// WaitIdle blocks until no scheduled item remains unfinished.
func (f *Frontier) WaitIdle(ctx context.Context) error {
	for {
		f.mu.Lock()
		if f.pending == 0 {
			f.mu.Unlock()
			return nil
		}
		idle := f.idle
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for idle frontier: %w", ctx.Err())
		case <-idle:
		}
	}
}

// Run moves backlog items into the work queue until ctx is canceled.
func (f *Frontier) Run(ctx context.Context) error {
	for {
		item, ok := f.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-f.wake:
				continue
			}
		}
		if err := f.queue.Enqueue(ctx, item); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("problem queueing url", zap.String("url", item.URL), zap.Error(err))
			f.Done()
			return fmt.Errorf("feed work queue: %w", err)
		}
	}
}

func (f *Frontier) push(item crawler.QueueItem) {
	f.mu.Lock()
	f.backlog = append(f.backlog, item)
	if f.pending == 0 {
		f.idle = make(chan struct{})
	}
	f.pending++
	metrics.SetFrontierPending(f.pending)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Frontier) pop() (crawler.QueueItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backlog) == 0 {
		return crawler.QueueItem{}, false
	}
	item := f.backlog[0]
	f.backlog[0] = crawler.QueueItem{}
	f.backlog = f.backlog[1:]
	return item, true
}
