// Package dispatcher manages worker fan-out over the crawl queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

// Runner is a worker loop the dispatcher can drive.
type Runner interface {
	Run(ctx context.Context)
	Close() error
}

// Enqueuer accepts new crawl items.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Dispatcher fans out queue work to a pool of workers. Each worker owns its
// own pipeline state (for example a media session scratch buffer).
type Dispatcher struct {
	queue   Enqueuer
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue Enqueuer, workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts all workers and blocks until every worker has returned, either
// because ctx finished or the queue was closed. Workers are closed on exit.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
	for _, w := range d.workers {
		if err := w.Close(); err != nil {
			d.logger.Warn("problem closing worker", zap.Error(err))
		}
	}
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
