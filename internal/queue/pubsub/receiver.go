// Package pubsub receives crawl URLs from a Pub/Sub subscription and feeds
// them into the crawl queue.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/go-json-experiment/json"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediacrawler/internal/crawler"
)

// ErrInvalidMessage reports a message that cannot be turned into a queue item.
var ErrInvalidMessage = errors.New("invalid url message")

// URLMessage is the body of a bus message requesting a fetch.
type URLMessage struct {
	URL       string `json:"url"`
	ParentURL string `json:"parentUrl,omitempty"`
	HopPath   string `json:"hopPath,omitempty"`
	IsSeed    bool   `json:"isSeed,omitempty"`
}

// Enqueuer accepts crawl items; the frontier and the work queue both qualify.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Receiver pulls URL messages from a subscription and enqueues them.
type Receiver struct {
	sub    *pubsub.Subscription
	queue  Enqueuer
	logger *zap.Logger
}

// NewReceiver wires a subscription to the crawl queue.
func NewReceiver(sub *pubsub.Subscription, queue Enqueuer, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{sub: sub, queue: queue, logger: logger.Named("receiver")}
}

// Run receives messages until ctx is canceled. Malformed messages are acked
// and dropped; enqueue failures are nacked for redelivery.
func (r *Receiver) Run(ctx context.Context) error {
	err := r.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		item, err := DecodeItem(m.Data)
		if err != nil {
			r.logger.Warn("dropping bus message", zap.String("message_id", m.ID), zap.Error(err))
			m.Ack()
			return
		}
		if err := r.queue.Enqueue(ctx, item); err != nil {
			r.logger.Warn("enqueue bus url", zap.String("url", item.URL), zap.Error(err))
			m.Nack()
			return
		}
		r.logger.Debug("bus url enqueued", zap.String("url", item.URL))
		m.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive bus urls: %w", err)
	}
	return nil
}

// DecodeItem parses a URL message into a queue item marked as received from
// the bus.
func DecodeItem(data []byte) (crawler.QueueItem, error) {
	var msg URLMessage
	if err := json.Unmarshal(data, &msg, json.RejectUnknownMembers(false)); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	msg.URL = strings.TrimSpace(msg.URL)
	u, err := url.Parse(msg.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return crawler.QueueItem{}, fmt.Errorf("%w: url %q", ErrInvalidMessage, msg.URL)
	}

	item := crawler.QueueItem{
		URL:         msg.URL,
		Via:         msg.ParentURL,
		HopPath:     msg.HopPath,
		Annotations: []string{crawler.AnnotationReceivedFromBus},
	}
	if msg.HopPath != "" {
		item.LastHop = crawler.Hop(msg.HopPath[len(msg.HopPath)-1:])
	}
	if msg.IsSeed || msg.ParentURL == "" {
		item.SourceTag = msg.URL
	}
	return item, nil
}
