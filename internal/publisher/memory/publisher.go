// Package memory contains an in-memory publisher for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-json-experiment/json"
)

// Publisher keeps every published payload for inspection. Payloads are
// encoded the same way the Pub/Sub publisher encodes them, so a payload it
// accepts is one that would also go over the wire.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	byTopic  map[string][]int
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
	// Data is the JSON encoding of Payload.
	Data []byte
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{byTopic: make(map[string][]int)}
}

// Publish records payload under topic and returns a sequential ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload, json.Deterministic(true))
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.byTopic[topic] = append(p.byTopic[topic], len(p.messages))
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload, Data: data})
	return id, nil
}

// Messages returns every publish in order.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// Topic returns the payloads published to topic, in order.
func (p *Publisher) Topic(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	idx := p.byTopic[topic]
	out := make([]any, 0, len(idx))
	for _, i := range idx {
		out = append(out, p.messages[i].Payload)
	}
	return out
}
