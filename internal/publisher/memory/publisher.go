// Package memory contains an in-process completion-event publisher used
// when no broker is configured and in tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Lunyoo/adlibrary-crawler/internal/metrics"
	"github.com/Lunyoo/adlibrary-crawler/internal/telemetry"
)

// Publisher records published events with their wire encoding.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID         string
	Topic      string
	Payload    any
	Data       []byte
	Attributes map[string]string
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload as JSON the way a broker would receive it and
// records the message. Unencodable payloads are rejected.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.ObserveEventPublished(false)
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := telemetry.InjectAttributes(ctx, map[string]string{"content_type": "application/json"})

	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{
		ID:         id,
		Topic:      topic,
		Payload:    payload,
		Data:       data,
		Attributes: attrs,
	})
	metrics.ObserveEventPublished(true)
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
