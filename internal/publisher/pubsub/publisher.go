// Package pubsub publishes completion events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Lunyoo/adlibrary-crawler/internal/metrics"
	"github.com/Lunyoo/adlibrary-crawler/internal/telemetry"
)

// Publisher wraps a Pub/Sub client and caches one topic handle per name.
type Publisher struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	closed bool
}

// New creates a Publisher over an existing client. The publisher owns the
// client from then on.
func New(client *pubsub.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client: client,
		logger: logger,
		topics: make(map[string]*pubsub.Topic),
	}
}

// Dial connects to projectID and returns a Publisher.
func Dial(ctx context.Context, projectID string, logger *zap.Logger, opts ...option.ClientOption) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return New(client, logger), nil
}

// Publish marshals the payload to JSON and publishes it to topic, carrying
// the caller's trace context in the message attributes. It waits for the
// server-assigned message id.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	t, err := p.topic(topic)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.ObserveEventPublished(false)
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: telemetry.InjectAttributes(ctx, map[string]string{"content_type": "application/json"}),
	}
	id, err := t.Publish(ctx, msg).Get(ctx)
	metrics.ObserveEventPublished(err == nil)
	if err != nil {
		return "", fmt.Errorf("publish message to %s: %w", topic, err)
	}
	p.logger.Debug("event published", zap.String("topic", topic), zap.String("message_id", id))
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	topics := p.topics
	p.topics = nil
	p.mu.Unlock()

	for _, t := range topics {
		t.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (p *Publisher) topic(name string) (*pubsub.Topic, error) {
	if p.client == nil {
		return nil, errors.New("pubsub publisher is not configured")
	}
	if name == "" {
		return nil, errors.New("pubsub topic is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("pubsub publisher is closed")
	}
	if t, ok := p.topics[name]; ok {
		return t, nil
	}
	t := p.client.Topic(name)
	p.topics[name] = t
	return t, nil
}
