package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

var (
	ErrEmptyURL       = errors.New("events: broker url is empty")
	ErrConnect        = errors.New("events: failed to connect to broker")
	ErrPublish        = errors.New("events: failed to publish message")
	ErrPublisherClose = errors.New("events: publisher is closed")
)

// Publisher sends a message body under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// PublishJSON encodes v and publishes it.
func PublishJSON(ctx context.Context, p Publisher, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", routingKey, err)
	}
	return p.Publish(ctx, routingKey, body)
}

// Option configures a publisher.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// LogPublisher writes messages to the log instead of a broker.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(opts ...Option) *LogPublisher {
	return &LogPublisher{logger: buildOptions(opts).logger}
}

func (p *LogPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.DebugContext(ctx, "event published",
		slog.String("routing_key", routingKey),
		slog.Int("size", len(payload)))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Message is a message captured by MemoryPublisher.
type Message struct {
	RoutingKey string
	Payload    []byte
}

// MemoryPublisher keeps published messages in memory.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
	err      error
	closed   bool
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes subsequent Publish calls return err. Nil restores success.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *MemoryPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClose
	}
	if p.err != nil {
		return errors.Join(ErrPublish, p.err)
	}
	p.messages = append(p.messages, Message{RoutingKey: routingKey, Payload: slices.Clone(payload)})
	return nil
}

func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Messages returns the published messages, optionally filtered by routing key.
func (p *MemoryPublisher) Messages(routingKey string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	if routingKey == "" {
		return slices.Clone(p.messages)
	}
	var out []Message
	for _, m := range p.messages {
		if m.RoutingKey == routingKey {
			out = append(out, m)
		}
	}
	return out
}
