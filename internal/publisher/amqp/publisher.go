// Package amqp publishes analytics payloads to an AMQP 0-9-1 topic exchange.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Config points the publisher at an exchange.
type Config struct {
	URL      string
	Exchange string
	// RoutingKey is used when Publish is called without a topic.
	RoutingKey string
}

// Publisher publishes JSON messages to a durable topic exchange.
type Publisher struct {
	mu       sync.Mutex
	channel  Channel
	conn     interface{ Close() error }
	exchange string
	key      string
	now      func() time.Time
	seq      uint64
	logger   *zap.Logger
}

// Dial connects to the broker, opens a channel and declares the exchange.
func Dial(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp server: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	p, err := New(ch, cfg, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// New wraps an open channel and declares the exchange on it.
func New(ch Channel, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("amqp channel is required")
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("amqp exchange is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	return &Publisher{
		channel:  ch,
		exchange: cfg.Exchange,
		key:      cfg.RoutingKey,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}, nil
}

// Publish marshals payload to JSON and publishes it as a persistent message
// routed by topic. It returns the generated message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	key := topic
	if key == "" {
		key = p.key
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return "", fmt.Errorf("amqp publisher is closed")
	}
	p.seq++
	id := p.exchange + "-" + strconv.FormatUint(p.seq, 10)
	err = p.channel.Publish(p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    p.now(),
	})
	if err != nil {
		return "", fmt.Errorf("publish to %s/%s: %w", p.exchange, key, err)
	}
	return id, nil
}

// Close closes the channel and, when Dial opened it, the connection.
func (p *Publisher) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return nil
	}
	err := p.channel.Close()
	p.channel = nil
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
	}
	if err != nil {
		return fmt.Errorf("close amqp publisher: %w", err)
	}
	return nil
}
