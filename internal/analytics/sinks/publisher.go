package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
)

// Publisher delivers a payload to a message bus. topic is a routing hint; a
// publisher bound to a single topic may ignore it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublisherSink publishes every event individually, routed by kind as
// "<prefix>.<kind>".
type PublisherSink struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewPublisherSink constructs a PublisherSink. An empty prefix defaults to
// "engagement".
func NewPublisherSink(pub Publisher, prefix string, logger *zap.Logger) *PublisherSink {
	if prefix == "" {
		prefix = "engagement"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{pub: pub, prefix: prefix, logger: logger}
}

// Topic returns the routing key used for kind.
func (s *PublisherSink) Topic(kind analytics.Kind) string {
	return s.prefix + "." + string(kind)
}

// Consume publishes each event. Every event is attempted; the returned error
// joins the individual failures.
func (s *PublisherSink) Consume(ctx context.Context, batch []analytics.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		id, err := s.pub.Publish(ctx, s.Topic(evt.Kind), evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.ID, err))
			continue
		}
		s.logger.Debug("published event", zap.String("event_id", evt.ID), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close stops the publisher when it supports it.
func (s *PublisherSink) Close(ctx context.Context) error {
	if s == nil || s.pub == nil {
		return nil
	}
	if closer, ok := s.pub.(interface{ Close(context.Context) error }); ok {
		return closer.Close(ctx)
	}
	return nil
}
