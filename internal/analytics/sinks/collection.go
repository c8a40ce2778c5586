package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/content"
)

// CollectionSink mirrors events into a content.Collection keyed by event
// ID. Redelivered events are ignored.
type CollectionSink struct {
	coll   content.Collection
	name   string
	logger *zap.Logger
}

// NewCollectionSink constructs a CollectionSink writing to the named
// collection.
func NewCollectionSink(coll content.Collection, name string, logger *zap.Logger) *CollectionSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectionSink{coll: coll, name: name, logger: logger}
}

// Consume creates one document per event.
func (s *CollectionSink) Consume(ctx context.Context, batch []analytics.Event) error {
	if s == nil || s.coll == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.ID == "" {
			s.logger.Debug("skipping event without id", zap.String("kind", string(evt.Kind)))
			continue
		}
		_, err := s.coll.Create(ctx, s.name, content.Document{ID: evt.ID, Data: documentData(evt)})
		if errors.Is(err, content.ErrExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("store event %s: %w", evt.ID, err)
		}
	}
	return nil
}

// Close closes the collection when it owns a handle.
func (s *CollectionSink) Close(context.Context) error {
	if s == nil || s.coll == nil {
		return nil
	}
	if closer, ok := s.coll.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func documentData(evt analytics.Event) map[string]any {
	return map[string]any{
		"page_load":   evt.PageLoad,
		"kind":        string(evt.Kind),
		"subject":     evt.Subject,
		"occurred_at": evt.OccurredAt.UTC().Format(time.RFC3339Nano),
		"attributes":  evt.Attributes(),
	}
}
