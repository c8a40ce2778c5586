package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/store"
)

// StoreSink persists events via a store.EventRepository, one insert per
// batch.
type StoreSink struct {
	repo   store.EventRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.EventRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository. It respects ctx deadlines and
// wraps repository errors.
func (s *StoreSink) Consume(ctx context.Context, batch []analytics.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	if err := s.repo.InsertEvents(ctx, batch); err != nil {
		return fmt.Errorf("insert %d events: %w", len(batch), err)
	}
	s.logger.Debug("persisted events", zap.Int("count", len(batch)))
	return nil
}

// Close releases the repository when it owns a connection.
func (s *StoreSink) Close(ctx context.Context) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if closer, ok := s.repo.(interface{ Close(context.Context) error }); ok {
		return closer.Close(ctx)
	}
	return nil
}
