package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
)

// LogSink emits structured logs for debugging event streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []analytics.Event) error {
	for _, evt := range batch {
		s.logger.Info("analytics event",
			zap.String("id", evt.ID),
			zap.String("page_load", evt.PageLoad),
			zap.String("kind", string(evt.Kind)),
			zap.String("subject", evt.Subject),
			zap.Time("occurred_at", evt.OccurredAt),
			zap.Any("attributes", evt.Attributes()),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
