package sinks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/publisher/memory"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

func TestPublisherSinkRoutesByKind(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublisherSink(pub, "", nil)
	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))

	msgs := pub.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, "engagement.article_opened", msgs[0].Topic)
	require.Equal(t, "engagement.dwell_time", msgs[3].Topic)

	require.NoError(t, sink.Close(context.Background()))
	_, err := pub.Publish(context.Background(), "x", nil)
	require.Error(t, err)
}

func TestPublisherSinkJoinsFailures(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	batch := sampleBatch()[:2]
	pub.On("Publish", mock.Anything, "site.article_opened", batch[0]).Return("", errors.New("broker down")).Once()
	pub.On("Publish", mock.Anything, "site.scroll_depth", batch[1]).Return("m-2", nil).Once()

	sink := NewPublisherSink(pub, "site", nil)
	err := sink.Consume(context.Background(), batch)
	require.ErrorContains(t, err, "broker down")
	pub.AssertExpectations(t)

	require.NoError(t, sink.Close(context.Background()))
}

func TestPublisherSinkStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	pub := &mockPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPublisherSink(pub, "", nil).Consume(ctx, sampleBatch())
	require.ErrorIs(t, err, context.Canceled)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	require.Equal(t, "engagement.click", NewPublisherSink(pub, "", nil).Topic(analytics.KindClick))
}
