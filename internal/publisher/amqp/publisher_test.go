package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared   []string
	published  []published
	publishErr error
	closed     int
}

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if kind != amqp.ExchangeTopic || !durable {
		return errors.New("unexpected exchange settings")
	}
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed++
	return nil
}

func TestPublisherPublishes(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	pub, err := New(ch, Config{Exchange: "engagement", RoutingKey: "events"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"engagement"}, ch.declared)

	id, err := pub.Publish(context.Background(), "engagement.click", map[string]string{"kind": "click"})
	require.NoError(t, err)
	require.Equal(t, "engagement-1", id)

	_, err = pub.Publish(context.Background(), "", map[string]string{"kind": "page_view"})
	require.NoError(t, err)

	require.Len(t, ch.published, 2)
	first := ch.published[0]
	require.Equal(t, "engagement", first.exchange)
	require.Equal(t, "engagement.click", first.key)
	require.Equal(t, "application/json", first.msg.ContentType)
	require.Equal(t, amqp.Persistent, first.msg.DeliveryMode)
	var body map[string]string
	require.NoError(t, json.Unmarshal(first.msg.Body, &body))
	require.Equal(t, "click", body["kind"])
	require.Equal(t, "events", ch.published[1].key)
}

func TestPublisherErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Exchange: "x"}, nil)
	require.Error(t, err)
	_, err = New(&fakeChannel{}, Config{}, nil)
	require.ErrorContains(t, err, "exchange")

	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	pub, err := New(ch, Config{Exchange: "engagement"}, nil)
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "k", "payload")
	require.ErrorContains(t, err, "channel closed")

	_, err = pub.Publish(context.Background(), "k", func() {})
	require.ErrorContains(t, err, "marshal")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "k", "payload")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPublisherClose(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	pub, err := New(ch, Config{Exchange: "engagement"}, nil)
	require.NoError(t, err)
	require.NoError(t, pub.Close(context.Background()))
	require.NoError(t, pub.Close(context.Background()))
	require.Equal(t, 1, ch.closed)

	_, err = pub.Publish(context.Background(), "k", "payload")
	require.ErrorContains(t, err, "closed")
}

func TestDialRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := Dial(Config{Exchange: "engagement"}, nil)
	require.ErrorContains(t, err, "url")
}
