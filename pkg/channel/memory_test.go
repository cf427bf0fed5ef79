package channel_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/replicast/pkg/channel"
)

func receive(t *testing.T, sub channel.Subscription) channel.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return channel.Message{}
	}
}

func TestMemoryBus(t *testing.T) {
	t.Parallel()

	t.Run("delivers to every subscriber of the topic", func(t *testing.T) {
		t.Parallel()
		bus := channel.NewMemoryBus(4)
		defer bus.Close()

		ctx := context.Background()
		a, err := bus.Subscribe(ctx, "t")
		require.NoError(t, err)
		b, err := bus.Subscribe(ctx, "t")
		require.NoError(t, err)
		other, err := bus.Subscribe(ctx, "other")
		require.NoError(t, err)

		msg := channel.Message{Body: "hello", Attributes: map[string]string{"operation": "insert"}}
		ack, err := bus.Publish(ctx, "t", msg)
		require.NoError(t, err)
		assert.Equal(t, int64(2), ack.Receivers)
		assert.NotEmpty(t, ack.MessageID)

		assert.Equal(t, msg, receive(t, a))
		assert.Equal(t, msg, receive(t, b))
		select {
		case <-other.Messages():
			t.Fatal("message leaked to another topic")
		default:
		}
	})

	t.Run("no subscribers is not an error", func(t *testing.T) {
		t.Parallel()
		bus := channel.NewMemoryBus(1)
		defer bus.Close()

		ack, err := bus.Publish(context.Background(), "t", channel.Message{Body: "x"})
		require.NoError(t, err)
		assert.Zero(t, ack.Receivers)
	})

	t.Run("slow subscriber is dropped", func(t *testing.T) {
		t.Parallel()
		bus := channel.NewMemoryBus(1)
		defer bus.Close()

		sub, err := bus.Subscribe(context.Background(), "t")
		require.NoError(t, err)

		_, err = bus.Publish(context.Background(), "t", channel.Message{Body: "1"})
		require.NoError(t, err)
		ack, err := bus.Publish(context.Background(), "t", channel.Message{Body: "2"})
		require.NoError(t, err)
		assert.Zero(t, ack.Receivers)

		require.Eventually(t, func() bool { return bus.SubscriberCount("t") == 0 }, time.Second, time.Millisecond)
		assert.Equal(t, "1", receive(t, sub).Body)
		_, ok := <-sub.Messages()
		assert.False(t, ok)
	})

	t.Run("context cancel unsubscribes", func(t *testing.T) {
		t.Parallel()
		bus := channel.NewMemoryBus(1)
		defer bus.Close()

		ctx, cancel := context.WithCancel(context.Background())
		sub, err := bus.Subscribe(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, 1, bus.SubscriberCount("t"))

		cancel()
		require.Eventually(t, func() bool { return bus.SubscriberCount("t") == 0 }, time.Second, time.Millisecond)
		_, ok := <-sub.Messages()
		assert.False(t, ok)
	})

	t.Run("close is idempotent and closes subscriptions", func(t *testing.T) {
		t.Parallel()
		bus := channel.NewMemoryBus(1)

		sub, err := bus.Subscribe(context.Background(), "t")
		require.NoError(t, err)
		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())

		require.NoError(t, bus.Close())
		require.NoError(t, bus.Close())

		_, err = bus.Publish(context.Background(), "t", channel.Message{Body: "x"})
		assert.ErrorIs(t, err, channel.ErrClosed)
		_, err = bus.Subscribe(context.Background(), "t")
		assert.ErrorIs(t, err, channel.ErrClosed)
		assert.ErrorIs(t, bus.Ping(context.Background()), channel.ErrClosed)
	})
}

func TestMemoryDriverThroughHandle(t *testing.T) {
	t.Parallel()

	h, err := channel.Connect(context.Background(), channel.Config{
		Driver:           channel.DriverMemory,
		Topic:            " replica-updates ",
		MemoryBufferSize: 8,
	})
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, "replica-updates", h.Topic())

	sub, err := h.Subscribe(context.Background(), "")
	require.NoError(t, err)

	ack, err := h.Publish(context.Background(), "", channel.Message{Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ack.Receivers)
	assert.Equal(t, "x", receive(t, sub).Body)
	assert.NoError(t, h.Healthcheck()(context.Background()))
}

func TestConnectValidation(t *testing.T) {
	t.Parallel()

	t.Run("empty topic", func(t *testing.T) {
		_, err := channel.Connect(context.Background(), channel.Config{Driver: channel.DriverMemory})
		assert.ErrorIs(t, err, channel.ErrInvalidConfig)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := channel.Connect(context.Background(), channel.Config{Driver: "carrier-pigeon", Topic: "t"})
		assert.ErrorIs(t, err, channel.ErrUnknownDriver)
		assert.ErrorIs(t, err, channel.ErrInvalidConfig)
		assert.ErrorIs(t, err, channel.ErrChannel)
	})
}
