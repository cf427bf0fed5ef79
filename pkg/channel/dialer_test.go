package channel_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/replicast/pkg/channel"
)

func memoryConfig() channel.Config {
	return channel.Config{
		Driver:            channel.DriverMemory,
		Topic:             "replica-updates",
		ReconnectInterval: 5 * time.Millisecond,
		MemoryBufferSize:  4,
	}
}

func TestDialerNotConnected(t *testing.T) {
	t.Parallel()

	d := channel.NewDialer(memoryConfig())
	t.Cleanup(func() { _ = d.Close() })

	assert.Nil(t, d.Handle())
	assert.Equal(t, "replica-updates", d.Topic())

	_, err := d.Publish(context.Background(), "", channel.Message{Body: "x"})
	assert.ErrorIs(t, err, channel.ErrNotConnected)
	assert.ErrorIs(t, err, channel.ErrChannel)

	_, err = d.Subscribe(context.Background(), "")
	assert.ErrorIs(t, err, channel.ErrNotConnected)

	err = d.Healthcheck()(context.Background())
	assert.ErrorIs(t, err, channel.ErrHealthcheckFailed)
	assert.ErrorIs(t, err, channel.ErrNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = d.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialerRun(t *testing.T) {
	t.Parallel()

	t.Run("connects and serves the handle", func(t *testing.T) {
		t.Parallel()
		d := channel.NewDialer(memoryConfig())
		t.Cleanup(func() { _ = d.Close() })

		require.NoError(t, d.Run(context.Background()))

		h, err := d.Wait(context.Background())
		require.NoError(t, err)
		assert.Same(t, h, d.Handle())
		assert.NoError(t, d.Healthcheck()(context.Background()))

		sub, err := d.Subscribe(context.Background(), "")
		require.NoError(t, err)
		defer sub.Close()

		ack, err := d.Publish(context.Background(), "", channel.Message{Body: "x"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), ack.Receivers)
	})

	t.Run("keeps dialing through transient failures", func(t *testing.T) {
		t.Parallel()
		client := &MockSNSClient{}
		client.On("GetTopicAttributes", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "ServiceUnavailable"}).Times(2)
		client.On("GetTopicAttributes", mock.Anything, mock.Anything).
			Return(&sns.GetTopicAttributesOutput{}, nil).Once()

		cfg := snsConfig(testTopicARN)
		cfg.RetryAttempts = 1
		cfg.ReconnectInterval = 5 * time.Millisecond
		d := channel.NewDialer(cfg, channel.WithSNSClient(client))
		t.Cleanup(func() { _ = d.Close() })

		_, err := d.Connect(context.Background())
		require.ErrorIs(t, err, channel.ErrUnavailable)
		assert.ErrorIs(t, d.Healthcheck()(context.Background()), channel.ErrUnavailable)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, d.Run(ctx))
		require.NotNil(t, d.Handle())
		client.AssertExpectations(t)
	})

	t.Run("gives up on invalid config", func(t *testing.T) {
		t.Parallel()
		cfg := memoryConfig()
		cfg.Driver = "carrier-pigeon"
		d := channel.NewDialer(cfg)
		t.Cleanup(func() { _ = d.Close() })

		done := make(chan error, 1)
		go func() { done <- d.Run(context.Background()) }()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("dialer kept retrying an invalid config")
		}
		assert.Nil(t, d.Handle())
		assert.ErrorIs(t, d.Healthcheck()(context.Background()), channel.ErrInvalidConfig)
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		t.Parallel()
		cfg := snsConfig(testTopicARN)
		cfg.RetryAttempts = 1
		cfg.ReconnectInterval = time.Hour
		client := &MockSNSClient{}
		client.On("GetTopicAttributes", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "ServiceUnavailable"})
		d := channel.NewDialer(cfg, channel.WithSNSClient(client))
		t.Cleanup(func() { _ = d.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- d.Run(ctx) }()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("dialer did not stop")
		}
	})
}

func TestDialerClose(t *testing.T) {
	t.Parallel()

	d := channel.NewDialer(memoryConfig())
	h, err := d.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err = h.Publish(context.Background(), "", channel.Message{Body: "x"})
	assert.ErrorIs(t, err, channel.ErrClosed)

	closed := channel.NewDialer(memoryConfig())
	require.NoError(t, closed.Close())
	_, err = closed.Connect(context.Background())
	assert.ErrorIs(t, err, channel.ErrClosed)
	assert.NoError(t, closed.Run(context.Background()))
}
