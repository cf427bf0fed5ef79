package broadcast_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/replicast/pkg/broadcast"
	"github.com/dmitrymomot/replicast/pkg/channel"
)

func TestRetrier(t *testing.T) {
	t.Parallel()

	t.Run("retries transient failures until success", func(t *testing.T) {
		t.Parallel()
		pub := &scriptedPublisher{errs: []error{channel.ErrUnreachable, channel.ErrUnavailable}}
		svc := broadcast.New(newHandle(t, pub))
		r := broadcast.Retrier{Service: svc, Backoff: broadcast.FixedBackoff{Interval: time.Millisecond}, MaxAttempts: 5}

		require.NoError(t, r.Announce(context.Background(), insertOp(t)))
		assert.Equal(t, 3, pub.callCount())

		stats := svc.Stats()
		assert.Equal(t, uint64(2), stats.Retried)
		assert.Equal(t, uint64(2), stats.Failed)
		assert.Equal(t, uint64(1), stats.Announced)
	})

	t.Run("does not retry permanent failures", func(t *testing.T) {
		t.Parallel()
		pub := &scriptedPublisher{errs: []error{channel.ErrUnauthorized}}
		svc := broadcast.New(newHandle(t, pub))
		r := broadcast.Retrier{Service: svc, Backoff: broadcast.FixedBackoff{Interval: time.Millisecond}, MaxAttempts: 5}

		err := r.Announce(context.Background(), insertOp(t))
		assert.ErrorIs(t, err, channel.ErrUnauthorized)
		assert.Equal(t, 1, pub.callCount())
		assert.Zero(t, svc.Stats().Retried)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		t.Parallel()
		pub := &scriptedPublisher{errs: []error{channel.ErrUnreachable, channel.ErrUnreachable, channel.ErrUnreachable}}
		svc := broadcast.New(newHandle(t, pub))
		r := broadcast.Retrier{Service: svc, Backoff: broadcast.FixedBackoff{Interval: time.Millisecond}, MaxAttempts: 2}

		err := r.Announce(context.Background(), insertOp(t))
		assert.True(t, broadcast.IsTransportFailure(err))
		assert.Equal(t, 2, pub.callCount())
	})

	t.Run("stops when context is done", func(t *testing.T) {
		t.Parallel()
		pub := &scriptedPublisher{errs: []error{channel.ErrUnreachable, channel.ErrUnreachable}}
		svc := broadcast.New(newHandle(t, pub))
		r := broadcast.Retrier{Service: svc, Backoff: broadcast.FixedBackoff{Interval: time.Hour}, MaxAttempts: 5}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := r.Announce(ctx, insertOp(t))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.ErrorIs(t, err, channel.ErrUnreachable)
		assert.Equal(t, 1, pub.callCount())
	})
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	b := broadcast.ExponentialBackoff{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
	}
	assert.Zero(t, b.NextInterval(0))
	assert.Equal(t, 100*time.Millisecond, b.NextInterval(1))
	assert.Equal(t, 200*time.Millisecond, b.NextInterval(2))
	assert.Equal(t, 400*time.Millisecond, b.NextInterval(3))
	assert.Equal(t, time.Second, b.NextInterval(10))

	jittered := broadcast.ExponentialBackoff{InitialInterval: time.Second, MaxInterval: time.Minute, JitterFactor: 0.5}
	for range 50 {
		d := jittered.NextInterval(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestFixedBackoff(t *testing.T) {
	t.Parallel()

	b := broadcast.FixedBackoff{Interval: time.Second}
	assert.Zero(t, b.NextInterval(0))
	assert.Equal(t, time.Second, b.NextInterval(1))
	assert.Equal(t, time.Second, b.NextInterval(7))
	assert.NotNil(t, broadcast.DefaultBackoff())
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.False(t, broadcast.IsRetryable(nil))
	assert.False(t, broadcast.IsRetryable(channel.ErrUnreachable), "bare channel errors are not announce failures")
	assert.True(t, broadcast.IsRetryable(&broadcast.Error{Kind: broadcast.KindTransportFailure, Err: channel.ErrTimeout}))
	assert.False(t, broadcast.IsRetryable(&broadcast.Error{Kind: broadcast.KindTransportFailure, Err: channel.ErrPayloadRejected}))
	assert.False(t, broadcast.IsRetryable(&broadcast.Error{Kind: broadcast.KindSerialization, Err: errors.New("x")}))
}
