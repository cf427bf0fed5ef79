package channel_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/replicast/pkg/channel"
)

// recordingPublisher records publishes and the peak number of concurrent calls.
type recordingPublisher struct {
	mu       sync.Mutex
	messages []channel.Message
	topics   []string
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	err      error
	closed   atomic.Bool
	block    chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, msg channel.Message) (channel.Ack, error) {
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if p.block != nil {
		<-p.block
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return channel.Ack{}, p.err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	p.topics = append(p.topics, topic)
	return channel.Ack{MessageID: "id", Receivers: 1}, nil
}

func (p *recordingPublisher) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func TestHandlePublish(t *testing.T) {
	t.Parallel()

	t.Run("uses default topic when empty", func(t *testing.T) {
		t.Parallel()
		pub := &recordingPublisher{}
		h := channel.NewHandle(pub, "fake", "replica-updates", nil)

		ack, err := h.Publish(context.Background(), "", channel.Message{Body: "hello"})
		require.NoError(t, err)
		assert.Equal(t, "id", ack.MessageID)
		assert.Equal(t, []string{"replica-updates"}, pub.topics)
		assert.Equal(t, "replica-updates", h.Topic())
		assert.Equal(t, "fake", h.Driver())
	})

	t.Run("explicit topic overrides default", func(t *testing.T) {
		t.Parallel()
		pub := &recordingPublisher{}
		h := channel.NewHandle(pub, "fake", "replica-updates", nil)

		_, err := h.Publish(context.Background(), "other", channel.Message{Body: "hello"})
		require.NoError(t, err)
		assert.Equal(t, []string{"other"}, pub.topics)
	})

	t.Run("no topic at all", func(t *testing.T) {
		t.Parallel()
		h := channel.NewHandle(&recordingPublisher{}, "fake", "", nil)

		_, err := h.Publish(context.Background(), "", channel.Message{Body: "hello"})
		require.Error(t, err)
		assert.ErrorIs(t, err, channel.ErrChannel)
		assert.ErrorIs(t, err, channel.ErrInvalidConfig)
	})

	t.Run("driver error is wrapped", func(t *testing.T) {
		t.Parallel()
		h := channel.NewHandle(&recordingPublisher{err: channel.ErrUnreachable}, "fake", "t", nil)

		_, err := h.Publish(context.Background(), "", channel.Message{Body: "hello"})
		require.Error(t, err)
		var chErr *channel.Error
		require.ErrorAs(t, err, &chErr)
		assert.Equal(t, "publish", chErr.Op)
		assert.Equal(t, "t", chErr.Topic)
		assert.ErrorIs(t, err, channel.ErrUnreachable)
		assert.True(t, channel.IsRetryable(err))
	})
}

func TestHandleMutualExclusion(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{delay: 2 * time.Millisecond}
	h := channel.NewHandle(pub, "fake", "t", nil)

	const n = 20
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Publish(context.Background(), "", channel.Message{Body: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, pub.count())
	assert.Equal(t, int32(1), pub.peak.Load())
}

func TestHandleAcquireTimeout(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{block: make(chan struct{})}
	h := channel.NewHandle(pub, "fake", "t", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.Publish(context.Background(), "", channel.Message{Body: "first"})
	}()
	require.Eventually(t, func() bool { return pub.inflight.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Publish(ctx, "", channel.Message{Body: "second"})
	require.Error(t, err)
	assert.ErrorIs(t, err, channel.ErrTimeout)
	assert.True(t, channel.IsRetryable(err))

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	_, err = h.Publish(ctx2, "", channel.Message{Body: "third"})
	require.Error(t, err)
	assert.ErrorIs(t, err, channel.ErrCanceled)
	assert.False(t, channel.IsRetryable(err))

	close(pub.block)
	<-done
	assert.Equal(t, 1, pub.count())
}

func TestHandleClose(t *testing.T) {
	t.Parallel()

	t.Run("waits for in-flight publish", func(t *testing.T) {
		t.Parallel()
		pub := &recordingPublisher{block: make(chan struct{})}
		h := channel.NewHandle(pub, "fake", "t", nil)

		published := make(chan error, 1)
		go func() {
			_, err := h.Publish(context.Background(), "", channel.Message{Body: "x"})
			published <- err
		}()
		require.Eventually(t, func() bool { return pub.inflight.Load() == 1 }, time.Second, time.Millisecond)

		closed := make(chan struct{})
		go func() {
			_ = h.Close()
			close(closed)
		}()

		select {
		case <-closed:
			t.Fatal("close returned before in-flight publish finished")
		case <-time.After(20 * time.Millisecond):
		}

		close(pub.block)
		require.NoError(t, <-published)
		<-closed
		assert.True(t, pub.closed.Load())
	})

	t.Run("publish after close fails", func(t *testing.T) {
		t.Parallel()
		h := channel.NewHandle(&recordingPublisher{}, "fake", "t", nil)
		require.NoError(t, h.Close())
		require.NoError(t, h.Close())

		_, err := h.Publish(context.Background(), "", channel.Message{Body: "x"})
		assert.ErrorIs(t, err, channel.ErrClosed)

		_, err = h.Subscribe(context.Background(), "")
		assert.ErrorIs(t, err, channel.ErrClosed)

		err = h.Healthcheck()(context.Background())
		assert.ErrorIs(t, err, channel.ErrHealthcheckFailed)
	})
}

func TestHandleSubscribeUnsupported(t *testing.T) {
	t.Parallel()

	h := channel.NewHandle(&recordingPublisher{}, "fake", "t", nil)
	_, err := h.Subscribe(context.Background(), "")
	assert.ErrorIs(t, err, channel.ErrSubscribeUnsupported)
	assert.NoError(t, h.Healthcheck()(context.Background()))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{channel.ErrUnreachable, true},
		{channel.ErrUnavailable, true},
		{channel.ErrTimeout, true},
		{channel.ErrUnauthorized, false},
		{channel.ErrPayloadRejected, false},
		{channel.ErrTopicNotFound, false},
		{channel.ErrInvalidConfig, false},
		{channel.ErrClosed, false},
		{errors.New("mystery"), false},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, channel.IsRetryable(tt.err))
		})
	}
}
