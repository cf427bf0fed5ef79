package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisClient defines the redis operations used by the redis driver.
// *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

type redisPublisher struct {
	client RedisClient
}

func connectRedis(ctx context.Context, cfg Config, client RedisClient) (*redisPublisher, error) {
	if client == nil {
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("%w: empty redis URL, use REDIS_URL env var", ErrInvalidConfig)
		}
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("failed to parse redis connection string: %w", err))
		}
		client = redis.NewClient(opt)
	}

	p := &redisPublisher{client: client}
	if err := connectWithRetry(ctx, cfg, p.Ping); err != nil {
		_ = client.Close()
		return nil, err
	}
	return p, nil
}

// Publish issues PUBLISH. Attributes have no place on the redis wire and are
// dropped; the body must carry everything a subscriber needs.
func (p *redisPublisher) Publish(ctx context.Context, topic string, msg Message) (Ack, error) {
	if msg.Body == "" {
		return Ack{}, fmt.Errorf("%w: empty message", ErrPayloadRejected)
	}
	n, err := p.client.Publish(ctx, topic, msg.Body).Result()
	if err != nil {
		return Ack{}, classifyRedisError(err)
	}
	return Ack{Receivers: n}, nil
}

func (p *redisPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return classifyRedisError(err)
	}
	return nil
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}

// Subscribe opens a dedicated pub/sub connection; it does not compete with
// publishes for the handle.
func (p *redisPublisher) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := p.client.Subscribe(ctx, topic)
	if ps == nil {
		return nil, fmt.Errorf("%w: redis client returned no pubsub", ErrSubscribeUnsupported)
	}
	// Wait for the subscription confirmation so early publishes are not lost.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, classifyRedisError(err)
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan Message, 64),
		done: make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

type redisSubscription struct {
	ps        *redis.PubSub
	out       chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) forward() {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- Message{Body: m.Payload}:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// classifyRedisError converts go-redis errors to channel sentinels.
func classifyRedisError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Join(ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return errors.Join(ErrCanceled, err)
	case errors.Is(err, redis.ErrClosed):
		return errors.Join(ErrClosed, err)
	}

	msg := err.Error()
	for _, prefix := range []string{"NOAUTH", "WRONGPASS", "NOPERM"} {
		if strings.HasPrefix(msg, prefix) {
			return errors.Join(ErrUnauthorized, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Join(ErrUnreachable, err)
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return errors.Join(ErrUnavailable, err)
	}

	return errors.Join(ErrUnreachable, err)
}
