package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/replicast/pkg/logger"
)

// Option customises Connect.
type Option func(*options)

type options struct {
	log         *slog.Logger
	snsClient   SNSClient
	redisClient RedisClient
	snsOptions  []SNSOption
}

// WithLogger sets the logger used by the handle and its drivers.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSNSClient injects a pre-built SNS client (useful for tests).
func WithSNSClient(c SNSClient) Option {
	return func(o *options) { o.snsClient = c }
}

// WithRedisClient injects an existing redis client instead of dialing REDIS_URL.
func WithRedisClient(c RedisClient) Option {
	return func(o *options) { o.redisClient = c }
}

// WithSNSOptions forwards options to the SNS driver.
func WithSNSOptions(opts ...SNSOption) Option {
	return func(o *options) { o.snsOptions = append(o.snsOptions, opts...) }
}

// Connect establishes the transport session described by cfg and returns the
// shared handle. Errors are *Error values wrapping ErrInvalidConfig,
// ErrUnauthorized, ErrUnreachable and friends.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Handle, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverSNS
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, &Error{Op: "connect", Driver: driver, Err: fmt.Errorf("%w: empty topic, use CHANNEL_TOPIC env var", ErrInvalidConfig)}
	}
	cfg.Topic = topic

	var (
		pub Publisher
		err error
	)
	switch driver {
	case DriverSNS:
		pub, err = connectSNS(ctx, cfg, o.snsClient, o.snsOptions...)
	case DriverRedis:
		pub, err = connectRedis(ctx, cfg, o.redisClient)
	case DriverMemory:
		pub = NewMemoryBus(cfg.MemoryBufferSize)
	default:
		err = fmt.Errorf("%w: %w %q", ErrInvalidConfig, ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, wrapError("connect", driver, topic, err)
	}

	o.log.Info("notification channel connected",
		logger.Component("channel"),
		slog.String("driver", driver),
		logger.Topic(topic),
	)

	return NewHandle(pub, driver, topic, o.log), nil
}

// compile-time interface checks
var (
	_ Publisher    = (*snsPublisher)(nil)
	_ Publisher    = (*redisPublisher)(nil)
	_ Subscribable = (*redisPublisher)(nil)
	_ Publisher    = (*MemoryBus)(nil)
	_ Subscribable = (*MemoryBus)(nil)
	_ RedisClient  = (*redis.Client)(nil)
)
