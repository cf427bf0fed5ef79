package channel

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dmitrymomot/replicast/pkg/logger"
)

// DefaultReconnectInterval is used when Config.ReconnectInterval is unset.
const DefaultReconnectInterval = 30 * time.Second

// Dialer owns the process handle when the boot connect may fail. Until a
// handle exists every call fails with ErrNotConnected and Run keeps dialing
// in the background.
type Dialer struct {
	cfg  Config
	opts []Option
	log  *slog.Logger

	dialMu sync.Mutex // one connect attempt at a time

	mu      sync.Mutex
	handle  *Handle
	lastErr error
	closed  bool
	ready   chan struct{}
}

// NewDialer prepares a dialer; nothing is dialed until Connect or Run.
func NewDialer(cfg Config, opts ...Option) *Dialer {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return &Dialer{
		cfg:   cfg,
		opts:  opts,
		log:   o.log.With(logger.Component("channel")),
		ready: make(chan struct{}),
	}
}

// Connect makes one connect attempt unless a handle already exists.
func (d *Dialer) Connect(ctx context.Context) (*Handle, error) {
	d.dialMu.Lock()
	defer d.dialMu.Unlock()

	if h, err := d.current("connect", ""); err == nil || errors.Is(err, ErrClosed) {
		return h, err
	}

	h, err := Connect(ctx, d.cfg, d.opts...)

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case err != nil:
		d.lastErr = err
		return nil, err
	case d.closed:
		// Closed while dialing.
		_ = h.Close()
		return nil, &Error{Op: "connect", Driver: d.cfg.Driver, Err: ErrClosed}
	}
	d.handle = h
	d.lastErr = nil
	close(d.ready)
	return h, nil
}

// Run dials every ReconnectInterval until a handle exists, ctx is done or the
// configuration turns out to be invalid. It always returns nil.
func (d *Dialer) Run(ctx context.Context) error {
	interval := d.cfg.ReconnectInterval
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}

	for {
		_, err := d.Connect(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrClosed):
			d.log.ErrorContext(ctx, "notification channel will not be retried", logger.Error(err))
			return nil
		case ctx.Err() == nil:
			d.log.WarnContext(ctx, "notification channel still unavailable",
				logger.Error(err),
				slog.Duration("retry_in", interval),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// Wait blocks until a handle exists or ctx is done.
func (d *Dialer) Wait(ctx context.Context) (*Handle, error) {
	select {
	case <-d.ready:
		return d.Handle(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Handle returns the connected handle or nil.
func (d *Dialer) Handle() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle
}

// Topic returns the configured default topic.
func (d *Dialer) Topic() string { return strings.TrimSpace(d.cfg.Topic) }

// Publish forwards to the handle. Without one it fails with ErrNotConnected.
func (d *Dialer) Publish(ctx context.Context, topic string, msg Message) (Ack, error) {
	h, err := d.current("publish", topic)
	if err != nil {
		return Ack{}, err
	}
	return h.Publish(ctx, topic, msg)
}

// Subscribe forwards to the handle. Without one it fails with ErrNotConnected.
func (d *Dialer) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	h, err := d.current("subscribe", topic)
	if err != nil {
		return nil, err
	}
	return h.Subscribe(ctx, topic)
}

// Healthcheck fails until a handle exists, then delegates to it.
func (d *Dialer) Healthcheck() func(context.Context) error {
	return func(ctx context.Context) error {
		d.mu.Lock()
		h, lastErr := d.handle, d.lastErr
		d.mu.Unlock()

		if h == nil {
			return errors.Join(ErrHealthcheckFailed, ErrNotConnected, lastErr)
		}
		return h.Healthcheck()(ctx)
	}
}

// Close closes the handle if one was established and stops further dialing.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.handle == nil {
		return nil
	}
	return d.handle.Close()
}

func (d *Dialer) current(op, topic string) (*Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.handle != nil:
		return d.handle, nil
	case d.closed:
		return nil, &Error{Op: op, Driver: d.cfg.Driver, Topic: topic, Err: ErrClosed}
	default:
		return nil, &Error{Op: op, Driver: d.cfg.Driver, Topic: topic, Err: errors.Join(ErrNotConnected, d.lastErr)}
	}
}
