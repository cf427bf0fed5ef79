package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/dmitrymomot/replicast/pkg/logger"
)

// Message is a single outbound notification.
type Message struct {
	Body       string
	Attributes map[string]string

	// GroupID and DeduplicationID are honoured by transports with ordered
	// delivery (SNS FIFO topics) and ignored elsewhere.
	GroupID         string
	DeduplicationID string
}

// Ack is the transport acknowledgement of a publish.
type Ack struct {
	MessageID string
	// Receivers is the number of subscribers that got the message, or -1 when
	// the transport does not report it (SNS).
	Receivers int64
}

// Publisher is the driver contract. Drivers are not required to be safe for
// concurrent use; Handle serialises every call.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) (Ack, error)
	Close() error
}

// Subscription delivers messages published to a topic.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Subscribable is implemented by drivers that can also receive.
type Subscribable interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Handle is the process-wide handle to the notification channel. It owns one
// driver connection and lets exactly one publish use it at a time; callers
// queue for the slot in arrival order and may give up via their context.
type Handle struct {
	pub    Publisher
	driver string
	topic  string
	log    *slog.Logger

	slot      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// NewHandle wraps an already connected publisher. Most callers use Connect.
func NewHandle(pub Publisher, driver, topic string, log *slog.Logger) *Handle {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handle{
		pub:    pub,
		driver: driver,
		topic:  strings.TrimSpace(topic),
		log:    log,
		slot:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Topic returns the default topic.
func (h *Handle) Topic() string { return h.topic }

// Driver returns the transport name.
func (h *Handle) Driver() string { return h.driver }

// Publish sends msg to topic (the default topic when empty). The message is
// handed to the driver while holding the handle's slot, so bytes from two
// publishes never interleave. Failures are returned as *Error and are never
// retried here.
func (h *Handle) Publish(ctx context.Context, topic string, msg Message) (Ack, error) {
	if topic = strings.TrimSpace(topic); topic == "" {
		topic = h.topic
	}
	if topic == "" {
		return Ack{}, &Error{Op: "publish", Driver: h.driver, Err: errors.Join(ErrInvalidConfig, errors.New("no topic"))}
	}

	if err := h.acquire(ctx); err != nil {
		return Ack{}, &Error{Op: "acquire", Driver: h.driver, Topic: topic, Err: err}
	}
	defer h.release()

	ack, err := h.pub.Publish(ctx, topic, msg)
	if err != nil {
		return Ack{}, wrapError("publish", h.driver, topic, err)
	}
	return ack, nil
}

// Subscribe opens a subscription if the driver supports receiving.
func (h *Handle) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if topic = strings.TrimSpace(topic); topic == "" {
		topic = h.topic
	}
	if h.isClosed() {
		return nil, &Error{Op: "subscribe", Driver: h.driver, Topic: topic, Err: ErrClosed}
	}
	sub, ok := h.pub.(Subscribable)
	if !ok {
		return nil, &Error{Op: "subscribe", Driver: h.driver, Topic: topic, Err: ErrSubscribeUnsupported}
	}
	s, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, wrapError("subscribe", h.driver, topic, err)
	}
	return s, nil
}

// Healthcheck returns a closure for readiness probes.
func (h *Handle) Healthcheck() func(context.Context) error {
	return func(ctx context.Context) error {
		if h.isClosed() {
			return errors.Join(ErrHealthcheckFailed, ErrClosed)
		}
		p, ok := h.pub.(pinger)
		if !ok {
			return nil
		}
		if err := p.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

// Close releases the driver. In-flight publishes finish first; later ones
// fail with ErrClosed. Safe to call more than once.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.closed)
		// Wait for the in-flight publish, if any.
		h.slot <- struct{}{}
		err = h.pub.Close()
		<-h.slot
		if err != nil {
			h.log.Error("failed to close notification channel",
				logger.Component("channel"),
				slog.String("driver", h.driver),
				logger.Error(err),
			)
		}
	})
	return err
}

func (h *Handle) acquire(ctx context.Context) error {
	if h.isClosed() {
		return ErrClosed
	}
	select {
	case h.slot <- struct{}{}:
	case <-h.closed:
		return ErrClosed
	case <-ctx.Done():
		return contextError(ctx.Err())
	}
	// Close may have won the race while we were queued.
	if h.isClosed() {
		<-h.slot
		return ErrClosed
	}
	return nil
}

func (h *Handle) release() {
	<-h.slot
}

func (h *Handle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return errors.Join(ErrCanceled, err)
}
