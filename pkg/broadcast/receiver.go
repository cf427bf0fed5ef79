package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/replicast/pkg/channel"
	"github.com/dmitrymomot/replicast/pkg/logger"
	"github.com/dmitrymomot/replicast/pkg/operation"
)

const (
	// DefaultDedupCapacity is the number of recent operation ids a receiver remembers.
	DefaultDedupCapacity = 10_000
	// DefaultResubscribeDelay is the pause before reopening a closed subscription.
	DefaultResubscribeDelay = 500 * time.Millisecond
)

// Subscriber opens subscriptions, normally a *channel.Handle.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (channel.Subscription, error)
}

// Handler applies an operation received from a peer.
type Handler func(ctx context.Context, op operation.Operation) error

// Receiver consumes operations announced by sibling replicas.
type Receiver struct {
	svc     *Service
	sub     Subscriber
	handler Handler
	topic   string
	skipOwn bool
	seen    *seenSet
	log     *slog.Logger

	resubscribeDelay time.Duration
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverTopic sets the topic to subscribe to. Defaults to the handle's topic.
func WithReceiverTopic(topic string) ReceiverOption {
	return func(r *Receiver) { r.topic = topic }
}

// WithDedupCapacity sets how many recent operation ids are remembered.
func WithDedupCapacity(n int) ReceiverOption {
	return func(r *Receiver) { r.seen = newSeenSet(n) }
}

// WithResubscribeDelay sets the pause before reopening a subscription the
// transport closed.
func WithResubscribeDelay(d time.Duration) ReceiverOption {
	return func(r *Receiver) {
		if d > 0 {
			r.resubscribeDelay = d
		}
	}
}

// WithOwnOperations makes the receiver deliver operations announced by this
// replica too. By default they are skipped.
func WithOwnOperations() ReceiverOption {
	return func(r *Receiver) { r.skipOwn = false }
}

// NewReceiver creates a receiver sharing the service's codec, origin and counters.
func (s *Service) NewReceiver(sub Subscriber, handler Handler, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		svc:     s,
		sub:     sub,
		handler: handler,
		skipOwn: true,
		log:     s.log.With(slog.String("role", "receiver")),

		resubscribeDelay: DefaultResubscribeDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.seen == nil {
		r.seen = newSeenSet(DefaultDedupCapacity)
	}
	if r.handler == nil {
		r.handler = LogHandler(r.log)
	}
	return r
}

// Run subscribes and dispatches messages until ctx is done. Undecodable or
// corrupted messages are logged and skipped. A handler error is logged; it
// does not stop the loop. A subscription closed by the transport while ctx is
// live is reopened after the resubscribe delay.
func (r *Receiver) Run(ctx context.Context) error {
	if r.sub == nil {
		return fmt.Errorf("%w: %w", ErrBroadcast, ErrNoHandle)
	}

	sub, err := r.sub.Subscribe(ctx, r.topic)
	if err != nil {
		return err
	}

	r.log.InfoContext(ctx, "receiver started", logger.Topic(r.topic))

	for {
		r.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil
		}

		r.log.WarnContext(ctx, "subscription closed, resubscribing",
			logger.Topic(r.topic),
			logger.Error(ErrSubscriptionClosed),
		)
		if sub, err = r.resubscribe(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Join(ErrSubscriptionClosed, err)
		}
	}
}

// consume returns when ctx is done or the subscription is closed.
func (r *Receiver) consume(ctx context.Context, sub channel.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *Receiver) resubscribe(ctx context.Context) (channel.Subscription, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.resubscribeDelay):
		}

		sub, err := r.sub.Subscribe(ctx, r.topic)
		if err == nil {
			r.log.InfoContext(ctx, "receiver resubscribed", logger.Topic(r.topic))
			return sub, nil
		}
		if errors.Is(err, channel.ErrSubscribeUnsupported) || errors.Is(err, channel.ErrClosed) {
			return nil, err
		}
		r.log.WarnContext(ctx, "resubscribe failed", logger.Topic(r.topic), logger.Error(err))
	}
}

func (r *Receiver) handle(ctx context.Context, msg channel.Message) {
	op, err := r.decode(msg)
	if err != nil {
		r.log.WarnContext(ctx, "dropping undecodable message", logger.Error(err))
		return
	}

	if r.skipOwn && r.svc.origin != "" && op.Origin() == r.svc.origin {
		return
	}

	key := op.ID().String()
	if op.ID() == uuid.Nil {
		key = operation.DigestString([]byte(msg.Body))
	}
	if r.seen.Contains(key) {
		r.svc.stats.duplicates.Add(1)
		r.log.DebugContext(ctx, "dropping duplicate operation",
			logger.Operation(op.Kind()),
			logger.OperationID(op.ID()),
		)
		return
	}

	r.svc.stats.received.Add(1)
	if err := r.handler(ctx, op); err != nil {
		// Not recorded as seen, so a redelivery gets another chance.
		r.log.ErrorContext(ctx, "failed to apply operation",
			logger.Operation(op.Kind()),
			logger.OperationID(op.ID()),
			logger.Error(err),
		)
		return
	}
	r.seen.Add(key)
}

// decode picks the codec from the message attributes when present; redis
// carries no attributes, so the service codec is the fallback.
func (r *Receiver) decode(msg channel.Message) (operation.Operation, error) {
	body := []byte(msg.Body)
	if !operation.VerifyDigest(body, msg.Attributes[AttrDigest]) {
		return operation.Operation{}, errors.Join(operation.ErrMalformed, errors.New("digest mismatch"))
	}

	codec := r.svc.codec
	if name := msg.Attributes[AttrCodec]; name != "" {
		c, err := operation.CodecByName(name)
		if err != nil {
			return operation.Operation{}, err
		}
		codec = c
	}
	return codec.Unmarshal(body)
}

// LogHandler only logs received operations. Applying peer operations to the
// local store is left to the caller.
func LogHandler(log *slog.Logger) Handler {
	return func(ctx context.Context, op operation.Operation) error {
		log.InfoContext(ctx, "operation received",
			logger.Operation(op.Kind()),
			logger.OperationID(op.ID()),
			logger.Replica(op.Origin()),
		)
		return nil
	}
}
