package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/replicast/pkg/channel"
	"github.com/dmitrymomot/replicast/pkg/logger"
	"github.com/dmitrymomot/replicast/pkg/operation"
)

// Message attribute keys set on every announced operation.
const (
	AttrOperation   = "operation"
	AttrOperationID = "operation_id"
	AttrOrigin      = "origin"
	AttrCodec       = "codec"
	AttrDigest      = "digest"
)

// Publisher is the part of *channel.Handle (or *channel.Dialer) the service needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg channel.Message) (channel.Ack, error)
	Topic() string
}

// Stats is a point-in-time snapshot of the service counters.
type Stats struct {
	Announced  uint64
	Failed     uint64
	Retried    uint64
	Received   uint64
	Duplicates uint64
}

type counters struct {
	announced  atomic.Uint64
	failed     atomic.Uint64
	retried    atomic.Uint64
	received   atomic.Uint64
	duplicates atomic.Uint64
}

// Service announces committed operations on the notification channel.
type Service struct {
	pub     Publisher
	codec   operation.Codec
	log     *slog.Logger
	topic   string
	origin  string
	timeout time.Duration
	stats   counters
}

// Option configures a Service.
type Option func(*Service)

// WithCodec sets the wire codec. Defaults to operation.JSON.
func WithCodec(c operation.Codec) Option {
	return func(s *Service) {
		if c != nil {
			s.codec = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTopic overrides the handle's default topic.
func WithTopic(topic string) Option {
	return func(s *Service) { s.topic = topic }
}

// WithOrigin sets the replica id reported for operations that carry none.
func WithOrigin(origin string) Option {
	return func(s *Service) { s.origin = origin }
}

// WithPublishTimeout bounds each publish, including the wait for the handle.
// Expiry is reported as a transport failure.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// New creates a Service publishing through pub, normally a *channel.Handle.
// A nil pub is allowed; every announce then fails with ErrNoHandle.
func New(pub Publisher, opts ...Option) *Service {
	s := &Service{
		pub:   pub,
		codec: operation.JSON,
		log:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("broadcast"))
	return s
}

// Codec returns the wire codec.
func (s *Service) Codec() operation.Codec { return s.codec }

// Origin returns the replica id set with WithOrigin.
func (s *Service) Origin() string { return s.origin }

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	return Stats{
		Announced:  s.stats.announced.Load(),
		Failed:     s.stats.failed.Load(),
		Retried:    s.stats.retried.Load(),
		Received:   s.stats.received.Load(),
		Duplicates: s.stats.duplicates.Load(),
	}
}

// Announce publishes op on the default topic. It is one attempt: a channel
// failure comes back as *Error with KindTransportFailure and is not retried.
// Announces sharing a handle complete one after another.
func (s *Service) Announce(ctx context.Context, op operation.Operation) error {
	return s.AnnounceTo(ctx, "", op)
}

// AnnounceTo is Announce with an explicit topic.
func (s *Service) AnnounceTo(ctx context.Context, topic string, op operation.Operation) error {
	if topic == "" {
		topic = s.topic
	}
	if s.pub == nil {
		s.stats.failed.Add(1)
		return fmt.Errorf("%w: %w", ErrBroadcast, ErrNoHandle)
	}
	if topic == "" {
		topic = s.pub.Topic()
	}

	msg, err := s.Encode(op)
	if err != nil {
		s.stats.failed.Add(1)
		s.log.ErrorContext(ctx, "failed to encode operation",
			logger.Operation(op.Kind()),
			logger.OperationID(op.ID()),
			logger.Error(err),
		)
		return &Error{Kind: KindSerialization, Operation: op.Kind(), OperationID: op.ID().String(), Topic: topic, Err: err}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	ack, err := s.pub.Publish(ctx, topic, msg)
	if errors.Is(err, channel.ErrNotConnected) {
		s.stats.failed.Add(1)
		return fmt.Errorf("%w: %w: %w", ErrBroadcast, ErrNoHandle, err)
	}
	if err != nil {
		s.stats.failed.Add(1)
		s.log.ErrorContext(ctx, "failed to announce operation",
			logger.Operation(op.Kind()),
			logger.OperationID(op.ID()),
			logger.Topic(topic),
			logger.Error(err),
		)
		return &Error{Kind: KindTransportFailure, Operation: op.Kind(), OperationID: op.ID().String(), Topic: topic, Err: err}
	}

	s.stats.announced.Add(1)
	s.log.InfoContext(ctx, "operation announced",
		logger.Operation(op.Kind()),
		logger.OperationID(op.ID()),
		logger.Topic(topic),
		logger.MessageID(ack.MessageID),
		logger.Duration(time.Since(start)),
	)
	return nil
}

// AnnounceBestEffort announces op and only logs a failure. It reports whether
// the operation was sent. Used after a committed write when nothing else will
// pick a failed announce up.
func (s *Service) AnnounceBestEffort(ctx context.Context, op operation.Operation) bool {
	err := s.Announce(ctx, op)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrNoHandle) {
		s.log.WarnContext(ctx, "operation not announced: no channel handle",
			logger.Operation(op.Kind()),
			logger.OperationID(op.ID()),
		)
	}
	return false
}

// Encode serializes op into a channel message carrying the standard attributes.
// An operation without an origin is stamped with the service origin, so the
// body and the origin attribute always agree.
func (s *Service) Encode(op operation.Operation) (channel.Message, error) {
	op = op.InheritOrigin(s.origin)
	body, err := s.codec.Marshal(op)
	if err != nil {
		return channel.Message{}, err
	}

	msg := channel.Message{
		Body: string(body),
		Attributes: map[string]string{
			AttrOperation: op.Kind(),
			AttrOrigin:    op.Origin(),
			AttrCodec:     s.codec.Name(),
			AttrDigest:    operation.DigestString(body),
		},
	}
	if op.ID() != uuid.Nil {
		id := op.ID().String()
		msg.Attributes[AttrOperationID] = id
		msg.DeduplicationID = id
	}
	return msg, nil
}
