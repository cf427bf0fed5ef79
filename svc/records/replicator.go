package records

import (
	"context"

	"github.com/dmitrymomot/replicast/pkg/broadcast"
	"github.com/dmitrymomot/replicast/pkg/operation"
	"github.com/dmitrymomot/replicast/pkg/outbox"
	"github.com/dmitrymomot/replicast/pkg/storage"
)

// Replication is the outcome reported in the X-Replication response header.
type Replication string

const (
	ReplicationSent   Replication = "sent"
	ReplicationFailed Replication = "failed"
	ReplicationQueued Replication = "queued"
)

// Replicator propagates a committed write to sibling replicas. Stage runs
// inside the write's transaction and its error aborts the write; Committed
// runs after commit and cannot undo it.
type Replicator interface {
	Stage(ctx context.Context, tx storage.Tx, op operation.Operation) error
	Committed(ctx context.Context, op operation.Operation) Replication
}

// Direct announces after commit on a best-effort basis. A failed announce is
// logged by the broadcast service and reported as ReplicationFailed.
type Direct struct {
	svc     *broadcast.Service
	retrier *broadcast.Retrier
}

// DirectOption configures a Direct replicator.
type DirectOption func(*Direct)

// WithRetry retries transient transport failures up to maxAttempts announces
// in total before giving up. Values below 2 disable retrying.
func WithRetry(maxAttempts int, backoff broadcast.BackoffStrategy) DirectOption {
	return func(d *Direct) {
		if maxAttempts < 2 {
			return
		}
		d.retrier = &broadcast.Retrier{Service: d.svc, Backoff: backoff, MaxAttempts: maxAttempts}
	}
}

func NewDirect(svc *broadcast.Service, opts ...DirectOption) *Direct {
	d := &Direct{svc: svc}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Direct) Stage(context.Context, storage.Tx, operation.Operation) error { return nil }

func (d *Direct) Committed(ctx context.Context, op operation.Operation) Replication {
	switch {
	case d.svc == nil:
		return ReplicationFailed
	case d.retrier != nil:
		if err := d.retrier.Announce(ctx, op); err != nil {
			return ReplicationFailed
		}
		return ReplicationSent
	case d.svc.AnnounceBestEffort(ctx, op):
		return ReplicationSent
	default:
		return ReplicationFailed
	}
}

// Outbox records the operation in the replication outbox within the write's
// transaction; the outbox dispatcher announces it later.
type Outbox struct {
	store *outbox.Store
	topic string
}

// NewOutbox returns an outbox replicator. An empty topic means the channel
// default.
func NewOutbox(store *outbox.Store, topic string) *Outbox {
	return &Outbox{store: store, topic: topic}
}

func (o *Outbox) Stage(ctx context.Context, tx storage.Tx, op operation.Operation) error {
	_, err := o.store.Enqueue(ctx, tx, o.topic, op)
	return err
}

func (o *Outbox) Committed(context.Context, operation.Operation) Replication {
	return ReplicationQueued
}

var (
	_ Replicator = (*Direct)(nil)
	_ Replicator = (*Outbox)(nil)
)
