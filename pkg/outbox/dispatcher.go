package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/replicast/pkg/broadcast"
	"github.com/dmitrymomot/replicast/pkg/logger"
	"github.com/dmitrymomot/replicast/pkg/operation"
)

// Announcer publishes a decoded operation. *broadcast.Service implements it.
type Announcer interface {
	AnnounceTo(ctx context.Context, topic string, op operation.Operation) error
}

// Dispatcher drains the outbox: every poll it announces the due entries in
// creation order, one at a time, and reschedules the failed ones.
type Dispatcher struct {
	store     *Store
	announcer Announcer
	backoff   broadcast.BackoffStrategy
	interval  time.Duration
	batchSize int
	log       *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a dispatcher for store.
func NewDispatcher(store *Store, announcer Announcer, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if announcer == nil {
		return nil, ErrAnnouncerNil
	}

	d := &Dispatcher{
		store:     store,
		announcer: announcer,
		backoff: broadcast.ExponentialBackoff{
			InitialInterval: time.Second,
			MaxInterval:     5 * time.Minute,
			Multiplier:      2,
			JitterFactor:    0.1,
		},
		interval:  time.Second,
		batchSize: 50,
		log:       logger.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(logger.Component("outbox"))
	return d, nil
}

// Start begins draining in the background.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.run(ctx, d.done)

	d.log.InfoContext(ctx, "outbox dispatcher started",
		slog.Duration("poll_interval", d.interval),
		slog.Int("batch_size", d.batchSize),
		slog.Int("max_attempts", d.store.MaxAttempts()),
	)
	return nil
}

// Stop cancels the loop and waits for the current drain to return.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return ErrNotStarted
	}
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	cancel()
	<-done

	d.log.Info("outbox dispatcher stopped")
	return nil
}

// Run returns a function suitable for errgroup: it starts the dispatcher and
// stops it when ctx is done.
func (d *Dispatcher) Run(ctx context.Context) func() error {
	return func() error {
		if err := d.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return d.Stop()
	}
}

func (d *Dispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.log.ErrorContext(ctx, "failed to drain outbox", logger.Error(err))
			}
		}
	}
}

// Drain announces every entry due now (up to the batch size) and returns how
// many were published. A failed announce is rescheduled, not returned; the
// error is reserved for the store itself.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	entries, err := d.store.ClaimDue(ctx, d.now(), d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due entries: %w", err)
	}

	published := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		ok, err := d.dispatch(ctx, e)
		if err != nil {
			return published, err
		}
		if ok {
			published++
		}
	}
	return published, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, e Entry) (bool, error) {
	op, err := e.Operation()
	if err != nil {
		// Undecodable bodies never get better.
		d.log.ErrorContext(ctx, "outbox entry is malformed",
			slog.String("entry_id", e.ID),
			logger.Error(err),
		)
		return false, d.store.MarkFailed(ctx, e.ID, d.store.MaxAttempts(), d.now(), err)
	}

	annErr := d.announcer.AnnounceTo(ctx, e.Topic, op)
	if annErr == nil {
		if err := d.store.MarkPublished(ctx, e.ID, d.now()); err != nil {
			return false, fmt.Errorf("mark published: %w", err)
		}
		return true, nil
	}

	// Interrupted by shutdown: leave the entry as it was.
	if ctx.Err() != nil {
		return false, nil
	}

	// Only a transport failure or a missing handle can clear up later.
	attempts := e.Attempts + 1
	if !broadcast.IsTransportFailure(annErr) && !errors.Is(annErr, broadcast.ErrNoHandle) {
		attempts = d.store.MaxAttempts()
	}

	if attempts >= d.store.MaxAttempts() {
		d.log.WarnContext(ctx, "outbox entry exhausted",
			slog.String("entry_id", e.ID),
			logger.Operation(op.Kind()),
			logger.OperationID(op.ID()),
			logger.Attempt(attempts),
			logger.Error(annErr),
		)
		return false, d.store.MarkFailed(ctx, e.ID, attempts, d.now(), annErr)
	}

	next := d.now().Add(d.backoff.NextInterval(attempts))
	d.log.WarnContext(ctx, "outbox entry rescheduled",
		slog.String("entry_id", e.ID),
		logger.Operation(op.Kind()),
		logger.OperationID(op.ID()),
		logger.Attempt(attempts),
		slog.Time("next_attempt_at", next),
		logger.Error(annErr),
	)
	return false, d.store.MarkFailed(ctx, e.ID, attempts, next, annErr)
}
