package outbox

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/replicast/pkg/broadcast"
)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets how often the outbox is drained.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(o *Dispatcher) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithBatchSize caps the entries announced per drain.
func WithBatchSize(n int) DispatcherOption {
	return func(o *Dispatcher) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithBackoff sets the delay strategy for failed entries.
func WithBackoff(b broadcast.BackoffStrategy) DispatcherOption {
	return func(o *Dispatcher) {
		if b != nil {
			o.backoff = b
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(o *Dispatcher) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(o *Dispatcher) {
		if now != nil {
			o.now = now
		}
	}
}

// WithConfig applies the env-driven settings.
func WithConfig(cfg Config) DispatcherOption {
	return func(o *Dispatcher) {
		WithPollInterval(cfg.PollInterval)(o)
		WithBatchSize(cfg.BatchSize)(o)
	}
}
