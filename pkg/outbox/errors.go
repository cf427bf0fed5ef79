package outbox

import "errors"

var (
	// ErrStoreNil is returned when a dispatcher is built without a store.
	ErrStoreNil = errors.New("outbox store cannot be nil")

	// ErrAnnouncerNil is returned when a dispatcher is built without an announcer.
	ErrAnnouncerNil = errors.New("outbox announcer cannot be nil")

	// ErrAlreadyStarted is returned by Start on a running dispatcher.
	ErrAlreadyStarted = errors.New("outbox dispatcher already started")

	// ErrNotStarted is returned by Stop on a dispatcher that is not running.
	ErrNotStarted = errors.New("outbox dispatcher not started")

	// ErrEnqueue wraps failures to persist an entry.
	ErrEnqueue = errors.New("failed to enqueue outbox entry")
)
