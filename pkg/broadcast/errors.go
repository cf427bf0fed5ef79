package broadcast

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/replicast/pkg/channel"
)

var (
	// ErrBroadcast is matched by every announce failure.
	ErrBroadcast = errors.New("broadcast failed")

	// ErrNoHandle is returned when no channel handle is available, either because
	// the service was built without one or because it is not connected yet.
	ErrNoHandle = errors.New("no notification channel handle configured")

	ErrSubscriptionClosed = errors.New("subscription closed")
)

// Kind classifies an announce failure.
type Kind int

const (
	// KindTransportFailure: the operation was encoded but the channel did not take it.
	KindTransportFailure Kind = iota + 1
	// KindSerialization: the operation could not be encoded. This is a programming
	// or schema error, not a transient condition.
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindTransportFailure:
		return "transport failure"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Error is returned by Announce. errors.Is matches ErrBroadcast and the cause.
type Error struct {
	Kind        Kind
	Operation   string
	OperationID string
	Topic       string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("announce %s %s to %q: %s: %v", e.Operation, e.OperationID, e.Topic, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrBroadcast, e.Err}
}

// IsTransportFailure reports whether err is a broadcast transport failure.
func IsTransportFailure(err error) bool {
	var bErr *Error
	return errors.As(err, &bErr) && bErr.Kind == KindTransportFailure
}

// IsRetryable reports whether repeating the announce may succeed: only
// transport failures with a transient channel cause qualify.
func IsRetryable(err error) bool {
	return IsTransportFailure(err) && channel.IsRetryable(err)
}
