package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrChannel is matched by every error this package returns.
	ErrChannel = errors.New("notification channel error")

	ErrInvalidConfig        = errors.New("invalid channel configuration")
	ErrUnknownDriver        = errors.New("unknown channel driver")
	ErrUnauthorized         = errors.New("channel authorization failed")
	ErrUnreachable          = errors.New("channel endpoint unreachable")
	ErrUnavailable          = errors.New("channel service temporarily unavailable")
	ErrTopicNotFound        = errors.New("channel topic not found")
	ErrPayloadRejected      = errors.New("channel rejected payload")
	ErrTimeout              = errors.New("channel operation timed out")
	ErrCanceled             = errors.New("channel operation canceled")
	ErrClosed               = errors.New("channel handle is closed")
	ErrNotConnected         = errors.New("channel is not connected yet")
	ErrSubscribeUnsupported = errors.New("channel driver does not support subscriptions")
	ErrHealthcheckFailed    = errors.New("channel healthcheck failed")
)

// Error describes a failed connect, publish or subscribe call.
// errors.Is matches ErrChannel as well as the wrapped cause.
type Error struct {
	Op     string // connect, publish, subscribe, acquire
	Driver string
	Topic  string
	Err    error
}

func (e *Error) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("channel %s (%s): %v", e.Op, e.Driver, e.Err)
	}
	return fmt.Sprintf("channel %s to %q (%s): %v", e.Op, e.Topic, e.Driver, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrChannel, e.Err}
}

// IsRetryable reports whether a failed publish may succeed if simply repeated.
// Authorization, configuration and payload problems never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrPayloadRejected),
		errors.Is(err, ErrTopicNotFound),
		errors.Is(err, ErrClosed),
		errors.Is(err, ErrCanceled):
		return false
	case errors.Is(err, ErrUnreachable),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrTimeout):
		return true
	}
	return false
}

func wrapError(op, driver, topic string, err error) error {
	if err == nil {
		return nil
	}
	var chErr *Error
	if errors.As(err, &chErr) {
		return err
	}
	return &Error{Op: op, Driver: driver, Topic: topic, Err: err}
}
