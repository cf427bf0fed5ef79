package apierror

import (
	"context"
	"errors"

	"github.com/dmitrymomot/replicast/pkg/broadcast"
	"github.com/dmitrymomot/replicast/pkg/operation"
	"github.com/dmitrymomot/replicast/pkg/storage"
)

// Classify maps an internal error onto the boundary taxonomy. A nil error
// yields nil. Order matters: a missing channel handle is reported as such
// even though it is also a broadcast error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr

	case errors.Is(err, broadcast.ErrNoHandle):
		return NewDependencyMissing()

	case errors.Is(err, storage.ErrNotFound):
		return NewInvalidOperation(storage.ErrNotFound.Error())
	case errors.Is(err, storage.ErrDuplicateKey):
		return NewInvalidOperation(storage.ErrDuplicateKey.Error())

	// Checked before ErrStorage: a cancelled query is not a database fault.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewRequestFailed(err.Error())

	case errors.Is(err, storage.ErrStorage), storage.IsFatal(err):
		return NewDatabaseError(err.Error())

	case errors.Is(err, broadcast.ErrBroadcast):
		return NewRequestFailed(err.Error())

	case errors.Is(err, operation.ErrInvalidKind),
		errors.Is(err, operation.ErrInvalidPayload),
		errors.Is(err, operation.ErrEmptyPayload),
		errors.Is(err, operation.ErrMalformed):
		return NewInvalidOperation(err.Error())
	}

	return NewInternalServerError(err.Error())
}
