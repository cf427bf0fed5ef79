package apierror

import (
	"fmt"
	"net/http"
)

// Kind is the closed set of failures a request can end with.
type Kind int

const (
	// DependencyMissing: a collaborator the operation needs is not configured.
	// Answered with 200, the request itself was acceptable.
	DependencyMissing Kind = iota + 1
	InvalidOperation
	RequestFailed
	DatabaseError
	InternalServerError
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case DependencyMissing:
		return http.StatusOK
	case InvalidOperation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) String() string {
	switch k {
	case DependencyMissing:
		return "dependency_missing"
	case InvalidOperation:
		return "invalid_operation"
	case RequestFailed:
		return "request_failed"
	case DatabaseError:
		return "database_error"
	case InternalServerError:
		return "internal_server_error"
	default:
		return "unknown"
	}
}

// Error is the boundary error rendered to clients.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	switch e.Kind {
	case DependencyMissing:
		return "Dependency missing for the operation"
	case InvalidOperation:
		return fmt.Sprintf("Invalid operation: %s", e.Detail)
	case RequestFailed:
		return fmt.Sprintf("Failed to process request: %s", e.Detail)
	case DatabaseError:
		return fmt.Sprintf("Database Error %s", e.Detail)
	default:
		return fmt.Sprintf("Server Error %s", e.Detail)
	}
}

// Status returns the HTTP status code of the error.
func (e *Error) Status() int { return e.Kind.Status() }

func NewDependencyMissing() *Error {
	return &Error{Kind: DependencyMissing}
}

func NewInvalidOperation(detail string) *Error {
	return &Error{Kind: InvalidOperation, Detail: detail}
}

func NewRequestFailed(detail string) *Error {
	return &Error{Kind: RequestFailed, Detail: detail}
}

func NewDatabaseError(detail string) *Error {
	return &Error{Kind: DatabaseError, Detail: detail}
}

func NewInternalServerError(detail string) *Error {
	return &Error{Kind: InternalServerError, Detail: detail}
}
