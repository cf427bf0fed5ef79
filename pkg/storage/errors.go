package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrStorage is matched by every query failure returned by the gateway.
	ErrStorage = errors.New("storage error")

	ErrNotFound          = errors.New("record not found")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrClosed            = errors.New("storage gateway is closed")
	ErrHealthcheckFailed = errors.New("storage healthcheck failed")

	// Startup failures, always wrapped in *FatalError.
	ErrMissingURL        = errors.New("empty database URL, use DB_URL env var")
	ErrUnsupportedScheme = errors.New("unsupported database URL scheme")
	ErrConnect           = errors.New("failed to connect to database")
	ErrMigrate           = errors.New("failed to apply migrations")
)

// Error is a failed query or transaction. errors.Is matches ErrStorage and
// the cause (ErrNotFound, ErrDuplicateKey or the driver error).
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// FatalError means the gateway could not be brought up at all. The process
// cannot serve without its store and should exit.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal storage error: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var sErr *Error
	if errors.As(err, &sErr) {
		return err
	}
	return &Error{Op: op, Err: classify(err)}
}

// classify maps driver errors onto the package sentinels. Unknown errors are
// returned as is.
func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Join(ErrNotFound, err)
	}
	if errors.Is(err, sql.ErrConnDone) {
		return errors.Join(ErrClosed, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errors.Join(ErrDuplicateKey, err)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return errors.Join(ErrDuplicateKey, err)
		}
	}

	return err
}
