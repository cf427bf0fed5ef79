package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dmitrymomot/replicast/pkg/logger"
)

// Querier is the query surface shared by the gateway and a transaction.
// Placeholders are written $1, $2, ... for every driver.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, fn func(*sql.Rows) error, args ...any) error
	QueryRow(ctx context.Context, query string, dest []any, args ...any) error
}

// Tx is a transaction opened by Gateway.WithTx.
type Tx interface {
	Querier
}

type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Gateway is the process-wide handle to the relational store. It owns a
// single dedicated connection and runs one statement (or one transaction) at
// a time. Failures are returned per call as *Error; a broken connection never
// stops the process.
type Gateway struct {
	db      *sql.DB
	conn    *sql.Conn
	driver  string
	dialect string
	cfg     Config
	log     *slog.Logger

	mu      sync.Mutex
	closed  bool
	healthy atomic.Bool
}

// Driver returns the database/sql driver name ("pgx" or "sqlite").
func (g *Gateway) Driver() string { return g.driver }

// Dialect returns the SQL dialect ("postgres" or "sqlite3").
func (g *Gateway) Dialect() string { return g.dialect }

// Exec runs a statement that returns no rows.
func (g *Gateway) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := g.with(ctx, "exec", func(r sqlRunner) error {
		var err error
		res, err = r.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Query runs query and passes the rows to fn. Rows are closed afterwards.
func (g *Gateway) Query(ctx context.Context, query string, fn func(*sql.Rows) error, args ...any) error {
	return g.with(ctx, "query", func(r sqlRunner) error {
		return queryRows(ctx, r, query, fn, args...)
	})
}

// QueryRow scans the first row into dest. No rows is ErrNotFound.
func (g *Gateway) QueryRow(ctx context.Context, query string, dest []any, args ...any) error {
	return g.with(ctx, "query row", func(r sqlRunner) error {
		return r.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

// WithTx runs fn inside a transaction: committed when fn returns nil, rolled
// back otherwise. The gateway stays locked for the whole transaction, so fn
// must use tx and never the gateway itself.
func (g *Gateway) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := g.lock(); err != nil {
		return &Error{Op: "begin", Err: err}
	}
	defer g.mu.Unlock()

	sqlTx, err := g.conn.BeginTx(ctx, nil)
	if err != nil {
		if isConnGone(err) {
			if rerr := g.reacquire(ctx); rerr != nil {
				g.log.WarnContext(ctx, "failed to replace storage connection", logger.Error(rerr))
			}
		}
		return wrapError("begin", err)
	}

	if err := fn(&tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			g.log.ErrorContext(ctx, "failed to roll back transaction", logger.Error(rbErr))
		}
		return wrapError("transaction", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return wrapError("commit", err)
	}
	return nil
}

// Close releases the connection. Later calls fail with ErrClosed.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.healthy.Store(false)

	return errors.Join(g.conn.Close(), g.db.Close())
}

func (g *Gateway) lock() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (g *Gateway) with(ctx context.Context, op string, fn func(sqlRunner) error) error {
	if err := g.lock(); err != nil {
		return &Error{Op: op, Err: err}
	}
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &Error{Op: op, Err: err}
	}

	err := fn(g.conn)
	if isConnGone(err) {
		// The statement is not replayed; the next call gets a fresh connection.
		if rerr := g.reacquire(ctx); rerr != nil {
			g.log.WarnContext(ctx, "failed to replace storage connection", logger.Error(rerr))
		}
	}
	return wrapError(op, err)
}

// reacquire swaps a connection database/sql gave up on for a new one from the
// pool. The caller holds g.mu.
func (g *Gateway) reacquire(ctx context.Context) error {
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return err
	}
	_ = g.conn.Close()
	g.conn = conn
	g.log.InfoContext(ctx, "storage connection replaced")
	return nil
}

func isConnGone(err error) bool {
	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

type tx struct {
	tx *sql.Tx
}

func (t *tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("exec", err)
	}
	return res, nil
}

func (t *tx) Query(ctx context.Context, query string, fn func(*sql.Rows) error, args ...any) error {
	return wrapError("query", queryRows(ctx, t.tx, query, fn, args...))
}

func (t *tx) QueryRow(ctx context.Context, query string, dest []any, args ...any) error {
	return wrapError("query row", t.tx.QueryRowContext(ctx, query, args...).Scan(dest...))
}

func queryRows(ctx context.Context, r sqlRunner, query string, fn func(*sql.Rows) error, args ...any) error {
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	if err := fn(rows); err != nil {
		return err
	}
	return rows.Err()
}

// compile-time interface checks
var (
	_ Querier = (*Gateway)(nil)
	_ Tx      = (*tx)(nil)
)
