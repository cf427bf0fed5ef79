package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dmitrymomot/replicast/pkg/logger"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Connect opens the single connection the gateway owns, retrying with a
// linearly growing pause, and applies migrations when cfg.Migrate is set.
// Every failure is a *FatalError: the caller is expected to stop the process.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*Gateway, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log = log.With(logger.Component("storage"))

	driver, dsn, dialect, err := parseURL(cfg.URL)
	if err != nil {
		return nil, &FatalError{Err: err}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &FatalError{Err: errors.Join(ErrConnect, err)}
	}
	if err := pingWithRetry(ctx, db, cfg, log); err != nil {
		_ = db.Close()
		return nil, &FatalError{Err: errors.Join(ErrConnect, err)}
	}

	if cfg.Migrate {
		if err := migrate(ctx, db, dialect, log); err != nil {
			_ = db.Close()
			return nil, &FatalError{Err: errors.Join(ErrMigrate, err)}
		}
	}

	// One connection for the lifetime of the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, &FatalError{Err: errors.Join(ErrConnect, err)}
	}

	g := &Gateway{
		db:      db,
		conn:    conn,
		driver:  driver,
		dialect: dialect,
		cfg:     cfg,
		log:     log,
	}
	g.healthy.Store(true)

	log.InfoContext(ctx, "storage connected", logger.Driver(driver))
	return g, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB, cfg Config, log *slog.Logger) error {
	attempts := max(cfg.RetryAttempts, 1)

	var lastErr error
	for i := range attempts {
		lastErr = ping(ctx, db, cfg.ConnectTimeout)
		if lastErr == nil {
			return nil
		}
		log.WarnContext(ctx, "database not reachable",
			logger.Attempt(i+1),
			logger.Error(lastErr),
		)
		if i == attempts-1 {
			break
		}

		// attempt n waits n*RetryInterval
		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(time.Duration(i+1) * cfg.RetryInterval):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

func ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return db.PingContext(ctx)
}

// parseURL maps DB_URL onto a database/sql driver, its DSN and SQL dialect.
func parseURL(url string) (driver, dsn, dialect string, err error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "":
		return "", "", "", ErrMissingURL
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", url, DialectPostgres, nil
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if path == "" {
			return "", "", "", fmt.Errorf("%w: empty sqlite path", ErrUnsupportedScheme)
		}
		return "sqlite", path, DialectSQLite, nil
	case strings.HasPrefix(url, "file:"):
		return "sqlite", url, DialectSQLite, nil
	default:
		scheme, _, _ := strings.Cut(url, ":")
		return "", "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}
