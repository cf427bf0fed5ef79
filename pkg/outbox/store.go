package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/replicast/pkg/operation"
	"github.com/dmitrymomot/replicast/pkg/storage"
)

// Entry is one operation waiting to be announced.
type Entry struct {
	ID            string
	Topic         string
	Kind          string
	Body          string
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	PublishedAt   time.Time
	CreatedAt     time.Time
}

// Operation decodes the stored body.
func (e Entry) Operation() (operation.Operation, error) {
	return operation.JSON.Unmarshal([]byte(e.Body))
}

// Store persists outbox entries in the replication_outbox table.
type Store struct {
	db          storage.Querier
	maxAttempts int
	now         func() time.Time
}

// NewStore returns a store over db. Entries that reached maxAttempts are no
// longer due.
func NewStore(db storage.Querier, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Store{db: db, maxAttempts: maxAttempts, now: time.Now}
}

// MaxAttempts returns the attempt limit of the store.
func (s *Store) MaxAttempts() int { return s.maxAttempts }

// Enqueue records op inside tx, so the entry commits or rolls back together
// with the write it describes. An empty topic means the channel default.
func (s *Store) Enqueue(ctx context.Context, tx storage.Tx, topic string, op operation.Operation) (string, error) {
	body, err := operation.JSON.Marshal(op)
	if err != nil {
		return "", errors.Join(ErrEnqueue, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Join(ErrEnqueue, err)
	}

	now := s.now().UnixMilli()
	_, err = tx.Exec(ctx,
		`INSERT INTO replication_outbox (id, topic, kind, body, attempts, last_error, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, $4, 0, '', $5, $6)`,
		id.String(), topic, op.Kind(), string(body), now, now,
	)
	if err != nil {
		return "", errors.Join(ErrEnqueue, err)
	}
	return id.String(), nil
}

// ClaimDue returns up to limit unpublished entries whose next attempt is due
// at now, oldest first. The outbox belongs to a single replica with a single
// dispatcher, so claiming is a plain read.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []Entry
	err := s.db.Query(ctx,
		`SELECT id, topic, kind, body, attempts, last_error, next_attempt_at, created_at
		 FROM replication_outbox
		 WHERE published_at IS NULL AND attempts < $1 AND next_attempt_at <= $2
		 ORDER BY created_at, id
		 LIMIT $3`,
		func(rows *sql.Rows) error {
			for rows.Next() {
				var (
					e                   Entry
					nextAt, createdAtMs int64
				)
				if err := rows.Scan(&e.ID, &e.Topic, &e.Kind, &e.Body, &e.Attempts, &e.LastError, &nextAt, &createdAtMs); err != nil {
					return err
				}
				e.NextAttemptAt = time.UnixMilli(nextAt).UTC()
				e.CreatedAt = time.UnixMilli(createdAtMs).UTC()
				entries = append(entries, e)
			}
			return nil
		},
		s.maxAttempts, now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkPublished records a successful announce.
func (s *Store) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, "mark published",
		`UPDATE replication_outbox SET published_at = $2, last_error = '' WHERE id = $1`,
		id, at.UnixMilli(),
	)
}

// MarkFailed records a failed attempt. The entry is retried at nextAt unless
// attempts reached the limit.
func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, nextAt time.Time, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.update(ctx, "mark failed",
		`UPDATE replication_outbox SET attempts = $2, next_attempt_at = $3, last_error = $4 WHERE id = $1`,
		id, attempts, nextAt.UnixMilli(), msg,
	)
}

// Get returns a single entry.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	var (
		e                   Entry
		nextAt, createdAtMs int64
		publishedAt         sql.NullInt64
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, topic, kind, body, attempts, last_error, next_attempt_at, published_at, created_at
		 FROM replication_outbox WHERE id = $1`,
		[]any{&e.ID, &e.Topic, &e.Kind, &e.Body, &e.Attempts, &e.LastError, &nextAt, &publishedAt, &createdAtMs},
		id,
	)
	if err != nil {
		return Entry{}, err
	}
	e.NextAttemptAt = time.UnixMilli(nextAt).UTC()
	e.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	if publishedAt.Valid {
		e.PublishedAt = time.UnixMilli(publishedAt.Int64).UTC()
	}
	return e, nil
}

// Pending counts entries still waiting to be announced.
func (s *Store) Pending(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM replication_outbox WHERE published_at IS NULL AND attempts < $1`)
}

// Exhausted counts entries that ran out of attempts.
func (s *Store) Exhausted(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM replication_outbox WHERE published_at IS NULL AND attempts >= $1`)
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, query, []any{&n}, s.maxAttempts); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) update(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &storage.Error{Op: op, Err: err}
	}
	if n == 0 {
		return &storage.Error{Op: op, Err: fmt.Errorf("%w: outbox entry %s", storage.ErrNotFound, args[0])}
	}
	return nil
}
