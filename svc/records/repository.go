package records

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrymomot/replicast/pkg/storage"
)

const selectRecord = `SELECT id, value, version, updated_at FROM records`

// Repository reads and writes the records table. Writes take the querier they
// run on so they can share a transaction with the replication hook.
type Repository struct {
	db  storage.Querier
	now func() time.Time
}

func NewRepository(db storage.Querier) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Get returns the record with id or an error matching storage.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id int64) (Record, error) {
	return getRecord(ctx, r.db, id)
}

// List returns every record ordered by id.
func (r *Repository) List(ctx context.Context) ([]Record, error) {
	list := []Record{}
	err := r.db.Query(ctx, selectRecord+` ORDER BY id`, func(rows *sql.Rows) error {
		for rows.Next() {
			rec, err := scanRecord(rows.Scan)
			if err != nil {
				return err
			}
			list = append(list, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (r *Repository) insert(ctx context.Context, q storage.Querier, id int64, value string) (Record, error) {
	rec := Record{ID: id, Value: value, Version: 1, UpdatedAt: r.stamp()}
	_, err := q.Exec(ctx,
		`INSERT INTO records (id, value, version, updated_at) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Value, rec.Version, rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *Repository) update(ctx context.Context, q storage.Querier, id int64, value string) (Record, error) {
	current, err := getRecord(ctx, q, id)
	if err != nil {
		return Record{}, err
	}

	rec := Record{ID: id, Value: value, Version: current.Version + 1, UpdatedAt: r.stamp()}
	_, err = q.Exec(ctx,
		`UPDATE records SET value = $2, version = $3, updated_at = $4 WHERE id = $1`,
		rec.ID, rec.Value, rec.Version, rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *Repository) delete(ctx context.Context, q storage.Querier, id int64) (Record, error) {
	rec, err := getRecord(ctx, q, id)
	if err != nil {
		return Record{}, err
	}
	if _, err := q.Exec(ctx, `DELETE FROM records WHERE id = $1`, id); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = r.stamp()
	return rec, nil
}

// stamp truncates to milliseconds, the precision stored in updated_at.
func (r *Repository) stamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

func getRecord(ctx context.Context, q storage.Querier, id int64) (Record, error) {
	var (
		rec       Record
		updatedAt int64
	)
	err := q.QueryRow(ctx, selectRecord+` WHERE id = $1`,
		[]any{&rec.ID, &rec.Value, &rec.Version, &updatedAt}, id)
	if err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rec, nil
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var (
		rec       Record
		updatedAt int64
	)
	if err := scan(&rec.ID, &rec.Value, &rec.Version, &updatedAt); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rec, nil
}
