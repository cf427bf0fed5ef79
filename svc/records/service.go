package records

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/replicast/pkg/logger"
	"github.com/dmitrymomot/replicast/pkg/operation"
	"github.com/dmitrymomot/replicast/pkg/storage"
)

// Store is the part of storage.Gateway the service needs.
type Store interface {
	storage.Querier
	WithTx(ctx context.Context, fn func(tx storage.Tx) error) error
}

// Service applies record writes locally and hands every committed write to
// the replicator. A replication failure never rolls a committed write back.
type Service struct {
	db         Store
	repo       *Repository
	replicator Replicator
	origin     string
	log        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithOrigin sets the replica id stamped on announced operations.
func WithOrigin(origin string) Option {
	return func(s *Service) { s.origin = origin }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService builds the records service. A nil replicator keeps writes local.
func NewService(db Store, replicator Replicator, opts ...Option) *Service {
	s := &Service{
		db:         db,
		replicator: replicator,
		log:        logger.Discard(),
	}
	if db != nil {
		s.repo = NewRepository(db)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("records"))
	return s
}

func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	if s.repo == nil {
		return Record{}, ErrNoStore
	}
	if id <= 0 {
		return Record{}, ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Record, error) {
	if s.repo == nil {
		return nil, ErrNoStore
	}
	return s.repo.List(ctx)
}

// Insert creates a record. An existing id fails with storage.ErrDuplicateKey.
func (s *Service) Insert(ctx context.Context, id int64, value string) (Record, Replication, error) {
	if err := validate(id, value); err != nil {
		return Record{}, "", err
	}
	return s.write(ctx, operation.KindInsert, func(tx storage.Tx) (Record, error) {
		return s.repo.insert(ctx, tx, id, value)
	})
}

// Update replaces the value of an existing record and bumps its version.
func (s *Service) Update(ctx context.Context, id int64, value string) (Record, Replication, error) {
	if err := validate(id, value); err != nil {
		return Record{}, "", err
	}
	return s.write(ctx, operation.KindUpdate, func(tx storage.Tx) (Record, error) {
		return s.repo.update(ctx, tx, id, value)
	})
}

// Delete removes a record and returns its last state.
func (s *Service) Delete(ctx context.Context, id int64) (Record, Replication, error) {
	if id <= 0 {
		return Record{}, "", ErrInvalidID
	}
	return s.write(ctx, operation.KindDelete, func(tx storage.Tx) (Record, error) {
		return s.repo.delete(ctx, tx, id)
	})
}

// write commits fn and the staged operation together, then runs the
// post-commit half of the replicator.
func (s *Service) write(ctx context.Context, kind string, fn func(tx storage.Tx) (Record, error)) (Record, Replication, error) {
	if s.repo == nil {
		return Record{}, "", ErrNoStore
	}

	var (
		rec Record
		op  operation.Operation
	)
	err := s.db.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		if rec, err = fn(tx); err != nil {
			return err
		}
		op, err = operation.New(kind, rec,
			operation.WithOrigin(s.origin),
			operation.WithCommittedAt(rec.UpdatedAt),
		)
		if err != nil {
			return err
		}
		if s.replicator == nil {
			return nil
		}
		return s.replicator.Stage(ctx, tx, op)
	})
	if err != nil {
		return Record{}, "", err
	}

	s.log.DebugContext(ctx, "record committed",
		logger.Operation(kind),
		logger.OperationID(op.ID()),
		slog.Int64("record_id", rec.ID),
		slog.Int64("version", rec.Version),
	)

	if s.replicator == nil {
		return rec, ReplicationFailed, nil
	}
	// A client hanging up after commit must not cancel the announce.
	return rec, s.replicator.Committed(context.WithoutCancel(ctx), op), nil
}
