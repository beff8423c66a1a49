// Package pg implements the credential store gateway on PostgreSQL via pgx.
package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lockhaven/authcore/internal/observability/logger"
	"github.com/lockhaven/authcore/internal/store/core"
)

type Store struct{ pool *pgxpool.Pool }

var _ core.Gateway = (*Store)(nil)

type Tuning struct {
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

func New(ctx context.Context, dsn string, t Tuning) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if t.MaxConns > 0 {
		pcfg.MaxConns = int32(t.MaxConns)
	}
	if t.MinConns > 0 {
		pcfg.MinConns = int32(t.MinConns)
	}
	if t.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = t.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	// Non-blocking startup: the service may come up before the database.
	if err := pool.Ping(ctx); err != nil {
		logger.Named("pg").Warn("startup ping failed", logger.Err(err))
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Pool exposes the underlying pool for migrations and metrics.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// uniqueViolation is the SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// interpret translates driver-level failures into the store-level outcomes
// the providers dispatch on. At minimum a uniqueness violation must be
// distinguishable from every other failure.
func interpret(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return core.ErrConstraint
	}
	return err
}
