// Package postgres implements repository.AccountRepository on PostgreSQL
// through a pgx connection pool.
//
// Identifiers come from the account_id_seq sequence (or an external
// allocator); uniqueness of id and email is enforced by the table's
// constraints, so concurrent service instances need no coordination.
// Failures are wrapped with samber/oops codes; domain errors from
// apperror stay reachable with errors.Is / errors.As.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/sakif/plausch/internal/repository"
)

// Pool is the part of *pgxpool.Pool the store uses. pgxmock's pool
// satisfies it as well.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL account store.
type Store struct {
	pool      Pool
	hasher    repository.PasswordHasher
	allocator repository.SequenceAllocator // nil: use account_id_seq
}

// Option configures optional collaborators of the store.
type Option func(*Store)

// WithAllocator makes Create draw identifiers from an external allocator
// instead of account_id_seq.
func WithAllocator(a repository.SequenceAllocator) Option {
	return func(s *Store) { s.allocator = a }
}

// Connect opens a pgx pool for dsn and verifies it with a ping. The
// schema must already be migrated (see Migrator).
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

// New wraps an open pool.
func New(pool Pool, hasher repository.PasswordHasher, opts ...Option) (*Store, error) {
	if hasher == nil {
		return nil, oops.Code("STORE_INIT_FAILED").Errorf("password hasher is required")
	}
	s := &Store{pool: pool, hasher: hasher}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
