package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories bundles the repositories bound to one connection or transaction.
type Repositories struct {
	Tickets TicketRepository
	Emails  EmailTicketRepository
	Groups  AssignmentGroupRepository
	Users   UserRepository
}

// Store hands out repositories and runs units of work atomically.
type Store interface {
	Repos() Repositories
	// WithinTx runs fn in a transaction; any returned error rolls everything back.
	WithinTx(ctx context.Context, fn func(repos Repositories) error) error
}

type postgresStore struct {
	pool  *pgxpool.Pool
	repos Repositories
}

// NewPostgresStore returns a Store backed by the pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{pool: pool, repos: newRepositories(pool)}
}

func (s *postgresStore) Repos() Repositories {
	return s.repos
}

func (s *postgresStore) WithinTx(ctx context.Context, fn func(repos Repositories) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(newRepositories(tx))
	})
}

func newRepositories(db DBTX) Repositories {
	return Repositories{
		Tickets: NewTicketRepository(db),
		Emails:  NewEmailTicketRepository(db),
		Groups:  NewAssignmentGroupRepository(db),
		Users:   NewUserRepository(db),
	}
}
