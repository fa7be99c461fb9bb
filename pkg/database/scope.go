package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
// Repositories take one explicitly so the caller decides the transactional scope.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Handle bundles an autocommit Querier with a way to open a transactional scope.
// *DB implements it; services depend on Handle so tests can substitute a fake.
type Handle interface {
	Q() Querier
	WithTx(ctx context.Context, fn func(q Querier) error) error
}

var _ Handle = (*DB)(nil)
