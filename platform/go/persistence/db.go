package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Querier is the read/write surface shared by pools, connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is satisfied by *pgxpool.Pool.
type Pool interface {
	txBeginner
	Querier
}

// DB wraps a pool with transaction helpers.
type DB struct {
	pool             Pool
	statementTimeout time.Duration
}

// DBOption customizes a DB.
type DBOption func(*DB)

// WithStatementTimeout applies SET LOCAL statement_timeout to every transaction opened by WithTx.
func WithStatementTimeout(d time.Duration) DBOption {
	return func(db *DB) {
		db.statementTimeout = d
	}
}

// NewDB wraps the pool.
func NewDB(pool Pool, opts ...DBOption) *DB {
	if pool == nil {
		panic("DB requires pool")
	}

	db := &DB{pool: pool}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Querier returns the pool for single-statement work outside a transaction.
func (db *DB) Querier() Querier {
	return db.pool
}

// WithTx executes fn inside a transaction and commits when fn succeeds.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if db.statementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", db.statementTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
