// Package sqlexec defines the minimal transactional SQL contract the
// provider consumes. spec.md treats "database driver specifics" as an
// external collaborator — only a transactional SQL executor is consumed —
// so this interface is deliberately shaped like the subset of
// database/sql a provider needs, never a specific driver.
package sqlexec

import (
	"context"
	"database/sql"
)

// Executor runs queries and statements, either directly against a pool or
// within a transaction. *sql.DB and Tx both satisfy it.
type Executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Tx is an Executor scoped to one transaction.
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

// Beginner starts transactions. *sql.DB does not satisfy it directly; wrap
// it with NewDB.
type Beginner interface {
	Executor
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
}

// DB adapts a *sql.DB into a Beginner, since (*sql.DB).BeginTx returns a
// concrete *sql.Tx rather than the Tx interface above.
type DB struct {
	*sql.DB
}

// NewDB wraps db as a Beginner.
func NewDB(db *sql.DB) *DB { return &DB{DB: db} }

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := d.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// WithTransaction runs fn within a new transaction started on b, committing
// on a nil return and rolling back otherwise. Mirrors the provider's single
// transaction per createAcl/deleteAcl/updateAcl call (spec §5).
func WithTransaction(ctx context.Context, b Beginner, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
