package database

import (
	"context"
	"database/sql"
	"fmt"
)

// TxRunner scopes a unit of work to a single *sql.Tx.  The transaction is
// committed when fn returns nil and rolled back when fn returns an error or
// panics, so partial writes are never observable.
type TxRunner struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewTxRunner returns a TxRunner using the driver's default isolation level.
// Under REPEATABLE READ two claims of the same free seat both take gap
// locks, so the loser fails with a deadlock or lock wait timeout instead
// of a duplicate key; the repository reports both as ErrLockConflict.
func NewTxRunner(db *sql.DB) *TxRunner { return &TxRunner{db: db} }

// DB exposes the underlying pool for read-only queries outside a transaction.
func (r *TxRunner) DB() *sql.DB { return r.db }

// WithTx runs fn inside a transaction.
func (r *TxRunner) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, r.opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		// also runs while a panic unwinds
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	committed = true
	return nil
}
