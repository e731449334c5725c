package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxMode configures a repeatable-read unit of work.
type TxMode struct {
	// ReadOnly units never commit; every query sees one snapshot.
	ReadOnly bool
	// LockTimeout bounds row lock waits inside the transaction. Zero keeps the server default.
	LockTimeout time.Duration
}

// WithTx runs fn in a repeatable-read transaction shaped by mode. fn's error rolls back.
func WithTx(ctx context.Context, conn Beginner, mode TxMode, fn func(pgx.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead}
	if mode.ReadOnly {
		opts.AccessMode = pgx.ReadOnly
	}
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if mode.LockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", mode.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", timeout); err != nil {
			return fmt.Errorf("platform/db: lock timeout: %w", err)
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	if mode.ReadOnly {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}
	return nil
}
