package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxManager runs callbacks inside a transaction carried in the context.
//
// Calls nest: a RunInTx inside another RunInTx callback opens a savepoint on
// the outer transaction. An error from the inner callback rolls back to the
// savepoint only, so the outer callback can still record the failure and
// commit. The queue consumer relies on this to undo a row's side effects
// while keeping the row locked for its retry bookkeeping.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// RunInTx executes fn within a transaction (or a savepoint when ctx already
// carries one). Isolation level is Read Committed.
// On error from fn it rolls back and returns the error; on panic it rolls back
// and re-panics.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	var tx pgx.Tx
	if outer, ok := txFromCtx(ctx); ok {
		tx, err = outer.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin savepoint: %w", err)
		}
	} else {
		tx, err = m.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
	}

	// A savepoint may run under a shorter deadline than its transaction.
	// Rolling back must still reach the server once that deadline passes.
	rbCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(rbCtx)
			panic(r)
		}
	}()

	txCtx := withTx(ctx, tx)

	err = fn(txCtx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if rbErr := tx.Rollback(rbCtx); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
