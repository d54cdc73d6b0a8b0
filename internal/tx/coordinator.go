// Package tx is the sole entry point for atomic multi-write business
// operations. A unit of work receives one transactional handle; business
// mutations and their paired audit writes share that scope, so rollback
// removes both or neither.
package tx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-qms/meridian/internal/shared"
)

// DiagnosticRecorder records transaction failures outside the failed scope.
type DiagnosticRecorder interface {
	RecordFailure(ctx context.Context, operation string, cause error)
}

// TxBeginner opens a transaction. Satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Coordinator opens one connection/transaction scope per operation. It holds
// only immutable configuration and is safe for concurrent reuse.
type Coordinator struct {
	pool   TxBeginner
	logger *slog.Logger
	diag   DiagnosticRecorder
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(pool TxBeginner, logger *slog.Logger, diag DiagnosticRecorder) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{pool: pool, logger: logger, diag: diag}
}

// RunAtomic executes fn inside a RepeatableRead transaction and commits on
// success. On failure the transaction is rolled back and the original error
// rethrown; a secondary rollback failure is attached as diagnostic context
// rather than replacing it. No retries: retry policy belongs to the caller.
func (c *Coordinator) RunAtomic(ctx context.Context, operation string, fn func(pgx.Tx) error) error {
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx: begin %s: %w", operation, errors.Join(shared.ErrTransactionFailure, err))
	}

	if err := fn(tx); err != nil {
		// Rollback always runs to completion, even when the caller's
		// context is already cancelled.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if rbErr := tx.Rollback(rbCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			c.recordFailure(rbCtx, operation, rbErr)
			return fmt.Errorf("tx: %s failed: %w (rollback: %v)", operation, err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		c.recordFailure(context.WithoutCancel(ctx), operation, err)
		return fmt.Errorf("tx: commit %s: %w", operation, errors.Join(shared.ErrTransactionFailure, err))
	}

	return nil
}

func (c *Coordinator) recordFailure(ctx context.Context, operation string, cause error) {
	c.logger.Error("transaction failure",
		slog.String("operation", operation),
		slog.Any("error", cause))
	if c.diag != nil {
		c.diag.RecordFailure(ctx, operation, cause)
	}
}
