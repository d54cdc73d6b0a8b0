package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-qms/meridian/internal/shared"
)

// stubTx implements the two lifecycle methods RunAtomic touches; the
// embedded interface covers the rest of pgx.Tx.
type stubTx struct {
	pgx.Tx
	commitErr   error
	rollbackErr error
	committed   bool
	rolledBack  bool
}

func (t *stubTx) Commit(ctx context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *stubTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return t.rollbackErr
}

type stubBeginner struct {
	tx       *stubTx
	beginErr error
}

func (b *stubBeginner) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	return b.tx, nil
}

type recordedFailure struct {
	operation string
	cause     error
}

type diagRecorder struct {
	failures []recordedFailure
}

func (d *diagRecorder) RecordFailure(ctx context.Context, operation string, cause error) {
	d.failures = append(d.failures, recordedFailure{operation: operation, cause: cause})
}

func TestRunAtomicCommitsOnSuccess(t *testing.T) {
	tx := &stubTx{}
	diag := &diagRecorder{}
	c := NewCoordinator(&stubBeginner{tx: tx}, nil, diag)

	var ran bool
	err := c.RunAtomic(context.Background(), "capa.close", func(q pgx.Tx) error {
		ran = true
		require.Same(t, tx, q)
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.True(t, tx.committed)
	require.False(t, tx.rolledBack)
	require.Empty(t, diag.failures)
}

func TestRunAtomicRollsBackOnUnitFailure(t *testing.T) {
	tx := &stubTx{}
	diag := &diagRecorder{}
	c := NewCoordinator(&stubBeginner{tx: tx}, nil, diag)

	unitErr := errors.New("insert failed")
	err := c.RunAtomic(context.Background(), "capa.close", func(pgx.Tx) error {
		return unitErr
	})
	// The original error comes back untouched; nothing was committed.
	require.ErrorIs(t, err, unitErr)
	require.True(t, tx.rolledBack)
	require.False(t, tx.committed)
	require.Empty(t, diag.failures)
}

func TestRunAtomicAttachesRollbackFailure(t *testing.T) {
	rbErr := errors.New("connection lost")
	tx := &stubTx{rollbackErr: rbErr}
	diag := &diagRecorder{}
	c := NewCoordinator(&stubBeginner{tx: tx}, nil, diag)

	unitErr := errors.New("insert failed")
	err := c.RunAtomic(context.Background(), "capa.close", func(pgx.Tx) error {
		return unitErr
	})
	require.ErrorIs(t, err, unitErr)
	require.Contains(t, err.Error(), "connection lost")
	require.Len(t, diag.failures, 1)
	require.Equal(t, "capa.close", diag.failures[0].operation)
	require.ErrorIs(t, diag.failures[0].cause, rbErr)
}

func TestRunAtomicIgnoresClosedTxOnRollback(t *testing.T) {
	tx := &stubTx{rollbackErr: pgx.ErrTxClosed}
	diag := &diagRecorder{}
	c := NewCoordinator(&stubBeginner{tx: tx}, nil, diag)

	unitErr := errors.New("insert failed")
	err := c.RunAtomic(context.Background(), "capa.close", func(pgx.Tx) error {
		return unitErr
	})
	require.ErrorIs(t, err, unitErr)
	require.Empty(t, diag.failures)
}

func TestRunAtomicWrapsCommitFailure(t *testing.T) {
	commitErr := errors.New("serialization conflict")
	tx := &stubTx{commitErr: commitErr}
	diag := &diagRecorder{}
	c := NewCoordinator(&stubBeginner{tx: tx}, nil, diag)

	err := c.RunAtomic(context.Background(), "capa.close", func(pgx.Tx) error {
		return nil
	})
	require.ErrorIs(t, err, shared.ErrTransactionFailure)
	require.ErrorIs(t, err, commitErr)
	require.Len(t, diag.failures, 1)
	require.Equal(t, "capa.close", diag.failures[0].operation)
}

func TestRunAtomicWrapsBeginFailure(t *testing.T) {
	beginErr := errors.New("pool exhausted")
	c := NewCoordinator(&stubBeginner{beginErr: beginErr}, nil, nil)

	err := c.RunAtomic(context.Background(), "capa.close", func(pgx.Tx) error {
		t.Fatal("unit of work must not run")
		return nil
	})
	require.ErrorIs(t, err, shared.ErrTransactionFailure)
	require.ErrorIs(t, err, beginErr)
}
