package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
)

// InsertPending inserts a pending row or returns the row already holding the
// same (payment_hash, payment_stack_id, is_sandbox).
func (a *Adapter) InsertPending(ctx context.Context, t *v1.Transaction, lease storage.Lease) (*v1.Transaction, bool, error) {
	row, err := scanTransactionRow(a.stmtInsertPending.QueryRowContext(ctx,
		t.PaymentHash,
		t.PaymentStackID,
		t.IsSandbox,
		nullString(t.Product),
		nullString(t.Amount),
		nullString(t.Currency),
		nullJSON(t.PaymentRequirement),
		nullJSON(t.VerifyRequest),
		lease.Token,
		lease.ExpiresAt,
		t.CreatedAt,
	))
	if err == nil {
		slog.Debug("[Postgres] Inserted pending transaction",
			"id", row.ID,
			"payment_hash", row.PaymentHash,
			"scope", row.Scope().String())
		return row, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert pending transaction: %w", err)
	}

	// ON CONFLICT DO NOTHING - requirement already recorded in this scope.
	existing, err := scanTransactionRow(a.stmtGetTransactionByHash.QueryRowContext(ctx,
		t.PaymentHash,
		t.PaymentStackID,
		t.IsSandbox,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing transaction: %w", err)
	}
	return existing, false, nil
}

// ClaimLease takes the lease on a row still in status from.
func (a *Adapter) ClaimLease(ctx context.Context, rowID int64, from v1.Status, lease storage.Lease, now time.Time) (*v1.Transaction, error) {
	row, err := scanTransactionRow(a.stmtClaimLease.QueryRowContext(ctx,
		rowID,
		string(from),
		lease.Token,
		lease.ExpiresAt,
		now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrStaleState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim lease: %w", err)
	}
	return row, nil
}

// ReleaseLease drops the lease if token still holds it. Releasing a lease
// that was already taken over or cleared is a no-op.
func (a *Adapter) ReleaseLease(ctx context.Context, rowID int64, token string) error {
	if _, err := a.stmtReleaseLease.ExecContext(ctx, rowID, token); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// ApplyTransition runs the status compare-and-swap, payer upsert and event
// append in one database transaction. The scope advisory lock is taken first
// so appends in one scope commit in (created_at, id) order.
func (a *Adapter) ApplyTransition(ctx context.Context, tr storage.Transition) (*v1.Transaction, error) {
	if tr.Event == nil {
		return nil, fmt.Errorf("apply transition: event is required")
	}
	if !tr.From.CanTransitionTo(tr.To) {
		return nil, fmt.Errorf("apply transition: %w: %s -> %s", storage.ErrIllegalTransition, tr.From, tr.To)
	}
	scope := v1.Scope{PaymentStackID: tr.Event.PaymentStackID, IsSandbox: tr.Event.IsSandbox}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("apply transition: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, queryLockScope, scopeLockKey(scope)); err != nil {
		return nil, fmt.Errorf("apply transition: lock scope: %w", err)
	}

	var customerID *int64
	if tr.Payer != "" {
		var id int64
		if err := tx.QueryRowContext(ctx, queryUpsertPayer, tr.Payer, tr.Now).Scan(&id); err != nil {
			return nil, fmt.Errorf("apply transition: upsert payer: %w", err)
		}
		customerID = &id
	}

	row, err := scanTransactionRow(tx.QueryRowContext(ctx, queryApplyTransition,
		tr.RowID,
		string(tr.From),
		string(tr.To),
		nullString(tr.TransactionID),
		nullInt64(customerID),
		nullString(tr.Signature),
		nullJSON(tr.VerifyRequest),
		nullJSON(tr.VerifyResponse),
		nullJSON(tr.SettleRequest),
		nullJSON(tr.SettleResponse),
		tr.Now,
		tr.LeaseToken,
	))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("[Postgres] Transition lost compare-and-swap",
			"id", tr.RowID,
			"from", tr.From,
			"to", tr.To)
		return nil, storage.ErrStaleState
	}
	if err != nil {
		return nil, fmt.Errorf("apply transition: update status: %w", err)
	}

	evt := tr.Event
	var seq int64
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, queryAppendEvent,
		evt.EventID,
		evt.EventType,
		evt.EventSource,
		evt.EventTime,
		nullJSON(evt.DataJSON),
		evt.PaymentStackID,
		evt.IsSandbox,
	).Scan(&seq, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrDuplicateEvent
	}
	if err != nil {
		return nil, fmt.Errorf("apply transition: append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("apply transition: commit: %w", err)
	}

	evt.Seq = seq
	evt.CreatedAt = createdAt

	slog.Debug("[Postgres] Applied transition",
		"id", row.ID,
		"from", tr.From,
		"to", row.Status,
		"event_id", evt.EventID,
		"event_seq", seq)
	return row, nil
}

// GetTransaction loads a row by its internal id.
func (a *Adapter) GetTransaction(ctx context.Context, rowID int64) (*v1.Transaction, error) {
	row, err := scanTransactionRow(a.stmtGetTransaction.QueryRowContext(ctx, rowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return row, nil
}

// GetTransactionByID loads a row by transaction id, only within scope.
func (a *Adapter) GetTransactionByID(ctx context.Context, scope v1.Scope, transactionID string) (*v1.Transaction, error) {
	row, err := scanTransactionRow(a.stmtGetTransactionByID.QueryRowContext(ctx,
		transactionID,
		scope.PaymentStackID,
		scope.IsSandbox,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return row, nil
}

// ListTransactions reads one page newest first. One extra row is fetched to
// report whether another page exists.
func (a *Adapter) ListTransactions(ctx context.Context, scope v1.Scope, limit int, startingAfter int64) ([]*v1.Transaction, bool, error) {
	rows, err := a.stmtListTransactions.QueryContext(ctx,
		scope.PaymentStackID,
		scope.IsSandbox,
		startingAfter,
		limit+1,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs, err := scanTransactionRows(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(txs) > limit
	if hasMore {
		txs = txs[:limit]
	}
	return txs, hasMore, nil
}

// ListStalePending returns pending rows older than cutoff whose lease is free or expired.
func (a *Adapter) ListStalePending(ctx context.Context, cutoff, now time.Time, limit int) ([]*v1.Transaction, error) {
	rows, err := a.stmtListStalePending.QueryContext(ctx, cutoff, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactionRows(rows)
}
