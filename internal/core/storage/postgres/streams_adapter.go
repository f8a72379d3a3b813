package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
)

// FindOrCreateStream returns the cursor row, inserting an empty one on first use.
func (a *Adapter) FindOrCreateStream(ctx context.Context, streamID string, scope v1.Scope, now time.Time) (*v1.EventStream, error) {
	if _, err := a.stmtInsertStream.ExecContext(ctx, streamID, scope.PaymentStackID, scope.IsSandbox, now); err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return a.GetStream(ctx, streamID, scope)
}

// GetStream loads the cursor row for (streamID, scope).
func (a *Adapter) GetStream(ctx context.Context, streamID string, scope v1.Scope) (*v1.EventStream, error) {
	s, err := scanStreamRow(a.stmtGetStream.QueryRowContext(ctx, streamID, scope.PaymentStackID, scope.IsSandbox))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	return s, nil
}

// AdvanceStream is a compare-and-swap on last_event_seq. It reports false when
// another poller moved the cursor since prevSeq was read, or when evt would not
// move the cursor forward.
func (a *Adapter) AdvanceStream(
	ctx context.Context,
	streamID string,
	scope v1.Scope,
	prevSeq int64,
	evt *v1.CloudEvent,
	now time.Time,
) (bool, error) {
	result, err := a.stmtAdvanceStream.ExecContext(ctx,
		streamID,
		scope.PaymentStackID,
		scope.IsSandbox,
		evt.EventID,
		evt.EventTime,
		evt.Seq,
		prevSeq,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to advance stream: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check stream advance: %w", err)
	}
	return rowsAffected == 1, nil
}
