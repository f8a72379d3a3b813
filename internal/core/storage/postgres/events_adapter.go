package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
)

// GetEvent resolves an event id within scope.
// An id that exists only in another scope is reported as storage.ErrNotFound.
func (a *Adapter) GetEvent(ctx context.Context, scope v1.Scope, eventID string) (*v1.CloudEvent, error) {
	evt, err := scanEventRow(a.stmtGetEvent.QueryRowContext(ctx,
		eventID,
		scope.PaymentStackID,
		scope.IsSandbox,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return evt, nil
}

// ReadEvents fetches events after q.After in strict (created_at, id) order.
//
// Parameters:
//   - q.After: zero value means "from the beginning"
//   - q.AfterEventTime: optional lower bound on event_time (exclusive)
//   - q.Limit: maximum number of events to return
func (a *Adapter) ReadEvents(ctx context.Context, q storage.EventQuery) ([]*v1.CloudEvent, error) {
	rows, err := a.stmtReadEvents.QueryContext(ctx,
		q.Scope.PaymentStackID,
		q.Scope.IsSandbox,
		q.After.CreatedAt,
		q.After.Seq,
		q.AfterEventTime,
		q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEventRows(rows)
}

// ReadLastEvents returns the newest n events of scope, oldest first.
func (a *Adapter) ReadLastEvents(ctx context.Context, scope v1.Scope, n int) ([]*v1.CloudEvent, error) {
	rows, err := a.stmtReadLastEvents.QueryContext(ctx, scope.PaymentStackID, scope.IsSandbox, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query last events: %w", err)
	}
	defer rows.Close()

	return scanEventRows(rows)
}
