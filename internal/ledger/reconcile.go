package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

// maxReconcileBatches bounds one ReconcileStale call; the rest waits for the next run.
const maxReconcileBatches = 50

// ReconcileStale fails pending transactions created more than olderThan ago
// whose lease is free or expired. These are left behind by a crash between
// insert and verdict. Returns how many rows were failed.
func (l *Ledger) ReconcileStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultPendingStaleness
	}

	now := l.cfg.Now()
	cutoff := now.Add(-olderThan)
	var failed atomic.Int64

	for batch := 0; batch < maxReconcileBatches; batch++ {
		rows, err := l.store.ListStalePending(ctx, cutoff, now, l.cfg.ReconcileBatchSize)
		if err != nil {
			return int(failed.Load()), err
		}
		if len(rows) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(l.cfg.ReconcileWorkers)
		for _, row := range rows {
			g.Go(func() error {
				ok, err := l.failStale(gctx, row)
				if ok {
					failed.Add(1)
				}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return int(failed.Load()), err
		}

		if len(rows) < l.cfg.ReconcileBatchSize {
			break
		}
	}

	if n := failed.Load(); n > 0 {
		slog.Info("[Ledger] Reconciled stale pending transactions",
			"failed", n,
			"cutoff", cutoff)
	}
	return int(failed.Load()), nil
}

// failStale moves one abandoned pending row to failed. A row that was
// re-claimed or resolved in the meantime is skipped.
func (l *Ledger) failStale(ctx context.Context, row *v1.Transaction) (bool, error) {
	now := l.cfg.Now()
	evt, err := newEvent(row, eventDetail{
		eventType: v1.EventVerificationFailed,
		source:    v1.SourceReconcile,
		status:    v1.StatusFailed,
		network:   networkOf(row),
		reason:    ReasonStalePending,
	}, now)
	if err != nil {
		return false, err
	}

	_, err = l.store.ApplyTransition(ctx, storage.Transition{
		RowID: row.ID,
		From:  v1.StatusPending,
		To:    v1.StatusFailed,
		Now:   now,
		Event: evt,
	})
	if errors.Is(err, storage.ErrStaleState) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to reconcile transaction %d: %w", row.ID, err)
	}

	transitionsTotal.WithLabelValues("reconcile", string(v1.StatusFailed)).Inc()
	slog.Warn("[Ledger] Marked stale pending transaction failed",
		"id", row.ID,
		"payment_hash", row.PaymentHash,
		"scope", row.Scope().String(),
		"created_at", row.CreatedAt)
	return true, nil
}
