package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
	"github.com/aevon-lab/x402-facilitator/internal/settlement"
)

// Settle settles a verified transaction.
//
// A settled transaction is returned as is. Pending and failed transactions
// cannot be settled. Of several concurrent callers exactly one wins the lease
// and calls the backend; the others wait for its outcome and return it.
func (l *Ledger) Settle(ctx context.Context, scope v1.Scope, transactionID string) (*v1.Transaction, error) {
	row, err := l.Get(ctx, scope, transactionID)
	if err != nil {
		return nil, err
	}

	switch row.Status {
	case v1.StatusSettled:
		replaysTotal.WithLabelValues("settle").Inc()
		return row, nil
	case v1.StatusPending, v1.StatusFailed:
		return nil, fmt.Errorf("%w: transaction %s is %s", ErrInvalidState, transactionID, row.Status)
	}

	backend, err := l.backendFor(scope)
	if err != nil {
		return nil, err
	}

	now := l.cfg.Now()
	lease := l.newLease(now)
	claimed, err := l.store.ClaimLease(ctx, row.ID, v1.StatusVerified, lease, now)
	if errors.Is(err, storage.ErrStaleState) {
		return l.awaitSettlement(ctx, row.ID)
	}
	if err != nil {
		return nil, err
	}

	return l.runSettle(ctx, backend, claimed, lease)
}

func (l *Ledger) runSettle(ctx context.Context, backend settlement.Backend, row *v1.Transaction, lease storage.Lease) (*v1.Transaction, error) {
	backendReq := settleRequestFor(row)
	settleRequest, err := json.Marshal(backendReq)
	if err != nil {
		l.releaseLease(ctx, row.ID, lease.Token)
		return nil, fmt.Errorf("failed to encode settle request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, l.backendTimeout())
	defer cancel()

	start := time.Now()
	resp, err := backend.Settle(callCtx, backendReq)
	if err != nil {
		backendDuration.WithLabelValues("settle", "unavailable").Observe(time.Since(start).Seconds())
		l.releaseLease(ctx, row.ID, lease.Token)
		slog.Warn("[Ledger] Settlement backend unavailable",
			"transaction_id", row.TransactionID,
			"scope", row.Scope().String(),
			"error", err)
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	backendDuration.WithLabelValues("settle", "answered").Observe(time.Since(start).Seconds())

	settleResponse, err := json.Marshal(resp)
	if err != nil {
		l.releaseLease(ctx, row.ID, lease.Token)
		return nil, fmt.Errorf("failed to encode settle response: %w", err)
	}

	now := l.cfg.Now()
	network := resp.Network
	if network == "" {
		network = networkOf(row)
	}
	detail := eventDetail{
		source:    v1.SourceSettle,
		payer:     resp.Payer,
		network:   network,
		signature: resp.Transaction,
	}
	tr := storage.Transition{
		RowID:          row.ID,
		From:           v1.StatusVerified,
		LeaseToken:     lease.Token,
		Now:            now,
		Signature:      resp.Transaction,
		SettleRequest:  settleRequest,
		SettleResponse: settleResponse,
	}
	if row.CustomerID == nil {
		tr.Payer = resp.Payer
	}
	if resp.Success {
		tr.To = v1.StatusSettled
		detail.eventType = v1.EventSettlementSucceeded
	} else {
		tr.To = v1.StatusFailed
		detail.eventType = v1.EventSettlementFailed
		detail.reason = resp.ErrorReason
	}
	detail.status = tr.To

	tr.Event, err = newEvent(row, detail, now)
	if err != nil {
		l.releaseLease(ctx, row.ID, lease.Token)
		return nil, err
	}

	updated, err := l.store.ApplyTransition(context.WithoutCancel(ctx), tr)
	if errors.Is(err, storage.ErrStaleState) {
		slog.Warn("[Ledger] Settlement result superseded", "transaction_id", row.TransactionID)
		return l.awaitSettlement(ctx, row.ID)
	}
	if err != nil {
		l.releaseLease(ctx, row.ID, lease.Token)
		return nil, fmt.Errorf("failed to record settlement: %w", err)
	}

	transitionsTotal.WithLabelValues("settle", string(updated.Status)).Inc()
	slog.Info("[Ledger] Settlement recorded",
		"transaction_id", updated.TransactionID,
		"scope", updated.Scope().String(),
		"status", updated.Status,
		"signature", updated.Signature,
		"event_id", tr.Event.EventID)

	if !resp.Success {
		return updated, fmt.Errorf("%w: %s", ErrBackendRejected, resp.ErrorReason)
	}
	return updated, nil
}

// settleRequestFor replays the stored verify request. Rows written without
// one fall back to the bare requirement.
func settleRequestFor(row *v1.Transaction) *v1.FacilitatorRequest {
	var req v1.FacilitatorRequest
	if len(row.VerifyRequest) > 0 && json.Unmarshal(row.VerifyRequest, &req) == nil && len(req.PaymentRequirements) > 0 {
		return &req
	}
	return &v1.FacilitatorRequest{
		X402Version:         defaultX402Version,
		PaymentRequirements: row.PaymentRequirement,
	}
}

// awaitSettlement waits for the caller holding the settle lease to finish and
// returns what it produced.
func (l *Ledger) awaitSettlement(ctx context.Context, rowID int64) (*v1.Transaction, error) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		row, err := l.store.GetTransaction(ctx, rowID)
		if err != nil {
			return nil, err
		}

		switch row.Status {
		case v1.StatusSettled:
			replaysTotal.WithLabelValues("settle").Inc()
			return row, nil
		case v1.StatusFailed:
			return row, fmt.Errorf("%w: %s", ErrBackendRejected, settleFailureReason(row))
		case v1.StatusVerified:
			if !row.InFlight(l.cfg.Now()) {
				// The other attempt released its lease without a verdict.
				return nil, fmt.Errorf("%w: concurrent settlement of %s did not complete", ErrBackendUnavailable, row.TransactionID)
			}
		default:
			return nil, fmt.Errorf("%w: transaction %s is %s", ErrInvalidState, row.TransactionID, row.Status)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func settleFailureReason(row *v1.Transaction) string {
	var resp v1.SettleResponse
	if len(row.SettleResponse) > 0 && json.Unmarshal(row.SettleResponse, &resp) == nil && resp.ErrorReason != "" {
		return resp.ErrorReason
	}
	return "settlement failed"
}
