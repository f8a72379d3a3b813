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

const defaultX402Version = 1

// VerifyRequest is one verification attempt. Requirement is the idempotency
// key; Payload is forwarded to the backend but does not affect the hash.
type VerifyRequest struct {
	Scope       v1.Scope
	X402Version int
	Requirement json.RawMessage
	Payload     json.RawMessage
}

// Verify records a payment verification.
//
// A requirement already known in the scope is answered from its row without
// calling the backend. The one exception is a pending row whose lease is free
// (a previous attempt hit ErrBackendUnavailable, or crashed): the caller that
// re-claims it retries the backend call. A caller that finds the lease held
// waits for the holder's verdict and returns it.
//
// A semantic rejection returns the failed transaction together with
// ErrBackendRejected.
func (l *Ledger) Verify(ctx context.Context, req VerifyRequest) (*v1.Transaction, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequirement, err)
	}

	backend, err := l.backendFor(req.Scope)
	if err != nil {
		return nil, err
	}

	hash, err := PaymentHash(req.Requirement)
	if err != nil {
		return nil, err
	}

	var requirement v1.PaymentRequirements
	if err := json.Unmarshal(req.Requirement, &requirement); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequirement, err)
	}
	amount, err := normalizeAmount(requirement.RequiredAmount())
	if err != nil {
		return nil, err
	}

	version := req.X402Version
	if version == 0 {
		version = defaultX402Version
	}
	backendReq := &v1.FacilitatorRequest{
		X402Version:         version,
		PaymentPayload:      req.Payload,
		PaymentRequirements: req.Requirement,
	}
	verifyRequest, err := json.Marshal(backendReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode verify request: %w", err)
	}

	now := l.cfg.Now()
	lease := l.newLease(now)
	row, created, err := l.store.InsertPending(ctx, &v1.Transaction{
		PaymentHash:        hash,
		PaymentStackID:     req.Scope.PaymentStackID,
		IsSandbox:          req.Scope.IsSandbox,
		Product:            productOf(&requirement),
		Amount:             amount,
		Currency:           currencyOf(&requirement),
		PaymentRequirement: req.Requirement,
		VerifyRequest:      verifyRequest,
		CreatedAt:          now,
	}, lease)
	if err != nil {
		return nil, err
	}

	if !created {
		if row.Status != v1.StatusPending {
			replaysTotal.WithLabelValues("verify").Inc()
			slog.Debug("[Ledger] Verify replayed existing transaction",
				"payment_hash", hash,
				"scope", req.Scope.String(),
				"status", row.Status)
			return row, nil
		}

		claimed, err := l.store.ClaimLease(ctx, row.ID, v1.StatusPending, lease, now)
		if errors.Is(err, storage.ErrStaleState) {
			// Another caller is verifying this requirement right now.
			replaysTotal.WithLabelValues("verify").Inc()
			return l.awaitVerification(ctx, row.ID)
		}
		if err != nil {
			return nil, err
		}
		slog.Info("[Ledger] Retrying verification of pending transaction",
			"id", claimed.ID,
			"payment_hash", hash,
			"scope", req.Scope.String())
		row = claimed
	}

	return l.runVerify(ctx, backend, row, lease, backendReq, verifyRequest)
}

// runVerify calls the backend for a row this caller holds the lease on, and
// records the verdict.
func (l *Ledger) runVerify(
	ctx context.Context,
	backend settlement.Backend,
	row *v1.Transaction,
	lease storage.Lease,
	backendReq *v1.FacilitatorRequest,
	verifyRequest json.RawMessage,
) (*v1.Transaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.backendTimeout())
	defer cancel()

	start := time.Now()
	resp, err := backend.Verify(callCtx, backendReq)
	if err != nil {
		backendDuration.WithLabelValues("verify", "unavailable").Observe(time.Since(start).Seconds())
		l.releaseLease(ctx, row.ID, lease.Token)
		slog.Warn("[Ledger] Verification backend unavailable",
			"id", row.ID,
			"scope", row.Scope().String(),
			"error", err)
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	backendDuration.WithLabelValues("verify", "answered").Observe(time.Since(start).Seconds())

	verifyResponse, err := json.Marshal(resp)
	if err != nil {
		l.releaseLease(ctx, row.ID, lease.Token)
		return nil, fmt.Errorf("failed to encode verify response: %w", err)
	}

	now := l.cfg.Now()
	detail := eventDetail{
		source:  v1.SourceVerify,
		payer:   resp.Payer,
		network: networkOf(row),
	}
	tr := storage.Transition{
		RowID:          row.ID,
		From:           v1.StatusPending,
		LeaseToken:     lease.Token,
		Now:            now,
		Payer:          resp.Payer,
		VerifyRequest:  verifyRequest,
		VerifyResponse: verifyResponse,
	}
	if resp.IsValid {
		transactionID, err := newTransactionID()
		if err != nil {
			l.releaseLease(ctx, row.ID, lease.Token)
			return nil, err
		}
		tr.To = v1.StatusVerified
		tr.TransactionID = transactionID
		detail.eventType = v1.EventVerificationSucceeded
		detail.transactionID = transactionID
	} else {
		tr.To = v1.StatusFailed
		detail.eventType = v1.EventVerificationFailed
		detail.reason = resp.InvalidReason
	}
	detail.status = tr.To

	tr.Event, err = newEvent(row, detail, now)
	if err != nil {
		l.releaseLease(ctx, row.ID, lease.Token)
		return nil, err
	}

	// The backend has answered; record the verdict even if the caller went away.
	updated, err := l.store.ApplyTransition(context.WithoutCancel(ctx), tr)
	if errors.Is(err, storage.ErrStaleState) {
		// Our lease expired during the backend call and another caller took over.
		slog.Warn("[Ledger] Verification result superseded", "id", row.ID)
		return l.awaitVerification(ctx, row.ID)
	}
	if err != nil {
		l.releaseLease(ctx, row.ID, lease.Token)
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}

	transitionsTotal.WithLabelValues("verify", string(updated.Status)).Inc()
	slog.Info("[Ledger] Verification recorded",
		"id", updated.ID,
		"transaction_id", updated.TransactionID,
		"scope", updated.Scope().String(),
		"status", updated.Status,
		"event_id", tr.Event.EventID)

	if !resp.IsValid {
		return updated, fmt.Errorf("%w: %s", ErrBackendRejected, resp.InvalidReason)
	}
	return updated, nil
}

// awaitVerification waits for the caller holding the lease on a pending row
// to record its verdict, and returns that verdict as its own.
func (l *Ledger) awaitVerification(ctx context.Context, rowID int64) (*v1.Transaction, error) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		row, err := l.store.GetTransaction(ctx, rowID)
		if err != nil {
			return nil, err
		}

		switch row.Status {
		case v1.StatusVerified, v1.StatusSettled:
			return row, nil
		case v1.StatusFailed:
			return row, fmt.Errorf("%w: %s", ErrBackendRejected, verifyFailureReason(row))
		default:
			if !row.InFlight(l.cfg.Now()) {
				// The other attempt released its lease without a verdict.
				return nil, fmt.Errorf("%w: concurrent verification of %s did not complete", ErrBackendUnavailable, row.PaymentHash)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func verifyFailureReason(row *v1.Transaction) string {
	var resp v1.VerifyResponse
	if len(row.VerifyResponse) > 0 && json.Unmarshal(row.VerifyResponse, &resp) == nil && resp.InvalidReason != "" {
		return resp.InvalidReason
	}
	return "verification failed"
}

// networkOf reads the network back out of the stored requirement.
func networkOf(row *v1.Transaction) string {
	var requirement v1.PaymentRequirements
	if err := json.Unmarshal(row.PaymentRequirement, &requirement); err != nil {
		return ""
	}
	return requirement.Network
}
