package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func pending(hash string, scope v1.Scope, now time.Time) *v1.Transaction {
	return &v1.Transaction{
		PaymentHash:        hash,
		PaymentStackID:     scope.PaymentStackID,
		IsSandbox:          scope.IsSandbox,
		PaymentRequirement: json.RawMessage(`{}`),
		CreatedAt:          now,
	}
}

func event(id string, scope v1.Scope, at time.Time) *v1.CloudEvent {
	return &v1.CloudEvent{
		EventID:        id,
		EventType:      v1.EventVerificationSucceeded,
		EventSource:    v1.SourceVerify,
		EventTime:      at,
		DataJSON:       json.RawMessage(`{}`),
		PaymentStackID: scope.PaymentStackID,
		IsSandbox:      scope.IsSandbox,
	}
}

func TestStore_InsertPendingIsScoped(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	lease := storage.Lease{Token: "l1", ExpiresAt: now.Add(time.Minute)}

	a := v1.Scope{PaymentStackID: "acme", IsSandbox: true}
	b := v1.Scope{PaymentStackID: "acme", IsSandbox: false}

	first, created, err := s.InsertPending(ctx, pending("h1", a, now), lease)
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := s.InsertPending(ctx, pending("h1", a, now), lease)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	other, created, err := s.InsertPending(ctx, pending("h1", b, now), lease)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.ID, other.ID)
}

func TestStore_ApplyTransitionRequiresLeaseAndStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	scope := v1.Scope{PaymentStackID: "acme"}

	row, _, err := s.InsertPending(ctx, pending("h1", scope, now), storage.Lease{Token: "mine", ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)

	_, err = s.ApplyTransition(ctx, storage.Transition{
		RowID: row.ID, From: v1.StatusPending, To: v1.StatusFailed, LeaseToken: "", Now: now,
		Event: event("e0", scope, now),
	})
	require.ErrorIs(t, err, storage.ErrStaleState, "live lease held by someone else")

	done, err := s.ApplyTransition(ctx, storage.Transition{
		RowID: row.ID, From: v1.StatusPending, To: v1.StatusVerified, LeaseToken: "mine", Now: now,
		TransactionID: "txn_1", Payer: "payer-1",
		Event: event("e1", scope, now),
	})
	require.NoError(t, err)
	require.Equal(t, v1.StatusVerified, done.Status)
	require.NotNil(t, done.CustomerID)
	require.Nil(t, done.LeaseExpiresAt)

	_, err = s.ApplyTransition(ctx, storage.Transition{
		RowID: row.ID, From: v1.StatusPending, To: v1.StatusFailed, Now: now,
		Event: event("e2", scope, now),
	})
	require.ErrorIs(t, err, storage.ErrStaleState)

	events, err := s.ReadEvents(ctx, storage.EventQuery{Scope: scope, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1, "failed transitions append nothing")
}

func TestStore_ApplyTransitionRejectsIllegalMove(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	scope := v1.Scope{PaymentStackID: "acme"}

	row, _, err := s.InsertPending(ctx, pending("h1", scope, now), storage.Lease{Token: "mine", ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)

	_, err = s.ApplyTransition(ctx, storage.Transition{
		RowID: row.ID, From: v1.StatusPending, To: v1.StatusSettled, LeaseToken: "mine", Now: now,
		Event: event("e1", scope, now),
	})
	require.ErrorIs(t, err, storage.ErrIllegalTransition)

	got, err := s.GetTransaction(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, v1.StatusPending, got.Status)

	events, err := s.ReadEvents(ctx, storage.EventQuery{Scope: scope, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestStore_DuplicateEventLeavesRowUntouched(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	scope := v1.Scope{PaymentStackID: "acme"}

	r1, _, _ := s.InsertPending(ctx, pending("h1", scope, now), storage.Lease{Token: "a", ExpiresAt: now.Add(time.Minute)})
	r2, _, _ := s.InsertPending(ctx, pending("h2", scope, now), storage.Lease{Token: "b", ExpiresAt: now.Add(time.Minute)})

	_, err := s.ApplyTransition(ctx, storage.Transition{
		RowID: r1.ID, From: v1.StatusPending, To: v1.StatusFailed, LeaseToken: "a", Now: now,
		Event: event("same", scope, now),
	})
	require.NoError(t, err)

	_, err = s.ApplyTransition(ctx, storage.Transition{
		RowID: r2.ID, From: v1.StatusPending, To: v1.StatusFailed, LeaseToken: "b", Now: now,
		Event: event("same", scope, now),
	})
	require.ErrorIs(t, err, storage.ErrDuplicateEvent)

	got, err := s.GetTransaction(ctx, r2.ID)
	require.NoError(t, err)
	require.Equal(t, v1.StatusPending, got.Status)
}

func TestStore_AdvanceStreamIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	scope := v1.Scope{PaymentStackID: "acme"}

	_, err := s.FindOrCreateStream(ctx, "billing", scope, now)
	require.NoError(t, err)

	e5 := &v1.CloudEvent{Seq: 5, EventID: "e5", EventTime: now}
	e3 := &v1.CloudEvent{Seq: 3, EventID: "e3", EventTime: now}

	ok, err := s.AdvanceStream(ctx, "billing", scope, 0, e5, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AdvanceStream(ctx, "billing", scope, 0, e3, now)
	require.NoError(t, err)
	require.False(t, ok, "stale prev mark")

	ok, err = s.AdvanceStream(ctx, "billing", scope, 5, e3, now)
	require.NoError(t, err)
	require.False(t, ok, "backward move")

	st, err := s.GetStream(ctx, "billing", scope)
	require.NoError(t, err)
	require.Equal(t, "e5", st.LastEventID)
	require.Equal(t, int64(5), st.LastEventSeq)
}
