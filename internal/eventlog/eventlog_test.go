package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage/memory"
	"github.com/stretchr/testify/require"
)

var (
	acme   = v1.Scope{PaymentStackID: "acme", IsSandbox: true}
	globex = v1.Scope{PaymentStackID: "globex", IsSandbox: true}
)

// seed appends one event per id through the ledger's transition path.
func seed(t *testing.T, store *memory.Store, scope v1.Scope, base time.Time, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for i, id := range ids {
		at := base.Add(time.Duration(i) * time.Second)
		row, _, err := store.InsertPending(ctx, &v1.Transaction{
			PaymentHash:        fmt.Sprintf("%s-%s", scope, id),
			PaymentStackID:     scope.PaymentStackID,
			IsSandbox:          scope.IsSandbox,
			PaymentRequirement: json.RawMessage(`{}`),
			CreatedAt:          at,
		}, storage.Lease{Token: id, ExpiresAt: at.Add(time.Minute)})
		require.NoError(t, err)

		_, err = store.ApplyTransition(ctx, storage.Transition{
			RowID: row.ID, From: v1.StatusPending, To: v1.StatusFailed, LeaseToken: id, Now: at,
			Event: &v1.CloudEvent{
				EventID:        id,
				EventType:      v1.EventVerificationFailed,
				EventSource:    v1.SourceVerify,
				EventTime:      at,
				DataJSON:       json.RawMessage(`{}`),
				PaymentStackID: scope.PaymentStackID,
				IsSandbox:      scope.IsSandbox,
			},
		})
		require.NoError(t, err)
	}
}

func ids(events []*v1.CloudEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventID)
	}
	return out
}

func TestReadSince(t *testing.T) {
	store := memory.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed(t, store, acme, base, "a1", "a2")
	seed(t, store, globex, base, "g1")
	seed(t, store, acme, base.Add(time.Minute), "a3", "a4", "a5")

	log := New(store, 2)
	ctx := context.Background()

	tests := []struct {
		name         string
		afterEventID string
		afterTime    time.Time
		limit        int
		want         []string
		wantErr      error
	}{
		{name: "full replay pages through the scope", want: []string{"a1", "a2", "a3", "a4", "a5"}},
		{name: "after an event id", afterEventID: "a2", want: []string{"a3", "a4", "a5"}},
		{name: "limit stops mid page", limit: 3, want: []string{"a1", "a2", "a3"}},
		{name: "after the last event", afterEventID: "a5", want: []string{}},
		{name: "unknown id falls back to time", afterEventID: "gone", afterTime: base.Add(30 * time.Second), want: []string{"a3", "a4", "a5"}},
		{name: "unknown id without time", afterEventID: "gone", wantErr: ErrCursorNotFound},
		{name: "id from another scope is unknown", afterEventID: "g1", wantErr: ErrCursorNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			events, err := Collect(log.ReadSince(ctx, acme, tc.afterEventID, tc.afterTime, tc.limit))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, ids(events))
		})
	}
}

func TestReadSince_IsRestartableAndOrdered(t *testing.T) {
	store := memory.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed(t, store, acme, base, "a1", "a2", "a3")

	seq := New(store, 1).ReadSince(context.Background(), acme, "", time.Time{}, 0)

	first, err := Collect(seq)
	require.NoError(t, err)
	second, err := Collect(seq)
	require.NoError(t, err)
	require.Equal(t, ids(first), ids(second))

	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		require.False(t, cur.CreatedAt.Before(prev.CreatedAt))
		require.Greater(t, cur.Seq, prev.Seq)
	}
}

func TestReadSince_EarlyBreak(t *testing.T) {
	store := memory.New()
	seed(t, store, acme, time.Now().UTC(), "a1", "a2", "a3")

	var seen []string
	for evt, err := range New(store, 10).ReadSince(context.Background(), acme, "", time.Time{}, 0) {
		require.NoError(t, err)
		seen = append(seen, evt.EventID)
		if len(seen) == 2 {
			break
		}
	}
	require.Equal(t, []string{"a1", "a2"}, seen)
}

func TestReadLast(t *testing.T) {
	store := memory.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed(t, store, acme, base, "a1", "a2", "a3")
	seed(t, store, globex, base, "g1")

	log := New(store, 0)
	ctx := context.Background()

	events, err := log.ReadLast(ctx, acme, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a2", "a3"}, ids(events))

	events, err = log.ReadLast(ctx, acme, 0)
	require.NoError(t, err)
	require.Empty(t, events)

	events, err = log.ReadLast(ctx, v1.Scope{PaymentStackID: "nobody"}, 5)
	require.NoError(t, err)
	require.NotNil(t, events)
	require.Empty(t, events)
}
