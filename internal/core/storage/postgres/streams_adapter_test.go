package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/stretchr/testify/require"
)

func streamRowColumns() []string {
	return []string{
		"stream_id", "payment_stack_id", "is_sandbox",
		"last_event_id", "last_event_time", "last_event_seq",
		"created_at", "updated_at",
	}
}

func TestAdapter_FindOrCreateStream(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(queryInsertStream)).
		WithArgs("billing", "acme", true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(queryGetStream)).
		WithArgs("billing", "acme", true).
		WillReturnRows(sqlmock.NewRows(streamRowColumns()).
			AddRow("billing", "acme", true, nil, nil, int64(0), now, now))

	s, err := adapter.FindOrCreateStream(context.Background(), "billing", v1.Scope{PaymentStackID: "acme", IsSandbox: true}, now)
	require.NoError(t, err)
	require.Equal(t, "billing", s.StreamID)
	require.Empty(t, s.LastEventID)
	require.Nil(t, s.LastEventTime)
	require.Zero(t, s.LastEventSeq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_AdvanceStream(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := &v1.CloudEvent{Seq: 12, EventID: "evt-12", EventTime: now.Add(-time.Second)}
	scope := v1.Scope{PaymentStackID: "acme", IsSandbox: true}

	tests := []struct {
		name         string
		rowsAffected int64
		want         bool
	}{
		{name: "cursor moved forward", rowsAffected: 1, want: true},
		{name: "stale read does not overwrite", rowsAffected: 0, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			adapter, mock, db := newMockAdapter(t)
			defer db.Close()

			mock.ExpectExec(regexp.QuoteMeta(queryAdvanceStream)).
				WithArgs("billing", "acme", true, "evt-12", evt.EventTime, int64(12), int64(10), now).
				WillReturnResult(sqlmock.NewResult(0, tc.rowsAffected))

			ok, err := adapter.AdvanceStream(context.Background(), "billing", scope, 10, evt, now)
			require.NoError(t, err)
			require.Equal(t, tc.want, ok)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
