package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
)

var (
	// ErrNotFound is returned when a lookup matches no row in the requested scope.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEvent is returned when an event with the same event_id already exists.
	ErrDuplicateEvent = errors.New("event already exists")

	// ErrStaleState is returned when a conditional update finds the row no longer
	// in the expected state (status moved on, or the lease is held by someone else).
	ErrStaleState = errors.New("row changed concurrently")

	// ErrIllegalTransition is returned for a status change the lifecycle does not allow.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Transition describes one status change and the event that records it.
// Both are applied in a single database transaction or not at all.
type Transition struct {
	RowID int64
	From  v1.Status
	To    v1.Status

	// LeaseToken must match the token the caller claimed the row with.
	// Empty only succeeds when no live lease is held (reconciliation).
	LeaseToken string
	Now        time.Time

	// Optional column updates; zero values leave the stored value unchanged.
	TransactionID  string
	Payer          string
	Signature      string
	VerifyRequest  json.RawMessage
	VerifyResponse json.RawMessage
	SettleRequest  json.RawMessage
	SettleResponse json.RawMessage

	Event *v1.CloudEvent
}

// Lease identifies a claim on a row while a backend call is outstanding.
type Lease struct {
	Token     string
	ExpiresAt time.Time
}

// TransactionStore persists facilitated transactions.
type TransactionStore interface {
	// InsertPending inserts t as a pending row holding lease. If a row with the same
	// (payment_hash, scope) already exists it is returned with created=false.
	InsertPending(ctx context.Context, t *v1.Transaction, lease Lease) (row *v1.Transaction, created bool, err error)

	// ClaimLease takes the lease on a row in status from if no live lease is held.
	// Returns ErrStaleState when the row is not claimable.
	ClaimLease(ctx context.Context, rowID int64, from v1.Status, lease Lease, now time.Time) (*v1.Transaction, error)

	// ReleaseLease drops the lease if token still holds it.
	ReleaseLease(ctx context.Context, rowID int64, token string) error

	// ApplyTransition performs the compare-and-swap on status, links the payer,
	// and appends the event atomically. Returns ErrStaleState or ErrDuplicateEvent.
	ApplyTransition(ctx context.Context, tr Transition) (*v1.Transaction, error)

	GetTransaction(ctx context.Context, rowID int64) (*v1.Transaction, error)
	GetTransactionByID(ctx context.Context, scope v1.Scope, transactionID string) (*v1.Transaction, error)

	// ListTransactions returns rows newest first. startingAfter is a row id; zero starts at the newest.
	ListTransactions(ctx context.Context, scope v1.Scope, limit int, startingAfter int64) ([]*v1.Transaction, bool, error)

	// ListStalePending returns pending rows created before cutoff with no live lease, across all scopes.
	ListStalePending(ctx context.Context, cutoff, now time.Time, limit int) ([]*v1.Transaction, error)
}

// Position is a point in one scope's event order. The zero value precedes every event.
type Position struct {
	CreatedAt time.Time
	Seq       int64
}

// EventQuery bounds a read of the event log.
type EventQuery struct {
	Scope v1.Scope
	After Position

	// AfterEventTime, when set, additionally requires event_time > AfterEventTime.
	AfterEventTime time.Time

	Limit int
}

// EventStore reads the append-only event log. Appends only happen inside ApplyTransition.
type EventStore interface {
	// GetEvent resolves an event id within scope. Returns ErrNotFound for ids of other scopes.
	GetEvent(ctx context.Context, scope v1.Scope, eventID string) (*v1.CloudEvent, error)

	// ReadEvents returns events after q.After in ascending (created_at, id) order.
	ReadEvents(ctx context.Context, q EventQuery) ([]*v1.CloudEvent, error)

	// ReadLastEvents returns the newest n events of scope in ascending order.
	ReadLastEvents(ctx context.Context, scope v1.Scope, n int) ([]*v1.CloudEvent, error)
}

// StreamStore persists consumer cursors.
type StreamStore interface {
	FindOrCreateStream(ctx context.Context, streamID string, scope v1.Scope, now time.Time) (*v1.EventStream, error)
	GetStream(ctx context.Context, streamID string, scope v1.Scope) (*v1.EventStream, error)

	// AdvanceStream moves the cursor to evt only if the stored mark still equals prevSeq
	// and evt is strictly later. Returns false when the condition does not hold.
	AdvanceStream(ctx context.Context, streamID string, scope v1.Scope, prevSeq int64, evt *v1.CloudEvent, now time.Time) (bool, error)
}

// CustomerStore persists payer addresses.
type CustomerStore interface {
	EnsureCustomer(ctx context.Context, address, label string, now time.Time) (*v1.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*v1.Customer, error)
	GetCustomerByAddress(ctx context.Context, address string) (*v1.Customer, error)
	SetCustomerLabel(ctx context.Context, address, label string, now time.Time) (*v1.Customer, error)
}

// Store is the full ledger persistence surface.
type Store interface {
	TransactionStore
	EventStore
	StreamStore
	CustomerStore

	Ping(ctx context.Context) error
	Close() error
}
