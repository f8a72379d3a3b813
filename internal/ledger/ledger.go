package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
	"github.com/aevon-lab/x402-facilitator/internal/settlement"
	"github.com/google/uuid"
	"go.jetify.com/typeid/v2"
)

const (
	DefaultLeaseTTL         = 2 * time.Minute
	DefaultPendingStaleness = 15 * time.Minute

	defaultPollInterval = 100 * time.Millisecond

	// maxBackendMargin caps how long before lease expiry a backend call is cut off.
	maxBackendMargin = 10 * time.Second
	defaultReconcileBatchSize = 100
	defaultReconcileWorkers   = 4

	DefaultListLimit = 10
	MaxListLimit     = 100

	transactionIDPrefix = "txn"
)

// Config wires the ledger to its settlement backends.
type Config struct {
	// Backend serves live scopes, and sandbox scopes when SandboxBackend is nil.
	// A nil Backend leaves live scopes without settlement: their calls fail
	// with ErrBackendUnavailable.
	Backend        settlement.Backend
	SandboxBackend settlement.Backend

	// LeaseTTL bounds how long one caller may hold a row during a backend call.
	// Backend calls are cut off before the lease can lapse.
	LeaseTTL time.Duration

	// PollInterval is how often a caller that lost the verify or settle race
	// re-reads the row while waiting for the winner.
	PollInterval time.Duration

	ReconcileBatchSize int
	ReconcileWorkers   int

	// Now is the clock; defaults to time.Now in UTC.
	Now func() time.Time
}

func (c Config) normalized() Config {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ReconcileBatchSize <= 0 {
		c.ReconcileBatchSize = defaultReconcileBatchSize
	}
	if c.ReconcileWorkers <= 0 {
		c.ReconcileWorkers = defaultReconcileWorkers
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Ledger is the verify/settle state machine. All mutual exclusion between
// concurrent callers is delegated to the store's conditional writes.
type Ledger struct {
	store storage.TransactionStore
	cfg   Config
}

// New creates a ledger over store.
func New(store storage.TransactionStore, cfg Config) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: store is required")
	}
	if cfg.Backend == nil && cfg.SandboxBackend == nil {
		return nil, fmt.Errorf("ledger: settlement backend is required")
	}
	return &Ledger{store: store, cfg: cfg.normalized()}, nil
}

func (l *Ledger) backendFor(scope v1.Scope) (settlement.Backend, error) {
	if scope.IsSandbox && l.cfg.SandboxBackend != nil {
		return l.cfg.SandboxBackend, nil
	}
	if l.cfg.Backend == nil {
		return nil, fmt.Errorf("%w: no settlement backend for %s", ErrBackendUnavailable, scope.String())
	}
	return l.cfg.Backend, nil
}

// Supports reports whether scope has a settlement backend.
func (l *Ledger) Supports(scope v1.Scope) bool {
	_, err := l.backendFor(scope)
	return err == nil
}

// backendTimeout is the deadline for one backend call. It ends before the
// lease does, so no other caller can claim the row while the call runs.
func (l *Ledger) backendTimeout() time.Duration {
	margin := min(l.cfg.LeaseTTL/4, maxBackendMargin)
	return l.cfg.LeaseTTL - margin
}

func (l *Ledger) newLease(now time.Time) storage.Lease {
	return storage.Lease{Token: uuid.NewString(), ExpiresAt: now.Add(l.cfg.LeaseTTL)}
}

func newTransactionID() (string, error) {
	id, err := typeid.Generate(transactionIDPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to generate transaction id: %w", err)
	}
	return id.String(), nil
}

// releaseLease hands the row back after a failed backend call. It outlives
// the caller's context so a cancelled request does not strand the lease.
func (l *Ledger) releaseLease(ctx context.Context, rowID int64, token string) {
	if err := l.store.ReleaseLease(context.WithoutCancel(ctx), rowID, token); err != nil {
		slog.Error("[Ledger] Failed to release lease", "id", rowID, "error", err)
	}
}

// Get returns a transaction by its transaction id within scope.
func (l *Ledger) Get(ctx context.Context, scope v1.Scope, transactionID string) (*v1.Transaction, error) {
	row, err := l.store.GetTransactionByID(ctx, scope, transactionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, transactionID)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ListParams pages a transaction listing.
type ListParams struct {
	Limit int

	// StartingAfter is the row id of the last transaction of the previous page.
	StartingAfter int64
}

// List returns transactions of scope newest first.
func (l *Ledger) List(ctx context.Context, scope v1.Scope, params ListParams) (*v1.TransactionPage, error) {
	limit := params.Limit
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	txs, hasMore, err := l.store.ListTransactions(ctx, scope, limit, params.StartingAfter)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []*v1.Transaction{}
	}
	return &v1.TransactionPage{Data: txs, HasMore: hasMore}, nil
}
