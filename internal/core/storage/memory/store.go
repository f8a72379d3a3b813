package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
)

var _ storage.Store = (*Store)(nil)

type hashKey struct {
	hash  string
	scope v1.Scope
}

type streamKey struct {
	streamID string
	scope    v1.Scope
}

type txRecord struct {
	tx         v1.Transaction
	leaseToken string
}

// Store is an in-memory implementation of storage.Store.
// One mutex stands in for the database's row locks and unique constraints;
// useful for testing and local development.
type Store struct {
	mu sync.RWMutex

	nextTxID        int64
	transactions    map[int64]*txRecord
	byHash          map[hashKey]int64
	byTransactionID map[string]int64

	events     []*v1.CloudEvent
	eventIndex map[string]int

	streams map[streamKey]*v1.EventStream

	nextCustomerID    int64
	customers         map[int64]*v1.Customer
	customerByAddress map[string]int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		transactions:      make(map[int64]*txRecord),
		byHash:            make(map[hashKey]int64),
		byTransactionID:   make(map[string]int64),
		eventIndex:        make(map[string]int),
		streams:           make(map[streamKey]*v1.EventStream),
		customers:         make(map[int64]*v1.Customer),
		customerByAddress: make(map[string]int64),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func copyTx(r *txRecord) *v1.Transaction {
	cp := r.tx
	if r.tx.LeaseExpiresAt != nil {
		at := *r.tx.LeaseExpiresAt
		cp.LeaseExpiresAt = &at
	}
	if r.tx.CustomerID != nil {
		id := *r.tx.CustomerID
		cp.CustomerID = &id
	}
	return &cp
}

func leaseFree(r *txRecord, now time.Time) bool {
	return r.tx.LeaseExpiresAt == nil || r.tx.LeaseExpiresAt.Before(now)
}

func (s *Store) InsertPending(_ context.Context, t *v1.Transaction, lease storage.Lease) (*v1.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashKey{hash: t.PaymentHash, scope: t.Scope()}
	if id, ok := s.byHash[key]; ok {
		return copyTx(s.transactions[id]), false, nil
	}

	s.nextTxID++
	rec := &txRecord{tx: *t, leaseToken: lease.Token}
	rec.tx.ID = s.nextTxID
	rec.tx.Status = v1.StatusPending
	rec.tx.TransactionID = ""
	rec.tx.UpdatedAt = t.CreatedAt
	expires := lease.ExpiresAt
	rec.tx.LeaseExpiresAt = &expires

	s.transactions[rec.tx.ID] = rec
	s.byHash[key] = rec.tx.ID
	return copyTx(rec), true, nil
}

func (s *Store) ClaimLease(_ context.Context, rowID int64, from v1.Status, lease storage.Lease, now time.Time) (*v1.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transactions[rowID]
	if !ok || rec.tx.Status != from || !leaseFree(rec, now) {
		return nil, storage.ErrStaleState
	}
	rec.leaseToken = lease.Token
	expires := lease.ExpiresAt
	rec.tx.LeaseExpiresAt = &expires
	rec.tx.UpdatedAt = now
	return copyTx(rec), nil
}

func (s *Store) ReleaseLease(_ context.Context, rowID int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.transactions[rowID]; ok && rec.leaseToken == token {
		rec.leaseToken = ""
		rec.tx.LeaseExpiresAt = nil
	}
	return nil
}

// ApplyTransition validates every precondition before mutating anything, so a
// failed transition leaves no partial state behind.
func (s *Store) ApplyTransition(_ context.Context, tr storage.Transition) (*v1.Transaction, error) {
	if !tr.From.CanTransitionTo(tr.To) {
		return nil, fmt.Errorf("%w: %s -> %s", storage.ErrIllegalTransition, tr.From, tr.To)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transactions[tr.RowID]
	if !ok || rec.tx.Status != tr.From {
		return nil, storage.ErrStaleState
	}
	if rec.leaseToken != tr.LeaseToken && !leaseFree(rec, tr.Now) {
		return nil, storage.ErrStaleState
	}
	if _, dup := s.eventIndex[tr.Event.EventID]; dup {
		return nil, storage.ErrDuplicateEvent
	}

	if tr.Payer != "" {
		c := s.ensureCustomerLocked(tr.Payer, "", tr.Now)
		id := c.ID
		rec.tx.CustomerID = &id
	}

	rec.tx.Status = tr.To
	if rec.tx.TransactionID == "" && tr.TransactionID != "" {
		rec.tx.TransactionID = tr.TransactionID
		s.byTransactionID[tr.TransactionID] = rec.tx.ID
	}
	if tr.Signature != "" {
		rec.tx.Signature = tr.Signature
	}
	if len(tr.VerifyRequest) > 0 {
		rec.tx.VerifyRequest = tr.VerifyRequest
	}
	if len(tr.VerifyResponse) > 0 {
		rec.tx.VerifyResponse = tr.VerifyResponse
	}
	if len(tr.SettleRequest) > 0 {
		rec.tx.SettleRequest = tr.SettleRequest
	}
	if len(tr.SettleResponse) > 0 {
		rec.tx.SettleResponse = tr.SettleResponse
	}
	rec.leaseToken = ""
	rec.tx.LeaseExpiresAt = nil
	rec.tx.UpdatedAt = tr.Now

	evt := *tr.Event
	evt.Seq = int64(len(s.events) + 1)
	evt.CreatedAt = s.nextCreatedAt()
	s.events = append(s.events, &evt)
	s.eventIndex[evt.EventID] = len(s.events) - 1

	tr.Event.Seq = evt.Seq
	tr.Event.CreatedAt = evt.CreatedAt

	return copyTx(rec), nil
}

// nextCreatedAt keeps insertion timestamps non-decreasing, as the advisory
// lock does for the SQL store.
func (s *Store) nextCreatedAt() time.Time {
	now := time.Now().UTC()
	if n := len(s.events); n > 0 && now.Before(s.events[n-1].CreatedAt) {
		return s.events[n-1].CreatedAt
	}
	return now
}

func (s *Store) GetTransaction(_ context.Context, rowID int64) (*v1.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.transactions[rowID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyTx(rec), nil
}

func (s *Store) GetTransactionByID(_ context.Context, scope v1.Scope, transactionID string) (*v1.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTransactionID[transactionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	rec := s.transactions[id]
	if rec.tx.Scope() != scope {
		return nil, storage.ErrNotFound
	}
	return copyTx(rec), nil
}

func (s *Store) ListTransactions(_ context.Context, scope v1.Scope, limit int, startingAfter int64) ([]*v1.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*v1.Transaction
	for _, rec := range s.transactions {
		if rec.tx.Scope() != scope {
			continue
		}
		if startingAfter != 0 && rec.tx.ID >= startingAfter {
			continue
		}
		matched = append(matched, copyTx(rec))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	if len(matched) > limit {
		return matched[:limit], true, nil
	}
	return matched, false, nil
}

func (s *Store) ListStalePending(_ context.Context, cutoff, now time.Time, limit int) ([]*v1.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*v1.Transaction
	for _, rec := range s.transactions {
		if rec.tx.Status == v1.StatusPending && rec.tx.CreatedAt.Before(cutoff) && leaseFree(rec, now) {
			out = append(out, copyTx(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetEvent(_ context.Context, scope v1.Scope, eventID string) (*v1.CloudEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.eventIndex[eventID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	evt := s.events[idx]
	if evt.PaymentStackID != scope.PaymentStackID || evt.IsSandbox != scope.IsSandbox {
		return nil, storage.ErrNotFound
	}
	cp := *evt
	return &cp, nil
}

func after(evt *v1.CloudEvent, p storage.Position) bool {
	if evt.CreatedAt.Equal(p.CreatedAt) {
		return evt.Seq > p.Seq
	}
	return evt.CreatedAt.After(p.CreatedAt)
}

// ReadEvents scans the log in append order, which is (created_at, id) order.
func (s *Store) ReadEvents(_ context.Context, q storage.EventQuery) ([]*v1.CloudEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*v1.CloudEvent
	for _, evt := range s.events {
		if len(out) >= q.Limit {
			break
		}
		if evt.PaymentStackID != q.Scope.PaymentStackID || evt.IsSandbox != q.Scope.IsSandbox {
			continue
		}
		if !after(evt, q.After) || !evt.EventTime.After(q.AfterEventTime) {
			continue
		}
		cp := *evt
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ReadLastEvents(_ context.Context, scope v1.Scope, n int) ([]*v1.CloudEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*v1.CloudEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		evt := s.events[i]
		if evt.PaymentStackID != scope.PaymentStackID || evt.IsSandbox != scope.IsSandbox {
			continue
		}
		cp := *evt
		out = append(out, &cp)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) FindOrCreateStream(_ context.Context, streamID string, scope v1.Scope, now time.Time) (*v1.EventStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{streamID: streamID, scope: scope}
	st, ok := s.streams[key]
	if !ok {
		st = &v1.EventStream{
			StreamID:       streamID,
			PaymentStackID: scope.PaymentStackID,
			IsSandbox:      scope.IsSandbox,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.streams[key] = st
	}
	return copyStream(st), nil
}

func (s *Store) GetStream(_ context.Context, streamID string, scope v1.Scope) (*v1.EventStream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.streams[streamKey{streamID: streamID, scope: scope}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyStream(st), nil
}

func (s *Store) AdvanceStream(_ context.Context, streamID string, scope v1.Scope, prevSeq int64, evt *v1.CloudEvent, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[streamKey{streamID: streamID, scope: scope}]
	if !ok || st.LastEventSeq != prevSeq || evt.Seq <= st.LastEventSeq {
		return false, nil
	}
	st.LastEventID = evt.EventID
	at := evt.EventTime
	st.LastEventTime = &at
	st.LastEventSeq = evt.Seq
	st.UpdatedAt = now
	return true, nil
}

func copyStream(st *v1.EventStream) *v1.EventStream {
	cp := *st
	if st.LastEventTime != nil {
		at := *st.LastEventTime
		cp.LastEventTime = &at
	}
	return &cp
}

func (s *Store) EnsureCustomer(_ context.Context, address, label string, now time.Time) (*v1.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensureCustomerLocked(address, label, now)
	cp := *c
	return &cp, nil
}

func (s *Store) ensureCustomerLocked(address, label string, now time.Time) *v1.Customer {
	if id, ok := s.customerByAddress[address]; ok {
		return s.customers[id]
	}
	s.nextCustomerID++
	c := &v1.Customer{
		ID:        s.nextCustomerID,
		Address:   address,
		Label:     label,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.customers[c.ID] = c
	s.customerByAddress[address] = c.ID
	return c
}

func (s *Store) GetCustomer(_ context.Context, id int64) (*v1.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetCustomerByAddress(_ context.Context, address string) (*v1.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.customerByAddress[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.customers[id]
	return &cp, nil
}

func (s *Store) SetCustomerLabel(_ context.Context, address, label string, now time.Time) (*v1.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.customerByAddress[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := s.customers[id]
	c.Label = label
	c.UpdatedAt = now
	cp := *c
	return &cp, nil
}
