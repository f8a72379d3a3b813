package v1

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a facilitated transaction.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
	StatusSettled  Status = "settled"
)

// CanTransitionTo reports whether s -> next is a legal move.
//
//	pending  -> verified | failed
//	verified -> settled  | failed
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusVerified || next == StatusFailed
	case StatusVerified:
		return next == StatusSettled || next == StatusFailed
	default:
		return false
	}
}

// Scope is the (tenant, environment) pair every ledger row belongs to.
type Scope struct {
	PaymentStackID string `json:"payment_stack_id"`
	IsSandbox      bool   `json:"is_sandbox"`
}

// Validate ensures the scope names a payment stack.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.PaymentStackID) == "" {
		return fmt.Errorf("payment_stack_id is required")
	}
	return nil
}

func (s Scope) String() string {
	if s.IsSandbox {
		return s.PaymentStackID + "/sandbox"
	}
	return s.PaymentStackID + "/live"
}

// Transaction is a facilitated x402 payment tracked from verification to settlement.
type Transaction struct {
	ID            int64  `json:"id"`
	PaymentHash   string `json:"payment_hash"`
	TransactionID string `json:"transaction_id,omitempty"`

	PaymentStackID string `json:"payment_stack_id"`
	IsSandbox      bool   `json:"is_sandbox"`

	Product    string `json:"product,omitempty"`
	CustomerID *int64 `json:"customer_id,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Currency   string `json:"currency,omitempty"`
	Signature  string `json:"signature,omitempty"`

	// Protocol payloads are kept verbatim for audit and replay.
	PaymentRequirement json.RawMessage `json:"x402_payment_requirement"`
	VerifyRequest      json.RawMessage `json:"x402_verify_request,omitempty"`
	VerifyResponse     json.RawMessage `json:"x402_verify_response,omitempty"`
	SettleRequest      json.RawMessage `json:"x402_settle_request,omitempty"`
	SettleResponse     json.RawMessage `json:"x402_settle_response,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// LeaseExpiresAt is set while a verify or settle backend call holds the row.
	LeaseExpiresAt *time.Time `json:"-"`
}

// Scope returns the scope the transaction belongs to.
func (t *Transaction) Scope() Scope {
	return Scope{PaymentStackID: t.PaymentStackID, IsSandbox: t.IsSandbox}
}

// InFlight reports whether a backend call still holds the row's lease at now.
func (t *Transaction) InFlight(now time.Time) bool {
	return t.LeaseExpiresAt != nil && t.LeaseExpiresAt.After(now)
}

// TransactionPage is one page of a newest-first transaction listing.
type TransactionPage struct {
	Data    []*Transaction `json:"data"`
	HasMore bool           `json:"has_more"`
}
