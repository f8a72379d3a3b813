package v1

import (
	"encoding/json"
	"time"
)

// Event types emitted by the ledger.
const (
	EventVerificationSucceeded = "payment.verification.succeeded"
	EventVerificationFailed    = "payment.verification.failed"
	EventSettlementSucceeded   = "payment.settlement.succeeded"
	EventSettlementFailed      = "payment.settlement.failed"
)

// Event sources, one per ledger operation.
const (
	SourceVerify    = "facilitator/payment/verify"
	SourceSettle    = "facilitator/payment/settle"
	SourceReconcile = "facilitator/payment/reconcile"
)

const CloudEventsSpecVersion = "1.0"

// CloudEvent is an immutable record in the event log.
// DataJSON holds the full CloudEvents envelope as it was appended.
type CloudEvent struct {
	// Seq is the log's BIGSERIAL id. It breaks ties between equal CreatedAt values.
	Seq int64 `json:"-"`

	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	EventSource    string          `json:"event_source"`
	EventTime      time.Time       `json:"event_time"`
	DataJSON       json.RawMessage `json:"data"`
	PaymentStackID string          `json:"payment_stack_id"`
	IsSandbox      bool            `json:"is_sandbox"`

	// CreatedAt is the ledger insertion time and the primary ordering key.
	CreatedAt time.Time `json:"created_at"`
}

// Envelope is the CloudEvents v1.0 JSON structure stored in DataJSON.
type Envelope struct {
	SpecVersion     string           `json:"specversion"`
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	Source          string           `json:"source"`
	Time            time.Time        `json:"time"`
	DataContentType string           `json:"datacontenttype"`
	Data            PaymentEventData `json:"data"`
}

// PaymentEventData is the payload of every payment event.
type PaymentEventData struct {
	TransactionID        string `json:"transaction_id,omitempty"`
	PaymentHash          string `json:"payment_hash"`
	Status               Status `json:"status"`
	PaymentStackID       string `json:"payment_stack_id"`
	IsSandbox            bool   `json:"is_sandbox"`
	Payer                string `json:"payer,omitempty"`
	Amount               string `json:"amount,omitempty"`
	Currency             string `json:"currency,omitempty"`
	Network              string `json:"network,omitempty"`
	ProductID            string `json:"product_id,omitempty"`
	Reason               string `json:"reason,omitempty"`
	TransactionSignature string `json:"transaction_signature,omitempty"`
}

// EventStream is a named consumer's position in one scope's event log.
type EventStream struct {
	StreamID       string     `json:"stream_id"`
	PaymentStackID string     `json:"payment_stack_id"`
	IsSandbox      bool       `json:"is_sandbox"`
	LastEventID    string     `json:"last_event_id,omitempty"`
	LastEventTime  *time.Time `json:"last_event_time,omitempty"`

	// LastEventSeq is the Seq of the high-water mark; zero means the beginning of the log.
	LastEventSeq int64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scope returns the scope the stream reads from.
func (s *EventStream) Scope() Scope {
	return Scope{PaymentStackID: s.PaymentStackID, IsSandbox: s.IsSandbox}
}

// Customer is a payer address known to the ledger.
type Customer struct {
	ID        int64     `json:"id"`
	Address   string    `json:"address"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
