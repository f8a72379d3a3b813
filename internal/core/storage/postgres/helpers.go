package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// nullJSON maps an empty payload to SQL NULL rather than an empty string,
// which JSONB would reject.
func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// scanTransactionRow scans transactionColumns into a Transaction.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanTransactionRow(row scanner) (*v1.Transaction, error) {
	var (
		t                                  v1.Transaction
		transactionID, product             sql.NullString
		amount, currency, signature        sql.NullString
		customerID                         sql.NullInt64
		leaseExpiresAt                     sql.NullTime
		requirement, verifyReq, verifyResp []byte
		settleReq, settleResp              []byte
		status                             string
	)

	err := row.Scan(
		&t.ID,
		&t.PaymentHash,
		&transactionID,
		&t.PaymentStackID,
		&t.IsSandbox,
		&product,
		&customerID,
		&amount,
		&currency,
		&signature,
		&requirement,
		&verifyReq,
		&verifyResp,
		&settleReq,
		&settleResp,
		&status,
		&leaseExpiresAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.TransactionID = transactionID.String
	t.Product = product.String
	t.Amount = amount.String
	t.Currency = currency.String
	t.Signature = signature.String
	t.Status = v1.Status(status)
	if customerID.Valid {
		id := customerID.Int64
		t.CustomerID = &id
	}
	if leaseExpiresAt.Valid {
		at := leaseExpiresAt.Time
		t.LeaseExpiresAt = &at
	}
	t.PaymentRequirement = jsonOrNil(requirement)
	t.VerifyRequest = jsonOrNil(verifyReq)
	t.VerifyResponse = jsonOrNil(verifyResp)
	t.SettleRequest = jsonOrNil(settleReq)
	t.SettleResponse = jsonOrNil(settleResp)

	return &t, nil
}

func scanTransactionRows(rows *sql.Rows) ([]*v1.Transaction, error) {
	var out []*v1.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return out, nil
}

// jsonOrNil copies driver-owned bytes so the result outlives the row.
func jsonOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

func scanEventRow(row scanner) (*v1.CloudEvent, error) {
	var evt v1.CloudEvent
	var data []byte

	err := row.Scan(
		&evt.Seq,
		&evt.EventID,
		&evt.EventType,
		&evt.EventSource,
		&evt.EventTime,
		&data,
		&evt.PaymentStackID,
		&evt.IsSandbox,
		&evt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	evt.DataJSON = jsonOrNil(data)
	return &evt, nil
}

func scanEventRows(rows *sql.Rows) ([]*v1.CloudEvent, error) {
	var events []*v1.CloudEvent
	for rows.Next() {
		evt, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

func scanStreamRow(row scanner) (*v1.EventStream, error) {
	var s v1.EventStream
	var lastEventID sql.NullString
	var lastEventTime sql.NullTime

	err := row.Scan(
		&s.StreamID,
		&s.PaymentStackID,
		&s.IsSandbox,
		&lastEventID,
		&lastEventTime,
		&s.LastEventSeq,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.LastEventID = lastEventID.String
	if lastEventTime.Valid {
		at := lastEventTime.Time
		s.LastEventTime = &at
	}
	return &s, nil
}

func scanCustomerRow(row scanner) (*v1.Customer, error) {
	var c v1.Customer
	var label sql.NullString

	if err := row.Scan(&c.ID, &c.Address, &label, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Label = label.String
	return &c, nil
}

// scopeLockKey names the advisory lock serializing event appends for one scope.
func scopeLockKey(scope v1.Scope) string {
	return fmt.Sprintf("cloud_events:%s:%t", scope.PaymentStackID, scope.IsSandbox)
}
