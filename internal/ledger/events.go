package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReasonStalePending is recorded on pending rows failed by reconciliation.
const ReasonStalePending = "stale_pending"

// knownAssets maps token addresses to currency symbols.
var knownAssets = map[string]string{
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "USDC",
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "USDT",
	"So11111111111111111111111111111111111111112":  "SOL",
	"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913":   "USDC", // base
	"0x036cbd53842c5426634e7929541ec2318f3dcf7e":   "USDC", // base-sepolia
}

// currencyOf prefers an explicit extra.currency over the asset lookup.
func currencyOf(req *v1.PaymentRequirements) string {
	if c, ok := req.Extra["currency"].(string); ok && c != "" {
		return strings.ToUpper(c)
	}
	if symbol, ok := knownAssets[req.Asset]; ok {
		return symbol
	}
	if symbol, ok := knownAssets[strings.ToLower(req.Asset)]; ok {
		return symbol
	}
	return req.Asset
}

func productOf(req *v1.PaymentRequirements) string {
	if p, ok := req.Extra["product"].(string); ok && p != "" {
		return p
	}
	return req.Resource
}

// normalizeAmount returns the canonical decimal string of amount, or "" when absent.
func normalizeAmount(amount string) (string, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return "", nil
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("%w: amount %q: %v", ErrInvalidRequirement, amount, err)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("%w: amount %q is negative", ErrInvalidRequirement, amount)
	}
	return d.String(), nil
}

// eventDetail carries the fields of a transition that are not yet on the row.
type eventDetail struct {
	eventType string
	source    string
	status    v1.Status

	transactionID string
	payer         string
	network       string
	reason        string
	signature     string
}

// newEvent builds the CloudEvent recording a transition of tx.
func newEvent(tx *v1.Transaction, d eventDetail, now time.Time) (*v1.CloudEvent, error) {
	transactionID := tx.TransactionID
	if transactionID == "" {
		transactionID = d.transactionID
	}

	envelope := v1.Envelope{
		SpecVersion:     v1.CloudEventsSpecVersion,
		ID:              uuid.NewString(),
		Type:            d.eventType,
		Source:          d.source,
		Time:            now,
		DataContentType: "application/json",
		Data: v1.PaymentEventData{
			TransactionID:        transactionID,
			PaymentHash:          tx.PaymentHash,
			Status:               d.status,
			PaymentStackID:       tx.PaymentStackID,
			IsSandbox:            tx.IsSandbox,
			Payer:                d.payer,
			Amount:               tx.Amount,
			Currency:             tx.Currency,
			Network:              d.network,
			ProductID:            tx.Product,
			Reason:               d.reason,
			TransactionSignature: d.signature,
		},
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event envelope: %w", err)
	}

	return &v1.CloudEvent{
		EventID:        envelope.ID,
		EventType:      envelope.Type,
		EventSource:    envelope.Source,
		EventTime:      now,
		DataJSON:       data,
		PaymentStackID: tx.PaymentStackID,
		IsSandbox:      tx.IsSandbox,
	}, nil
}
