package sandbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/settlement"
	"github.com/google/uuid"
)

// Backend settles sandbox payments locally: any well-formed payment with a
// payer and an amount is approved, and settlement mints a fake signature.
type Backend struct{}

var _ settlement.Backend = (*Backend)(nil)

func NewBackend() *Backend {
	return &Backend{}
}

// payloadShape covers the two places x402 clients put the payer: a top-level
// field, or the EVM exact-scheme authorization.
type payloadShape struct {
	Payer   string `json:"payer"`
	Payload struct {
		Payer         string `json:"payer"`
		Authorization struct {
			From string `json:"from"`
		} `json:"authorization"`
	} `json:"payload"`
}

func payerOf(raw json.RawMessage) string {
	var p payloadShape
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	switch {
	case p.Payer != "":
		return p.Payer
	case p.Payload.Payer != "":
		return p.Payload.Payer
	default:
		return p.Payload.Authorization.From
	}
}

// check returns the payer, the requirement, and a rejection reason if any.
func check(req *v1.FacilitatorRequest) (string, v1.PaymentRequirements, string) {
	var requirement v1.PaymentRequirements
	if err := json.Unmarshal(req.PaymentRequirements, &requirement); err != nil {
		return "", requirement, "invalid_payment_requirements"
	}
	if strings.TrimSpace(requirement.RequiredAmount()) == "" {
		return "", requirement, "missing_amount"
	}
	payer := payerOf(req.PaymentPayload)
	if payer == "" {
		return "", requirement, "missing_payer"
	}
	return payer, requirement, ""
}

func (b *Backend) Verify(_ context.Context, req *v1.FacilitatorRequest) (*v1.VerifyResponse, error) {
	payer, _, reason := check(req)
	if reason != "" {
		slog.Info("[Sandbox] Verification rejected", "reason", reason)
		return &v1.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}, nil
	}
	return &v1.VerifyResponse{IsValid: true, Payer: payer}, nil
}

func (b *Backend) Settle(_ context.Context, req *v1.FacilitatorRequest) (*v1.SettleResponse, error) {
	payer, requirement, reason := check(req)
	if reason != "" {
		slog.Info("[Sandbox] Settlement rejected", "reason", reason)
		return &v1.SettleResponse{Success: false, ErrorReason: reason, Payer: payer, Network: requirement.Network}, nil
	}
	return &v1.SettleResponse{
		Success:     true,
		Payer:       payer,
		Transaction: "sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Network:     requirement.Network,
	}, nil
}
