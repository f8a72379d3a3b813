package sandbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/stretchr/testify/require"
)

func TestBackend_Verify(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		requirement string
		wantValid   bool
		wantReason  string
		wantPayer   string
	}{
		{
			name:        "evm authorization payer",
			payload:     `{"x402Version":1,"payload":{"authorization":{"from":"0xabc"}}}`,
			requirement: `{"scheme":"exact","network":"base-sepolia","maxAmountRequired":"1000"}`,
			wantValid:   true,
			wantPayer:   "0xabc",
		},
		{
			name:        "top-level payer",
			payload:     `{"payer":"So1payer"}`,
			requirement: `{"scheme":"exact","network":"solana","amount":"1000"}`,
			wantValid:   true,
			wantPayer:   "So1payer",
		},
		{
			name:        "missing payer",
			payload:     `{"payload":{}}`,
			requirement: `{"amount":"1000"}`,
			wantReason:  "missing_payer",
		},
		{
			name:        "missing amount",
			payload:     `{"payer":"p"}`,
			requirement: `{"network":"solana"}`,
			wantReason:  "missing_amount",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := NewBackend().Verify(context.Background(), &v1.FacilitatorRequest{
				PaymentPayload:      json.RawMessage(tc.payload),
				PaymentRequirements: json.RawMessage(tc.requirement),
			})
			require.NoError(t, err)
			require.Equal(t, tc.wantValid, resp.IsValid)
			require.Equal(t, tc.wantReason, resp.InvalidReason)
			require.Equal(t, tc.wantPayer, resp.Payer)
		})
	}
}

func TestBackend_SettleMintsSignature(t *testing.T) {
	resp, err := NewBackend().Settle(context.Background(), &v1.FacilitatorRequest{
		PaymentPayload:      json.RawMessage(`{"payer":"p"}`),
		PaymentRequirements: json.RawMessage(`{"network":"solana","amount":"5"}`),
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.True(t, strings.HasPrefix(resp.Transaction, "sandbox_"))
	require.Equal(t, "solana", resp.Network)
}
