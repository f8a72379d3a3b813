package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaymentHash(t *testing.T) {
	base, err := PaymentHash(json.RawMessage(`{"amount":"10","payTo":"m","extra":{"a":1,"b":2}}`))
	require.NoError(t, err)
	require.Len(t, base, 64)

	tests := []struct {
		name    string
		input   string
		same    bool
		wantErr bool
	}{
		{name: "reordered keys", input: `{"payTo":"m","extra":{"b":2,"a":1},"amount":"10"}`, same: true},
		{name: "extra whitespace", input: "{ \"amount\" : \"10\",\n \"payTo\":\"m\", \"extra\":{\"a\":1,\"b\":2} }", same: true},
		{name: "different value", input: `{"amount":"11","payTo":"m","extra":{"a":1,"b":2}}`},
		{name: "number literal kept verbatim", input: `{"amount":"10","payTo":"m","extra":{"a":1.0,"b":2}}`},
		{name: "array", input: `[1,2]`, wantErr: true},
		{name: "not json", input: `{"amount":`, wantErr: true},
		{name: "trailing data", input: `{"amount":"10"} {}`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PaymentHash(json.RawMessage(tc.input))
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidRequirement)
				return
			}
			require.NoError(t, err)
			if tc.same {
				require.Equal(t, base, got)
			} else {
				require.NotEqual(t, base, got)
			}
		})
	}
}

func TestNormalizeAmount(t *testing.T) {
	got, err := normalizeAmount(" 010000 ")
	require.NoError(t, err)
	require.Equal(t, "10000", got)

	got, err = normalizeAmount("")
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = normalizeAmount("-1")
	require.ErrorIs(t, err, ErrInvalidRequirement)

	_, err = normalizeAmount("ten")
	require.ErrorIs(t, err, ErrInvalidRequirement)
}
