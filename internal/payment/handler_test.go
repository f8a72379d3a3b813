package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	httperr "github.com/aevon-lab/x402-facilitator/internal/core/errors"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage/memory"
	"github.com/aevon-lab/x402-facilitator/internal/customer"
	"github.com/aevon-lab/x402-facilitator/internal/eventlog"
	"github.com/aevon-lab/x402-facilitator/internal/ledger"
	settlementmocks "github.com/aevon-lab/x402-facilitator/internal/mocks/settlement"
	"github.com/aevon-lab/x402-facilitator/internal/sandbox"
	"github.com/aevon-lab/x402-facilitator/internal/settlement"
	"github.com/aevon-lab/x402-facilitator/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNetworks = []string{"solana", "solana-devnet"}

func newRouter(t *testing.T, backend settlement.Backend) *gin.Engine {
	t.Helper()
	return newRouterWithConfig(t, ledger.Config{Backend: backend})
}

func newRouterWithConfig(t *testing.T, cfg ledger.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	l, err := ledger.New(store, cfg)
	require.NoError(t, err)
	log := eventlog.New(store, 0)
	svc := NewService(l, log, stream.NewManager(store, log, 0), customer.NewRegistry(store), testNetworks, 1)

	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func do(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body) //nolint:errcheck
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func verifyPayload(nonce string) map[string]interface{} {
	return map[string]interface{}{
		"x402Version": 1,
		"paymentRequirements": map[string]interface{}{
			"scheme":  "exact",
			"network": "solana",
			"asset":   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			"amount":  "10000",
			"payTo":   "merchant-wallet",
			"extra":   map[string]interface{}{"nonce": nonce, "product": "weather-api"},
		},
		"paymentPayload": map[string]interface{}{"payer": "payer-1"},
	}
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestVerifySettleAndPoll(t *testing.T) {
	r := newRouter(t, sandbox.NewBackend())

	resp := do(r, http.MethodPost, "/v1/acme/verify?sandbox=true", verifyPayload("n1"))
	require.Equal(t, http.StatusOK, resp.Code)
	verified := decode[verifyResult](t, resp)
	require.True(t, verified.IsValid)
	require.Equal(t, "payer-1", verified.Payer)
	require.NotEmpty(t, verified.TransactionID)
	require.Equal(t, "weather-api", verified.Transaction.Product)

	replay := decode[verifyResult](t, do(r, http.MethodPost, "/v1/acme/verify?sandbox=true", verifyPayload("n1")))
	require.Equal(t, verified.TransactionID, replay.TransactionID)

	resp = do(r, http.MethodPost, "/v1/acme/settle?sandbox=true", settleBody{TransactionID: verified.TransactionID})
	require.Equal(t, http.StatusOK, resp.Code)
	settled := decode[settleResult](t, resp)
	require.True(t, settled.Success)
	require.Regexp(t, `^sandbox_`, settled.Signature)
	require.Equal(t, "solana", settled.Network)

	resp = do(r, http.MethodGet, "/v1/acme/events?sandbox=true&stream_id=billing", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	page := decode[eventsPage](t, resp)
	require.Len(t, page.Data, 2)
	require.Equal(t, v1.EventVerificationSucceeded, page.Data[0].EventType)
	require.Equal(t, v1.EventSettlementSucceeded, page.Data[1].EventType)
	require.Equal(t, page.Data[1].EventID, page.Stream.LastEventID)

	page = decode[eventsPage](t, do(r, http.MethodGet, "/v1/acme/events?sandbox=true&stream_id=billing", nil))
	require.Empty(t, page.Data)

	page = decode[eventsPage](t, do(r, http.MethodGet, "/v1/acme/events?sandbox=true&last=1", nil))
	require.Len(t, page.Data, 1)
	require.Equal(t, v1.EventSettlementSucceeded, page.Data[0].EventType)

	cursor := page.Data[0].EventID
	page = decode[eventsPage](t, do(r, http.MethodGet, "/v1/acme/events?sandbox=true&cursor="+cursor, nil))
	require.Empty(t, page.Data)

	// The live environment of the same stack sees nothing.
	page = decode[eventsPage](t, do(r, http.MethodGet, "/v1/acme/events?stream_id=billing", nil))
	require.Empty(t, page.Data)

	resp = do(r, http.MethodGet, "/v1/acme/transactions/"+verified.TransactionID+"?sandbox=true", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	tx := decode[transactionView](t, resp)
	require.Equal(t, v1.StatusSettled, tx.Status)
	require.NotNil(t, tx.Customer)
	require.Equal(t, "payer-1", tx.Customer.Address)

	list := decode[v1.TransactionPage](t, do(r, http.MethodGet, "/v1/acme/transactions?sandbox=true&limit=1", nil))
	require.Len(t, list.Data, 1)
	require.False(t, list.HasMore)
}

func TestVerifyHandler_Rejected(t *testing.T) {
	r := newRouter(t, sandbox.NewBackend())

	body := verifyPayload("n1")
	body["paymentPayload"] = map[string]interface{}{}

	resp := do(r, http.MethodPost, "/v1/acme/verify", body)
	require.Equal(t, http.StatusOK, resp.Code)
	result := decode[verifyResult](t, resp)
	require.False(t, result.IsValid)
	require.Equal(t, "missing_payer", result.InvalidReason)
	require.Equal(t, v1.StatusFailed, result.Transaction.Status)
}

func TestVerifyHandler_BackendUnavailable(t *testing.T) {
	backend := settlementmocks.NewBackend(t)
	backend.EXPECT().Verify(mock.Anything, mock.Anything).
		Return(nil, settlement.ErrUnavailable).Once()
	r := newRouter(t, backend)

	resp := do(r, http.MethodPost, "/v1/acme/verify", verifyPayload("n1"))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	errResp := decode[httperr.ErrorResponse](t, resp)
	require.Equal(t, httperr.HttpBackendUnavailableError, errResp.ErrorType)
}

func TestHandlers_RequestErrors(t *testing.T) {
	r := newRouter(t, sandbox.NewBackend())

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		rawBody    string
		wantStatus int
		wantType   string
	}{
		{name: "malformed json", method: http.MethodPost, path: "/v1/acme/verify", rawBody: "not json", wantStatus: http.StatusBadRequest, wantType: httperr.HttpInvalidJsonError},
		{name: "missing requirement", method: http.MethodPost, path: "/v1/acme/verify", body: map[string]interface{}{"paymentPayload": map[string]string{}}, wantStatus: http.StatusBadRequest, wantType: httperr.HttpInvalidRequirementError},
		{name: "requirement not an object", method: http.MethodPost, path: "/v1/acme/verify", body: map[string]interface{}{"paymentRequirements": []int{1}}, wantStatus: http.StatusBadRequest, wantType: httperr.HttpInvalidRequirementError},
		{name: "bad sandbox flag", method: http.MethodPost, path: "/v1/acme/verify?sandbox=maybe", body: verifyPayload("n1"), wantStatus: http.StatusBadRequest, wantType: httperr.HttpInvalidRequestError},
		{name: "settle without id", method: http.MethodPost, path: "/v1/acme/settle", body: settleBody{}, wantStatus: http.StatusBadRequest, wantType: httperr.HttpInvalidRequestError},
		{name: "settle unknown id", method: http.MethodPost, path: "/v1/acme/settle", body: settleBody{TransactionID: "txn_missing"}, wantStatus: http.StatusNotFound, wantType: httperr.HttpNotFoundError},
		{name: "unknown transaction", method: http.MethodGet, path: "/v1/acme/transactions/txn_missing", wantStatus: http.StatusNotFound, wantType: httperr.HttpNotFoundError},
		{name: "limit out of range", method: http.MethodGet, path: "/v1/acme/transactions?limit=101", wantStatus: http.StatusBadRequest, wantType: httperr.HttpInvalidRequestError},
		{name: "unknown cursor", method: http.MethodGet, path: "/v1/acme/events?cursor=nope", wantStatus: http.StatusNotFound, wantType: httperr.HttpCursorNotFoundError},
		{name: "bad after_time", method: http.MethodGet, path: "/v1/acme/events?after_time=yesterday", wantStatus: http.StatusBadRequest, wantType: httperr.HttpInvalidRequestError},
		{name: "unknown customer", method: http.MethodGet, path: "/v1/customers/nobody", wantStatus: http.StatusNotFound, wantType: httperr.HttpNotFoundError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var resp *httptest.ResponseRecorder
			if tc.rawBody != "" {
				req := httptest.NewRequest(tc.method, tc.path, bytes.NewReader([]byte(tc.rawBody)))
				req.Header.Set("Content-Type", "application/json")
				resp = httptest.NewRecorder()
				r.ServeHTTP(resp, req)
			} else {
				resp = do(r, tc.method, tc.path, tc.body)
			}

			require.Equal(t, tc.wantStatus, resp.Code, resp.Body.String())
			errResp := decode[httperr.ErrorResponse](t, resp)
			require.Equal(t, tc.wantType, errResp.ErrorType)
		})
	}
}

func TestSettleHandler_InvalidState(t *testing.T) {
	backend := settlementmocks.NewBackend(t)
	backend.EXPECT().Verify(mock.Anything, mock.Anything).
		Return(&v1.VerifyResponse{IsValid: true, Payer: "payer-1"}, nil).Once()
	backend.EXPECT().Settle(mock.Anything, mock.Anything).
		Return(&v1.SettleResponse{Success: false, ErrorReason: "insufficient_funds"}, nil).Once()
	r := newRouter(t, backend)

	verified := decode[verifyResult](t, do(r, http.MethodPost, "/v1/acme/verify", verifyPayload("n1")))

	resp := do(r, http.MethodPost, "/v1/acme/settle", settleBody{TransactionID: verified.TransactionID})
	require.Equal(t, http.StatusOK, resp.Code)
	failed := decode[settleResult](t, resp)
	require.False(t, failed.Success)
	require.Equal(t, "insufficient_funds", failed.ErrorReason)

	resp = do(r, http.MethodPost, "/v1/acme/settle", settleBody{TransactionID: verified.TransactionID})
	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, httperr.HttpInvalidStateError, decode[httperr.ErrorResponse](t, resp).ErrorType)
}

func TestCustomerHandlers(t *testing.T) {
	r := newRouter(t, sandbox.NewBackend())

	resp := do(r, http.MethodPost, "/v1/acme/verify?sandbox=true", verifyPayload("n1"))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = do(r, http.MethodGet, "/v1/customers/payer-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "payer-1", decode[v1.Customer](t, resp).Address)

	resp = do(r, http.MethodPatch, "/v1/customers/payer-1", relabelBody{Label: "alice"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "alice", decode[v1.Customer](t, resp).Label)

	// registering an address ahead of its first payment
	resp = do(r, http.MethodPut, "/v1/customers/payer-2", relabelBody{Label: "bob"})
	require.Equal(t, http.StatusOK, resp.Code)
	registered := decode[v1.Customer](t, resp)
	require.Equal(t, "bob", registered.Label)

	// an existing customer keeps its label
	resp = do(r, http.MethodPut, "/v1/customers/payer-1", relabelBody{Label: "mallory"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "alice", decode[v1.Customer](t, resp).Label)

	resp = do(r, http.MethodPut, "/v1/customers/payer-3", relabelBody{Label: strings.Repeat("x", 256)})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSupportedHandler(t *testing.T) {
	sandboxOnly := newRouterWithConfig(t, ledger.Config{SandboxBackend: sandbox.NewBackend()})

	resp := do(sandboxOnly, http.MethodGet, "/v1/acme/supported?sandbox=true", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	kinds := decode[v1.SupportedResponse](t, resp).Kinds
	require.Len(t, kinds, 2)
	require.Equal(t, v1.SupportedKind{X402Version: 1, Scheme: "exact", Network: "solana"}, kinds[0])

	resp = do(sandboxOnly, http.MethodGet, "/v1/acme/supported", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Empty(t, decode[v1.SupportedResponse](t, resp).Kinds)
}

func TestLiveScopeWithoutBackendIsUnavailable(t *testing.T) {
	r := newRouterWithConfig(t, ledger.Config{SandboxBackend: sandbox.NewBackend()})

	resp := do(r, http.MethodPost, "/v1/acme/verify", verifyPayload("n1"))
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	require.Equal(t, httperr.HttpBackendUnavailableError, decode[httperr.ErrorResponse](t, resp).ErrorType)

	resp = do(r, http.MethodPost, "/v1/acme/verify?sandbox=true", verifyPayload("n1"))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestBodySizeLimit(t *testing.T) {
	r := newRouter(t, sandbox.NewBackend())

	big := bytes.Repeat([]byte("a"), 1024*1024+10)
	body := fmt.Sprintf(`{"paymentRequirements":{"pad":%q}}`, big)
	req := httptest.NewRequest(http.MethodPost, "/v1/acme/verify", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}
