package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	httperr "github.com/aevon-lab/x402-facilitator/internal/core/errors"
	"github.com/aevon-lab/x402-facilitator/internal/ledger"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed     = "Failed to read request body"
	msgInvalidJSON        = "Invalid JSON body"
	msgBodyTooLarge       = "Request body exceeds maximum allowed size"
	msgInternal           = "Internal error"
	msgBackendUnavailable = "Settlement backend unavailable, retry with the same request"
)

// apiError carries the structured HTTP error shape from a helper back to the handler.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type apiError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *apiError) Error() string {
	return e.message
}

type verifyBody struct {
	X402Version         int             `json:"x402Version"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
}

// verifyResult mirrors the x402 verify response and adds the ledger row.
type verifyResult struct {
	IsValid       bool            `json:"isValid"`
	InvalidReason string          `json:"invalidReason,omitempty"`
	Payer         string          `json:"payer,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	Transaction   *v1.Transaction `json:"transaction"`
}

type settleBody struct {
	TransactionID string `json:"transactionId"`
}

// settleResult mirrors the x402 settle response and adds the ledger row.
type settleResult struct {
	Success     bool            `json:"success"`
	ErrorReason string          `json:"errorReason,omitempty"`
	Signature   string          `json:"signature,omitempty"`
	Network     string          `json:"network,omitempty"`
	Transaction *v1.Transaction `json:"transaction"`
}

// transactionView is a transaction with its payer's customer record.
type transactionView struct {
	*v1.Transaction
	Customer *v1.Customer `json:"customer,omitempty"`
}

// VerifyHandler handles POST /v1/:stack/verify.
// Concurrent requests for the same requirement all answer with the one verdict.
func (s *Service) VerifyHandler(c *gin.Context) {
	scope, apiErr := parseScope(c)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	var body verifyBody
	if apiErr := s.bindBody(c, &body); apiErr != nil {
		writeError(c, apiErr)
		return
	}
	if len(body.PaymentRequirements) == 0 || string(body.PaymentRequirements) == "null" {
		writeError(c, &apiError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequirementError,
			message:    "paymentRequirements is required",
		})
		return
	}

	tx, err := s.ledger.Verify(c.Request.Context(), ledger.VerifyRequest{
		Scope:       scope,
		X402Version: body.X402Version,
		Requirement: body.PaymentRequirements,
		Payload:     body.PaymentPayload,
	})
	if err != nil && !errors.Is(err, ledger.ErrBackendRejected) {
		writeError(c, mapError(err))
		return
	}

	result := verifyResult{Transaction: tx, TransactionID: tx.TransactionID}
	var stored v1.VerifyResponse
	if len(tx.VerifyResponse) > 0 && json.Unmarshal(tx.VerifyResponse, &stored) == nil {
		result.Payer = stored.Payer
		result.InvalidReason = stored.InvalidReason
	}

	switch tx.Status {
	case v1.StatusPending:
		writeError(c, mapError(ledger.ErrBackendUnavailable))
		return
	case v1.StatusFailed:
		if result.InvalidReason == "" {
			result.InvalidReason = "verification_failed"
		}
	default:
		result.IsValid = true
	}
	c.JSON(http.StatusOK, result)
}

// SettleHandler handles POST /v1/:stack/settle.
func (s *Service) SettleHandler(c *gin.Context) {
	scope, apiErr := parseScope(c)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	var body settleBody
	if apiErr := s.bindBody(c, &body); apiErr != nil {
		writeError(c, apiErr)
		return
	}
	if body.TransactionID == "" {
		writeError(c, &apiError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    "transactionId is required",
		})
		return
	}

	tx, err := s.ledger.Settle(c.Request.Context(), scope, body.TransactionID)
	if err != nil && !errors.Is(err, ledger.ErrBackendRejected) {
		writeError(c, mapError(err))
		return
	}

	result := settleResult{
		Success:     tx.Status == v1.StatusSettled,
		Signature:   tx.Signature,
		Transaction: tx,
	}
	var stored v1.SettleResponse
	if len(tx.SettleResponse) > 0 && json.Unmarshal(tx.SettleResponse, &stored) == nil {
		result.ErrorReason = stored.ErrorReason
		result.Network = stored.Network
	}
	c.JSON(http.StatusOK, result)
}

// ListTransactionsHandler handles GET /v1/:stack/transactions.
func (s *Service) ListTransactionsHandler(c *gin.Context) {
	scope, apiErr := parseScope(c)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	limit, apiErr := intQuery(c, "limit", ledger.DefaultListLimit, 1, ledger.MaxListLimit)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	startingAfter, apiErr := int64Query(c, "starting_after")
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	page, err := s.ledger.List(c.Request.Context(), scope, ledger.ListParams{
		Limit:         limit,
		StartingAfter: startingAfter,
	})
	if err != nil {
		writeError(c, mapError(err))
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetTransactionHandler handles GET /v1/:stack/transactions/:transaction_id.
func (s *Service) GetTransactionHandler(c *gin.Context) {
	scope, apiErr := parseScope(c)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}

	ctx := c.Request.Context()
	tx, err := s.ledger.Get(ctx, scope, c.Param("transaction_id"))
	if err != nil {
		writeError(c, mapError(err))
		return
	}

	view := transactionView{Transaction: tx}
	if tx.CustomerID != nil {
		cust, err := s.customers.Get(ctx, *tx.CustomerID)
		if err != nil {
			writeError(c, mapError(err))
			return
		}
		view.Customer = cust
	}
	c.JSON(http.StatusOK, view)
}

// bindBody reads at most maxBodySizeBytes and decodes it into dst.
func (s *Service) bindBody(c *gin.Context, dst interface{}) *apiError {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Payment] Failed to read request body", "error", err)
		return &apiError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("[Payment] Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return &apiError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgBodyTooLarge,
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	if err := c.ShouldBindJSON(dst); err != nil {
		slog.Warn("[Payment] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return &apiError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	return nil
}

// parseScope reads the payment stack from the path and the environment from ?sandbox.
func parseScope(c *gin.Context) (v1.Scope, *apiError) {
	scope := v1.Scope{PaymentStackID: c.Param("stack")}
	if raw := c.Query("sandbox"); raw != "" {
		sandbox, err := strconv.ParseBool(raw)
		if err != nil {
			return scope, &apiError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpInvalidRequestError,
				message:    "sandbox must be a boolean",
			}
		}
		scope.IsSandbox = sandbox
	}
	if err := scope.Validate(); err != nil {
		return scope, &apiError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    err.Error(),
		}
	}
	return scope, nil
}

func intQuery(c *gin.Context, name string, def, min, max int) (int, *apiError) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, &apiError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    name + " must be an integer between " + strconv.Itoa(min) + " and " + strconv.Itoa(max),
		}
	}
	return n, nil
}

func int64Query(c *gin.Context, name string) (int64, *apiError) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, &apiError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidRequestError,
			message:    name + " must be a non-negative integer",
		}
	}
	return n, nil
}

// writeError serializes an apiError as the JSON HTTP response.
func writeError(c *gin.Context, err *apiError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
