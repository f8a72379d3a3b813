package payment

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	httperr "github.com/aevon-lab/x402-facilitator/internal/core/errors"
	"github.com/aevon-lab/x402-facilitator/internal/customer"
	"github.com/aevon-lab/x402-facilitator/internal/eventlog"
	"github.com/aevon-lab/x402-facilitator/internal/ledger"
	"github.com/aevon-lab/x402-facilitator/internal/stream"
)

// mapError translates domain errors into the API error envelope.
func mapError(err error) *apiError {
	switch {
	case errors.Is(err, ledger.ErrInvalidRequirement):
		return &apiError{http.StatusBadRequest, httperr.HttpInvalidRequirementError, err.Error(), nil}
	case errors.Is(err, stream.ErrInvalidStream),
		errors.Is(err, customer.ErrInvalidAddress),
		errors.Is(err, customer.ErrInvalidLabel):
		return &apiError{http.StatusBadRequest, httperr.HttpInvalidRequestError, err.Error(), nil}
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, stream.ErrStreamNotFound),
		errors.Is(err, customer.ErrNotFound):
		return &apiError{http.StatusNotFound, httperr.HttpNotFoundError, err.Error(), nil}
	case errors.Is(err, eventlog.ErrCursorNotFound):
		return &apiError{http.StatusNotFound, httperr.HttpCursorNotFoundError, err.Error(), nil}
	case errors.Is(err, ledger.ErrInvalidState):
		return &apiError{http.StatusConflict, httperr.HttpInvalidStateError, err.Error(), nil}
	case errors.Is(err, ledger.ErrDuplicateEvent):
		return &apiError{http.StatusConflict, httperr.HttpDuplicateEventError, err.Error(), nil}
	case errors.Is(err, stream.ErrCursorRegression):
		return &apiError{http.StatusConflict, httperr.HttpCursorRegressionError, err.Error(), nil}
	case errors.Is(err, ledger.ErrBackendUnavailable):
		return &apiError{http.StatusServiceUnavailable, httperr.HttpBackendUnavailableError, msgBackendUnavailable, nil}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &apiError{http.StatusServiceUnavailable, httperr.HttpInternalError, "Request cancelled", nil}
	default:
		slog.Error("[Payment] Unhandled error", "error", err)
		return &apiError{http.StatusInternalServerError, httperr.HttpInternalError, msgInternal, nil}
	}
}
