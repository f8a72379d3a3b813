package ledger

import (
	"errors"

	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
)

var (
	// ErrNotFound is returned when no transaction has the requested id in scope.
	ErrNotFound = errors.New("transaction not found")

	// ErrInvalidState is returned when settle is called on a pending or failed transaction.
	ErrInvalidState = errors.New("transaction is not in a settleable state")

	// ErrBackendUnavailable is returned when the settlement backend could not be
	// reached. The row keeps its pre-call status and the call is safe to retry.
	ErrBackendUnavailable = errors.New("settlement backend unavailable")

	// ErrBackendRejected is returned alongside the failed transaction when the
	// backend answered with a semantic rejection.
	ErrBackendRejected = errors.New("settlement backend rejected the payment")

	// ErrInvalidRequirement is returned when the payment requirement is not a JSON object
	// or carries fields of the wrong type.
	ErrInvalidRequirement = errors.New("invalid payment requirement")

	// ErrDuplicateEvent surfaces an event_id collision. The transition was rolled back.
	ErrDuplicateEvent = storage.ErrDuplicateEvent
)
