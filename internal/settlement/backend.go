package settlement

import (
	"context"
	"errors"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
)

// ErrUnavailable marks a transport failure: the backend could not be reached
// or did not produce a usable answer. A semantic rejection is not an error;
// it comes back as a response with IsValid or Success false.
var ErrUnavailable = errors.New("settlement backend unavailable")

// Backend verifies and settles x402 payments. The ledger never inspects the
// chain itself.
type Backend interface {
	Verify(ctx context.Context, req *v1.FacilitatorRequest) (*v1.VerifyResponse, error)
	Settle(ctx context.Context, req *v1.FacilitatorRequest) (*v1.SettleResponse, error)
}
