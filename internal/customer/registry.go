package customer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
)

var (
	ErrNotFound       = errors.New("customer not found")
	ErrInvalidAddress = errors.New("invalid payer address")
	ErrInvalidLabel   = errors.New("invalid customer label")
)

const maxLabelLength = 255

// Registry maps payer addresses to customer records. Customers are created on
// first sight of an address and never deleted.
type Registry struct {
	store storage.CustomerStore
	now   func() time.Time
}

func NewRegistry(store storage.CustomerStore) *Registry {
	return &Registry{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func normalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("%w: address is required", ErrInvalidAddress)
	}
	return address, nil
}

// Ensure returns the customer for address, creating it if needed. The label
// only applies on creation; use Relabel to change it.
func (r *Registry) Ensure(ctx context.Context, address, label string) (*v1.Customer, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if len(label) > maxLabelLength {
		return nil, fmt.Errorf("%w: exceeds %d characters", ErrInvalidLabel, maxLabelLength)
	}
	return r.store.EnsureCustomer(ctx, address, label, r.now())
}

// Get returns the customer a transaction points at.
func (r *Registry) Get(ctx context.Context, id int64) (*v1.Customer, error) {
	c, err := r.store.GetCustomer(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return c, err
}

func (r *Registry) GetByAddress(ctx context.Context, address string) (*v1.Customer, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	c, err := r.store.GetCustomerByAddress(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	return c, err
}

// Relabel sets the display label of a known customer. An empty label clears it.
func (r *Registry) Relabel(ctx context.Context, address, label string) (*v1.Customer, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)
	if len(label) > maxLabelLength {
		return nil, fmt.Errorf("%w: exceeds %d characters", ErrInvalidLabel, maxLabelLength)
	}
	c, err := r.store.SetCustomerLabel(ctx, address, label, r.now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	return c, err
}
