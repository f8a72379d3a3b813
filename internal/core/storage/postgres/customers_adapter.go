package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/aevon-lab/x402-facilitator/internal/core/storage"
)

func (a *Adapter) EnsureCustomer(ctx context.Context, address, label string, now time.Time) (*v1.Customer, error) {
	c, err := scanCustomerRow(a.stmtEnsureCustomer.QueryRowContext(ctx, address, nullString(label), now))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure customer: %w", err)
	}
	return c, nil
}

func (a *Adapter) GetCustomer(ctx context.Context, id int64) (*v1.Customer, error) {
	return a.getCustomer(ctx, a.stmtGetCustomer, id)
}

func (a *Adapter) GetCustomerByAddress(ctx context.Context, address string) (*v1.Customer, error) {
	return a.getCustomer(ctx, a.stmtGetCustomerAddr, address)
}

func (a *Adapter) getCustomer(ctx context.Context, stmt *sql.Stmt, key interface{}) (*v1.Customer, error) {
	c, err := scanCustomerRow(stmt.QueryRowContext(ctx, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// SetCustomerLabel updates the label and bumps updated_at.
func (a *Adapter) SetCustomerLabel(ctx context.Context, address, label string, now time.Time) (*v1.Customer, error) {
	c, err := scanCustomerRow(a.stmtSetCustomerLbl.QueryRowContext(ctx, address, nullString(label), now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set customer label: %w", err)
	}
	return c, nil
}
