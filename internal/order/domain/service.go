package domain

import (
	"context"
	"errors"
	"time"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Order, error)
	CreateMulti(ctx context.Context, req CreateMultiRequest) (*Order, error)

	// Get returns the order, lazily failing a PENDING order whose expiry has
	// passed before the read.
	Get(ctx context.Context, id string) (*Order, error)
	Items(ctx context.Context, id string) ([]OrderItem, error)

	MarkPaid(ctx context.Context, id string) error
	MarkDispensing(ctx context.Context, id string) error
	MarkPendingDispense(ctx context.Context, id string, reason string) error
	MarkTerminal(ctx context.Context, id string, outcome Status) error

	// ExpireOverdue fails all overdue PENDING orders; run by the sweeper.
	ExpireOverdue(ctx context.Context) (int64, error)
}

type CreateRequest struct {
	MachineID     string `json:"machine_id"`
	SlotNumber    int    `json:"slot_number"`
	Quantity      int    `json:"quantity"`
	CustomerPhone string `json:"customer_phone"`
	PaymentMethod string `json:"payment_method"`
}

type CreateMultiItem struct {
	SlotNumber int `json:"slot_number"`
	Quantity   int `json:"quantity"`
}

type CreateMultiRequest struct {
	MachineID     string            `json:"machine_id"`
	Items         []CreateMultiItem `json:"items"`
	CustomerPhone string            `json:"customer_phone"`
	PaymentMethod string            `json:"payment_method"`
}

var (
	ErrNotFound          = errors.New("order_not_found")
	ErrInvalidMachine    = errors.New("invalid_machine")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidItems      = errors.New("invalid_items")
	ErrInvalidOutcome    = errors.New("invalid_outcome")
	ErrStockInsufficient = errors.New("stock_insufficient")
	ErrProductInactive   = errors.New("product_inactive")
	ErrStateConflict     = errors.New("order_state_conflict")
)

// DefaultExpiry is the payment window granted at order creation.
const DefaultExpiry = 15 * time.Minute
