package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order, items []OrderItem) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Order, error)
	FindItems(ctx context.Context, db *gorm.DB, orderID string) ([]OrderItem, error)

	// Transition moves an order from any of the given predecessor statuses to
	// the target in one conditional write; false means no predecessor matched
	// and the caller decides between no-op and conflict.
	Transition(ctx context.Context, db *gorm.DB, id string, from []Status, to Status, set map[string]any) (bool, error)

	// ExpireOverdue fails every PENDING order whose expiry has passed.
	// Read-time lazy expiry and the sweeper both funnel through this
	// conditional write, so they cannot double-apply.
	ExpireOverdue(ctx context.Context, db *gorm.DB, now time.Time, ids ...string) (int64, error)
}
