package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Payment, error)

	// Resolve moves the payment from PENDING to the given terminal status in
	// one conditional write; false means it was already resolved.
	Resolve(ctx context.Context, db *gorm.DB, orderID string, to Status, gatewayTxnID string, raw []byte, processedAt time.Time) (bool, error)
}
