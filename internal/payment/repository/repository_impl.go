package repository

import (
	"context"
	"errors"
	"time"

	"github.com/slotworks/vendo/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).First(&payment, "order_id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, orderID string, to domain.Status, gatewayTxnID string, raw []byte, processedAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":       to,
		"processed_at": processedAt,
		"updated_at":   processedAt,
	}
	if gatewayTxnID != "" {
		updates["gateway_txn_id"] = gatewayTxnID
	}
	if len(raw) > 0 {
		updates["raw_payload"] = raw
	}
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("order_id = ? AND status = ?", orderID, domain.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
