package repository

import (
	"context"
	"errors"
	"time"

	"github.com/slotworks/vendo/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order, items []domain.OrderItem) error {
	if err := db.WithContext(ctx).Create(order).Error; err != nil {
		return err
	}
	if len(items) > 0 {
		if err := db.WithContext(ctx).Create(&items).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) FindItems(ctx context.Context, db *gorm.DB, orderID string) ([]domain.OrderItem, error) {
	var items []domain.OrderItem
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("slot_number ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id string, from []domain.Status, to domain.Status, set map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range set {
		updates[k] = v
	}
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ExpireOverdue(ctx context.Context, db *gorm.DB, now time.Time, ids ...string) (int64, error) {
	q := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("status = ? AND expires_at < ?", domain.StatusPending, now)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]any{
		"status":     domain.StatusFailed,
		"notes":      "payment window expired",
		"updated_at": now,
	})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
