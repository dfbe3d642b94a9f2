package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/slotworks/vendo/internal/stock/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindSlot(ctx context.Context, db *gorm.DB, machineID string, slotNumber int) (*domain.Slot, error) {
	var slot domain.Slot
	err := db.WithContext(ctx).
		Where("machine_id = ? AND slot_number = ?", machineID, slotNumber).
		First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSlotNotFound
		}
		return nil, err
	}
	return &slot, nil
}

func (r *repo) FindSlotByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Slot, error) {
	var slot domain.Slot
	err := db.WithContext(ctx).First(&slot, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSlotNotFound
		}
		return nil, err
	}
	return &slot, nil
}

func (r *repo) ListSlots(ctx context.Context, db *gorm.DB, machineID string) ([]domain.Slot, error) {
	var slots []domain.Slot
	err := db.WithContext(ctx).
		Where("machine_id = ?", machineID).
		Order("slot_number ASC").
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (r *repo) CompareAndSetStock(ctx context.Context, db *gorm.DB, slotID snowflake.ID, expected, next int) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE slots
		 SET current_stock = ?, updated_at = ?
		 WHERE id = ? AND current_stock = ?`,
		next,
		time.Now().UTC(),
		slotID,
		expected,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AppendLog(ctx context.Context, db *gorm.DB, entry *domain.StockLogEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) ListLogs(ctx context.Context, db *gorm.DB, slotID snowflake.ID, limit int) ([]domain.StockLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []domain.StockLogEntry
	err := db.WithContext(ctx).
		Where("slot_id = ?", slotID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
