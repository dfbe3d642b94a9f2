package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/slotworks/vendo/internal/dispense/domain"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) OpenAttempts(ctx context.Context, db *gorm.DB, attempts []*domain.DispenseLog) error {
	if len(attempts) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(attempts).Error
}

func (r *repo) FindOpen(ctx context.Context, db *gorm.DB, orderID string, slotNumber int) (*domain.DispenseLog, error) {
	var attempt domain.DispenseLog
	err := db.WithContext(ctx).
		Where("order_id = ? AND slot_number = ? AND completed_at IS NULL", orderID, slotNumber).
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *repo) ListByOrder(ctx context.Context, db *gorm.DB, orderID string) ([]domain.DispenseLog, error) {
	var attempts []domain.DispenseLog
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("command_sent_at ASC, id ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repo) CloseAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, success, dropDetected bool, durationMs int, errText string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DispenseLog{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]any{
			"completed_at":  at,
			"success":       success,
			"drop_detected": dropDetected,
			"duration_ms":   durationMs,
			"error":         errText,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CountOpenByOrder(ctx context.Context, db *gorm.DB, orderID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.DispenseLog{}).
		Where("order_id = ? AND completed_at IS NULL", orderID).
		Count(&count).Error
	return count, err
}

// AnyFailedByOrder ignores attempts aborted before the command reached the
// device (publish failures): nothing physical happened, and a later retry
// opens fresh attempts for the same lines.
func (r *repo) AnyFailedByOrder(ctx context.Context, db *gorm.DB, orderID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.DispenseLog{}).
		Where("order_id = ? AND completed_at IS NOT NULL AND (success = ? OR drop_detected = ?) AND error <> ?",
			orderID, false, false, domain.PublishError).
		Count(&count).Error
	return count > 0, err
}

// FulfilledSlots returns the slot numbers that already delivered an item for
// the order: a closed attempt with both success and a detected drop.
func (r *repo) FulfilledSlots(ctx context.Context, db *gorm.DB, orderID string) ([]int, error) {
	var slots []int
	err := db.WithContext(ctx).
		Model(&domain.DispenseLog{}).
		Distinct("slot_number").
		Where("order_id = ? AND success = ? AND drop_detected = ?", orderID, true, true).
		Pluck("slot_number", &slots).Error
	return slots, err
}

// UnfulfilledSlots returns the slot numbers the order still owes an item for:
// slots with attempt rows but no effective one. Every order line gets an
// attempt row before its command is published, so the rows cover all lines.
func (r *repo) UnfulfilledSlots(ctx context.Context, db *gorm.DB, orderID string) ([]int, error) {
	fulfilled := db.Session(&gorm.Session{NewDB: true}).
		Model(&domain.DispenseLog{}).
		Select("slot_number").
		Where("order_id = ? AND success = ? AND drop_detected = ?", orderID, true, true)

	var slots []int
	err := db.WithContext(ctx).
		Model(&domain.DispenseLog{}).
		Distinct("slot_number").
		Where("order_id = ?", orderID).
		Where("slot_number NOT IN (?)", fulfilled).
		Pluck("slot_number", &slots).Error
	return slots, err
}

func (r *repo) HasOpenForSlot(ctx context.Context, db *gorm.DB, machineID string, slotNumber int) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.DispenseLog{}).
		Where("machine_id = ? AND slot_number = ? AND completed_at IS NULL", machineID, slotNumber).
		Count(&count).Error
	return count > 0, err
}

func (r *repo) ListStaleOpen(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.DispenseLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var attempts []domain.DispenseLog
	err := db.WithContext(ctx).
		Where("completed_at IS NULL AND deadline_at < ?", now).
		Order("deadline_at ASC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// checker adapts the repository to the stock ledger's open-attempt lookup.
type checker struct {
	db *gorm.DB
	r  domain.Repository
}

func ProvideChecker(db *gorm.DB, r domain.Repository) stockdomain.OpenAttemptChecker {
	return &checker{db: db, r: r}
}

func (c *checker) HasOpenAttempt(ctx context.Context, machineID string, slotNumber int) (bool, error) {
	return c.r.HasOpenForSlot(ctx, c.db, machineID, slotNumber)
}
