package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	OpenAttempts(ctx context.Context, db *gorm.DB, attempts []*DispenseLog) error
	FindOpen(ctx context.Context, db *gorm.DB, orderID string, slotNumber int) (*DispenseLog, error)
	ListByOrder(ctx context.Context, db *gorm.DB, orderID string) ([]DispenseLog, error)

	// CloseAttempt settles an open attempt in one conditional write; false
	// means it was already closed by the racing closer.
	CloseAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, success, dropDetected bool, durationMs int, errText string) (bool, error)

	CountOpenByOrder(ctx context.Context, db *gorm.DB, orderID string) (int64, error)
	AnyFailedByOrder(ctx context.Context, db *gorm.DB, orderID string) (bool, error)
	HasOpenForSlot(ctx context.Context, db *gorm.DB, machineID string, slotNumber int) (bool, error)

	// FulfilledSlots lists slot numbers with an effective attempt for the
	// order; UnfulfilledSlots lists the slot numbers still owed one.
	FulfilledSlots(ctx context.Context, db *gorm.DB, orderID string) ([]int, error)
	UnfulfilledSlots(ctx context.Context, db *gorm.DB, orderID string) ([]int, error)

	// ListStaleOpen returns open attempts whose deadline has passed; the
	// reaper closes them as timeouts, covering timers lost to a restart.
	ListStaleOpen(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]DispenseLog, error)
}

type Service interface {
	// Trigger starts the physical dispense for a PAID (or parked
	// PENDING_DISPENSE) order: one command per order item, fire-and-forget.
	Trigger(ctx context.Context, orderID string) error

	// Retry is the operator path for orders parked in PENDING_DISPENSE; it
	// reuses the same transition, never a new state.
	Retry(ctx context.Context, orderID string) error

	// Confirm applies a device-reported outcome. Idempotent per
	// (order, slot): confirmations for already-closed attempts are accepted
	// and ignored.
	Confirm(ctx context.Context, req ConfirmRequest) error

	// ReapStale times out overdue open attempts; used by the supervising
	// worker.
	ReapStale(ctx context.Context) (int, error)

	// Logs returns every attempt recorded for the order, open and closed.
	Logs(ctx context.Context, orderID string) ([]DispenseLog, error)
}

type ConfirmRequest struct {
	OrderID      string `json:"order_id"`
	SlotNumber   int    `json:"slot_number"`
	Success      bool   `json:"success"`
	DropDetected bool   `json:"drop_detected"`
	DurationMs   int    `json:"duration_ms"`
	Error        string `json:"error"`
}
