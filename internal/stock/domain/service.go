package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	GetSlot(ctx context.Context, machineID string, slotNumber int) (*Slot, error)
	ListSlots(ctx context.Context, machineID string) ([]Slot, error)
	Logs(ctx context.Context, machineID string, slotNumber int, limit int) ([]StockLogEntry, error)

	// ApplyDispense decrements a slot's stock by quantity, floored at zero,
	// and appends a DISPENSE log row. It runs inside the caller's transaction
	// so the decrement commits atomically with the order transition.
	ApplyDispense(ctx context.Context, tx *gorm.DB, slotID snowflake.ID, quantity int, orderID string) error

	// ApplyTelemetry overwrites current stock with the level's point estimate
	// (latest wins) and appends an AUDIT log row. Skipped while a dispense
	// attempt is open for the slot.
	ApplyTelemetry(ctx context.Context, machineID string, slotNumber int, level Level) error

	// SetStock applies an operator-supplied absolute target, clamped to
	// [0, capacity], logging RESTOCK for non-negative deltas and
	// MANUAL_ADJUST otherwise.
	SetStock(ctx context.Context, req SetStockRequest) (*Slot, error)
}

type SetStockRequest struct {
	MachineID  string `json:"machine_id"`
	SlotNumber int    `json:"slot_number"`
	Target     int    `json:"target"`
	Actor      string `json:"actor"`
	Reason     string `json:"reason"`
}

var (
	ErrSlotNotFound    = errors.New("slot_not_found")
	ErrInvalidMachine  = errors.New("invalid_machine")
	ErrInvalidSlot     = errors.New("invalid_slot")
	ErrInvalidQuantity = errors.New("invalid_quantity")
	ErrInvalidLevel    = errors.New("invalid_level")
	ErrInvalidActor    = errors.New("invalid_actor")
	ErrWriteConflict   = errors.New("stock_write_conflict")
)
