package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindSlot(ctx context.Context, db *gorm.DB, machineID string, slotNumber int) (*Slot, error)
	FindSlotByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Slot, error)
	ListSlots(ctx context.Context, db *gorm.DB, machineID string) ([]Slot, error)

	// CompareAndSetStock updates current_stock from expected to next in one
	// conditional write. Returns false when another writer got there first.
	CompareAndSetStock(ctx context.Context, db *gorm.DB, slotID snowflake.ID, expected, next int) (bool, error)

	AppendLog(ctx context.Context, db *gorm.DB, entry *StockLogEntry) error
	ListLogs(ctx context.Context, db *gorm.DB, slotID snowflake.ID, limit int) ([]StockLogEntry, error)
}

// OpenAttemptChecker reports whether a dispense attempt is currently open for
// a slot. The stock ledger defers telemetry overwrites while one is open so a
// coarse sensor estimate cannot clobber an in-flight exact decrement.
type OpenAttemptChecker interface {
	HasOpenAttempt(ctx context.Context, machineID string, slotNumber int) (bool, error)
}
