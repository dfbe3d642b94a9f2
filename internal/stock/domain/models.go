package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Slot is a single physical dispensing channel bound to one product.
// current_stock is owned by the stock ledger; every mutation goes through one
// of its three writers and is clamped to [0, capacity]. Active carries no
// column default: gorm drops zero-value fields with defaults from the INSERT,
// and a slot created inactive would come back active.
type Slot struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	MachineID       string       `json:"machine_id" gorm:"type:text;not null;uniqueIndex:ux_slots_machine_slot,priority:1"`
	SlotNumber      int          `json:"slot_number" gorm:"not null;uniqueIndex:ux_slots_machine_slot,priority:2"`
	ProductName     string       `json:"product_name" gorm:"type:text;not null"`
	BasePrice       int64        `json:"base_price" gorm:"not null"`
	PriceOverride   *int64       `json:"price_override,omitempty"`
	CurrentStock    int          `json:"current_stock" gorm:"not null;default:0"`
	Capacity        int          `json:"capacity" gorm:"not null"`
	Active          bool         `json:"active" gorm:"not null"`
	MotorDurationMs int          `json:"motor_duration_ms" gorm:"not null;default:0"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Slot) TableName() string { return "slots" }

// UnitPrice is the price snapshotted onto orders at creation time.
func (s Slot) UnitPrice() int64 {
	if s.PriceOverride != nil {
		return *s.PriceOverride
	}
	return s.BasePrice
}

type ChangeType string

const (
	ChangeDispense     ChangeType = "DISPENSE"
	ChangeRestock      ChangeType = "RESTOCK"
	ChangeManualAdjust ChangeType = "MANUAL_ADJUST"
	ChangeAudit        ChangeType = "AUDIT"
)

// StockLogEntry is the append-only audit row behind every stock write. Rows
// are never updated or deleted. Summing deltas replays order and manual
// writers exactly; AUDIT rows mark telemetry overwrites, which break strict
// replayability and are flagged rather than blended.
type StockLogEntry struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	SlotID         snowflake.ID `json:"slot_id" gorm:"not null;index"`
	OrderID        *string      `json:"order_id,omitempty" gorm:"type:text;index"`
	ChangeType     ChangeType   `json:"change_type" gorm:"type:text;not null"`
	QuantityBefore int          `json:"quantity_before" gorm:"not null"`
	QuantityAfter  int          `json:"quantity_after" gorm:"not null"`
	Delta          int          `json:"delta" gorm:"not null"`
	Reason         string       `json:"reason" gorm:"type:text"`
	Actor          string       `json:"actor" gorm:"type:text;not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (StockLogEntry) TableName() string { return "stock_logs" }

// Level is the coarse fill estimate reported by the machine's sensors.
type Level string

const (
	LevelEmpty  Level = "EMPTY"
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
	LevelFull   Level = "FULL"
)

// Estimate maps a telemetry level to its fixed point estimate. The mapping is
// coarse and lossy on purpose; the value overwrites current stock latest-wins
// and is never averaged against order-driven counts.
func (l Level) Estimate() (int, bool) {
	switch l {
	case LevelEmpty:
		return 0, true
	case LevelLow:
		return 2, true
	case LevelMedium:
		return 5, true
	case LevelHigh:
		return 8, true
	case LevelFull:
		return 10, true
	default:
		return 0, false
	}
}

func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
