package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// DispenseLog is one command/confirmation cycle for an order and slot. A row
// opens when the command is published and closes exactly once: by the device
// confirmation, or by the timeout supervisor, whichever wins the conditional
// close. An order has at most one successful attempt per slot but may have
// several failed ones across retries.
type DispenseLog struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID       string       `json:"order_id" gorm:"type:text;not null;index"`
	MachineID     string       `json:"machine_id" gorm:"type:text;not null;index"`
	SlotID        snowflake.ID `json:"slot_id" gorm:"not null"`
	SlotNumber    int          `json:"slot_number" gorm:"not null"`
	Quantity      int          `json:"quantity" gorm:"not null"`
	TimeoutMs     int          `json:"timeout_ms" gorm:"not null"`
	CommandSentAt time.Time    `json:"command_sent_at" gorm:"not null"`
	DeadlineAt    time.Time    `json:"deadline_at" gorm:"not null;index"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	Success       bool         `json:"success" gorm:"not null;default:false"`
	DropDetected  bool         `json:"drop_detected" gorm:"not null;default:false"`
	DurationMs    int          `json:"duration_ms" gorm:"not null;default:0"`
	Error         string       `json:"error,omitempty" gorm:"type:text"`
}

func (DispenseLog) TableName() string { return "dispense_logs" }

func (l DispenseLog) Open() bool { return l.CompletedAt == nil }

var (
	ErrStateConflict         = errors.New("dispense_state_conflict")
	ErrDownstreamUnavailable = errors.New("device_channel_unavailable")
	ErrInvalidConfirm        = errors.New("invalid_confirm")
	ErrNoSlotsForOrder       = errors.New("no_slots_for_order")
)

// Fixed error strings recorded on supervisor-closed attempts.
const (
	TimeoutError = "confirmation timeout"
	PublishError = "command publish failed"
)
