package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending         Status = "PENDING"
	StatusPaid            Status = "PAID"
	StatusDispensing      Status = "DISPENSING"
	StatusPendingDispense Status = "PENDING_DISPENSE"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
)

// predecessors defines the order state machine. A transition is legal only
// when the current status appears in the target's predecessor set; COMPLETED
// and FAILED have no successors.
var predecessors = map[Status][]Status{
	StatusPaid:            {StatusPending},
	StatusDispensing:      {StatusPaid, StatusPendingDispense},
	StatusPendingDispense: {StatusPaid, StatusDispensing},
	StatusCompleted:       {StatusDispensing},
	StatusFailed:          {StatusPending, StatusDispensing},
}

// Predecessors returns the statuses from which to may legally be entered.
func Predecessors(to Status) []Status {
	return predecessors[to]
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PaidOrLater reports whether the payment side effect has already been
// applied; a success signal arriving in any of these states is a no-op.
func (s Status) PaidOrLater() bool {
	switch s {
	case StatusPaid, StatusDispensing, StatusPendingDispense, StatusCompleted:
		return true
	default:
		return false
	}
}

// Order is one buyer transaction. Single-item orders carry their slot and
// quantity inline and have no OrderItem rows; multi-item orders additionally
// hold one OrderItem per slot. Rows are never deleted.
type Order struct {
	ID            string     `json:"id" gorm:"primaryKey;type:text"`
	MachineID     string     `json:"machine_id" gorm:"type:text;not null;index"`
	SlotNumber    int        `json:"slot_number" gorm:"not null"`
	Quantity      int        `json:"quantity" gorm:"not null"`
	TotalAmount   int64      `json:"total_amount" gorm:"not null"`
	Status        Status     `json:"status" gorm:"type:text;not null;index"`
	PaymentMethod string     `json:"payment_method" gorm:"type:text"`
	CustomerPhone string     `json:"customer_phone,omitempty" gorm:"type:text"`
	PaymentToken  string     `json:"payment_token,omitempty" gorm:"type:text"`
	PaymentURL    string     `json:"payment_url,omitempty" gorm:"type:text"`
	ExpiresAt     time.Time  `json:"expires_at" gorm:"not null"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	DispensedAt   *time.Time `json:"dispensed_at,omitempty"`
	Notes         string     `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt     time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Order) TableName() string { return "orders" }

// OrderItem is one line of a multi-item order with the product snapshot
// captured at order time. Never mutated after creation.
type OrderItem struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID     string       `json:"order_id" gorm:"type:text;not null;index"`
	SlotNumber  int          `json:"slot_number" gorm:"not null"`
	ProductName string       `json:"product_name" gorm:"type:text;not null"`
	UnitPrice   int64        `json:"unit_price" gorm:"not null"`
	Quantity    int          `json:"quantity" gorm:"not null"`
	LineTotal   int64        `json:"line_total" gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OrderItem) TableName() string { return "order_items" }
