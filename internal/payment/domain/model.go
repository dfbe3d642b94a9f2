package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Payment is one-to-one with an order. Status moves PENDING to SUCCESS or
// FAILED exactly once; re-applying the same terminal status is a no-op.
type Payment struct {
	ID           snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrderID      string         `json:"order_id" gorm:"type:text;not null;uniqueIndex"`
	Gateway      string         `json:"gateway" gorm:"type:text;not null"`
	Amount       int64          `json:"amount" gorm:"not null"`
	Method       string         `json:"method" gorm:"type:text"`
	Status       Status         `json:"status" gorm:"type:text;not null;index"`
	GatewayTxnID string         `json:"gateway_txn_id,omitempty" gorm:"type:text"`
	RawPayload   datatypes.JSON `json:"raw_payload,omitempty" gorm:"type:jsonb"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Payment) TableName() string { return "payments" }

// GatewayNotification is the raw webhook payload shape sent by the gateway.
type GatewayNotification struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionID     string `json:"transaction_id"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"`
}

// MapGatewayStatus translates the gateway's status vocabulary into the
// internal one. Unknown statuses are reported, not guessed.
func MapGatewayStatus(transactionStatus, fraudStatus string) (Status, error) {
	switch transactionStatus {
	case "settlement":
		return StatusSuccess, nil
	case "capture":
		if fraudStatus == "challenge" {
			return StatusPending, nil
		}
		return StatusSuccess, nil
	case "pending":
		return StatusPending, nil
	case "deny", "cancel", "expire", "failure":
		return StatusFailed, nil
	default:
		return "", ErrUnknownGatewayStatus
	}
}

var (
	ErrNotFound             = errors.New("payment_not_found")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrAmountMismatch       = errors.New("amount_mismatch")
	ErrUnknownGatewayStatus = errors.New("unknown_gateway_status")
	ErrInvalidOrderState    = errors.New("invalid_order_state")
)
