package domain

import (
	"context"
)

type Service interface {
	// IngestWebhook validates the gateway notification's embedded signature
	// and reconciles payment and order state. Safe to call any number of
	// times with the same payload.
	IngestWebhook(ctx context.Context, payload []byte) (*Result, error)

	// VerifyManual is the operator fallback; it converges on the same state
	// as a successful webhook without double-applying side effects.
	VerifyManual(ctx context.Context, orderID string, actor string) (*Result, error)
}

// Result reports what the reconciliation did for the caller's benefit; an
// idempotent re-delivery yields Applied=false with the settled status.
type Result struct {
	OrderID string `json:"order_id"`
	Status  Status `json:"status"`
	Applied bool   `json:"applied"`
}

// DispenseTrigger starts the physical dispense for a paid order. Implemented
// by the dispense coordinator; a failure here must never unwind the payment.
type DispenseTrigger interface {
	Trigger(ctx context.Context, orderID string) error
}
