package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/slotworks/vendo/internal/clock"
	"github.com/slotworks/vendo/internal/config"
	orderdomain "github.com/slotworks/vendo/internal/order/domain"
	orderrepository "github.com/slotworks/vendo/internal/order/repository"
	orderservice "github.com/slotworks/vendo/internal/order/service"
	"github.com/slotworks/vendo/internal/payment/domain"
	"github.com/slotworks/vendo/internal/payment/repository"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	stockrepository "github.com/slotworks/vendo/internal/stock/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testServerKey = "test-server-key"

type triggerStub struct {
	calls []string
	err   error
}

func (s *triggerStub) Trigger(ctx context.Context, orderID string) error {
	s.calls = append(s.calls, orderID)
	return s.err
}

type fixture struct {
	svc     domain.Service
	orders  orderdomain.Service
	db      *gorm.DB
	fake    *clock.FakeClock
	trigger *triggerStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&domain.Payment{},
		&stockdomain.Slot{},
		&stockdomain.StockLogEntry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	cfg := config.Config{
		Gateway:          "midtrans",
		GatewayServerKey: testServerKey,
		OrderExpiry:      15 * time.Minute,
	}

	orderRepo := orderrepository.Provide()
	orders := orderservice.NewService(orderservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Cfg:   cfg,
		Repo:  orderRepo,
		Slots: stockrepository.Provide(),
	})

	trigger := &triggerStub{}
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    fake,
		Cfg:      cfg,
		Repo:     repository.Provide(),
		Orders:   orders,
		OrderRep: orderRepo,
		Dispense: trigger,
	})

	slotNode, err := snowflake.NewNode(2)
	require.NoError(t, err)
	require.NoError(t, db.Create(&stockdomain.Slot{
		ID:           slotNode.Generate(),
		MachineID:    "VM-001",
		SlotNumber:   1,
		ProductName:  "Iced Tea",
		BasePrice:    10000,
		CurrentStock: 5,
		Capacity:     10,
		Active:       true,
	}).Error)

	return &fixture{svc: svc, orders: orders, db: db, fake: fake, trigger: trigger}
}

func (f *fixture) createOrder(t *testing.T, quantity int) *orderdomain.Order {
	t.Helper()
	order, err := f.orders.Create(context.Background(), orderdomain.CreateRequest{
		MachineID:     "VM-001",
		SlotNumber:    1,
		Quantity:      quantity,
		PaymentMethod: "qris",
	})
	require.NoError(t, err)
	return order
}

func webhookPayload(t *testing.T, orderID, status, gross string) []byte {
	t.Helper()
	n := domain.GatewayNotification{
		OrderID:           orderID,
		TransactionStatus: status,
		StatusCode:        "200",
		GrossAmount:       gross,
		TransactionID:     "txn-123",
		PaymentType:       "qris",
	}
	n.SignatureKey = domain.Signature(n.OrderID, n.StatusCode, n.GrossAmount, testServerKey)
	payload, err := json.Marshal(n)
	require.NoError(t, err)
	return payload
}

func TestIngestWebhook_SettlementMarksPaidAndTriggersDispense(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, 2)

	result, err := f.svc.IngestWebhook(context.Background(), webhookPayload(t, order.ID, "settlement", "20000.00"))
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, domain.StatusSuccess, result.Status)

	var reloaded orderdomain.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	assert.NotNil(t, reloaded.PaidAt)

	var payment domain.Payment
	require.NoError(t, f.db.First(&payment, "order_id = ?", order.ID).Error)
	assert.Equal(t, domain.StatusSuccess, payment.Status)
	assert.Equal(t, "txn-123", payment.GatewayTxnID)
	assert.NotNil(t, payment.ProcessedAt)

	assert.Equal(t, []string{order.ID}, f.trigger.calls)
}

func TestIngestWebhook_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, 1)
	payload := webhookPayload(t, order.ID, "settlement", "10000.00")

	first, err := f.svc.IngestWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := f.svc.IngestWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, domain.StatusSuccess, second.Status)

	assert.Len(t, f.trigger.calls, 1, "side effects must apply exactly once")
}

func TestIngestWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, 1)

	n := domain.GatewayNotification{
		OrderID:           order.ID,
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       "10000.00",
		SignatureKey:      "forged",
	}
	payload, err := json.Marshal(n)
	require.NoError(t, err)

	_, err = f.svc.IngestWebhook(context.Background(), payload)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	var reloaded orderdomain.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusPending, reloaded.Status)
}

func TestIngestWebhook_RejectsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, 1)

	_, err := f.svc.IngestWebhook(context.Background(), webhookPayload(t, order.ID, "settlement", "999.00"))
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)
	assert.Empty(t, f.trigger.calls)
}

func TestIngestWebhook_FailureStatusFailsOrder(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, 1)

	result, err := f.svc.IngestWebhook(context.Background(), webhookPayload(t, order.ID, "expire", "10000.00"))
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, domain.StatusFailed, result.Status)

	var reloaded orderdomain.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusFailed, reloaded.Status)
	assert.Empty(t, f.trigger.calls)
}

func TestIngestWebhook_PendingStatusChangesNothing(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, 1)

	result, err := f.svc.IngestWebhook(context.Background(), webhookPayload(t, order.ID, "pending", "10000.00"))
	require.NoError(t, err)
	assert.False(t, result.Applied)

	var reloaded orderdomain.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusPending, reloaded.Status)
}

func TestIngestWebhook_LateWebhookAfterExpiryRejected(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, 1)

	f.fake.Advance(16 * time.Minute)

	_, err := f.svc.IngestWebhook(context.Background(), webhookPayload(t, order.ID, "settlement", "10000.00"))
	assert.ErrorIs(t, err, domain.ErrInvalidOrderState)

	var reloaded orderdomain.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusFailed, reloaded.Status, "late success must not resurrect an expired order")
	assert.Empty(t, f.trigger.calls)
}

func TestIngestWebhook_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IngestWebhook(context.Background(), webhookPayload(t, "ORD-20250601-NOPE", "settlement", "10000.00"))
	assert.ErrorIs(t, err, orderdomain.ErrNotFound)
}

func TestVerifyManual_ConvergesWithWebhook(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, 1)

	result, err := f.svc.VerifyManual(context.Background(), order.ID, "operator-7")
	require.NoError(t, err)
	assert.True(t, result.Applied)

	// The delayed webhook finally lands; it must observe the settled state.
	second, err := f.svc.IngestWebhook(context.Background(), webhookPayload(t, order.ID, "settlement", "10000.00"))
	require.NoError(t, err)
	assert.False(t, second.Applied)

	assert.Len(t, f.trigger.calls, 1)
}

func TestApplySuccess_TriggerFailureParksOrder(t *testing.T) {
	f := newFixture(t)
	f.trigger.err = assert.AnError
	order := f.createOrder(t, 1)

	result, err := f.svc.IngestWebhook(context.Background(), webhookPayload(t, order.ID, "settlement", "10000.00"))
	require.NoError(t, err, "payment must stand even when the dispense trigger fails")
	assert.True(t, result.Applied)

	var reloaded orderdomain.Order
	require.NoError(t, f.db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, orderdomain.StatusPendingDispense, reloaded.Status)

	var payment domain.Payment
	require.NoError(t, f.db.First(&payment, "order_id = ?", order.ID).Error)
	assert.Equal(t, domain.StatusSuccess, payment.Status)
}

func TestMapGatewayStatus_CaptureChallengeStaysPending(t *testing.T) {
	status, err := domain.MapGatewayStatus("capture", "challenge")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, status)

	status, err = domain.MapGatewayStatus("capture", "accept")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, status)

	_, err = domain.MapGatewayStatus("teleported", "")
	assert.ErrorIs(t, err, domain.ErrUnknownGatewayStatus)
}
