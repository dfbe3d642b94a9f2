package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/slotworks/vendo/internal/clock"
	"github.com/slotworks/vendo/internal/config"
	"github.com/slotworks/vendo/internal/order/domain"
	orderrepository "github.com/slotworks/vendo/internal/order/repository"
	paymentdomain "github.com/slotworks/vendo/internal/payment/domain"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	stockrepository "github.com/slotworks/vendo/internal/stock/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Order{},
		&domain.OrderItem{},
		&paymentdomain.Payment{},
		&stockdomain.Slot{},
		&stockdomain.StockLogEntry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Cfg:   config.Config{Gateway: "midtrans", OrderExpiry: 15 * time.Minute},
		Repo:  orderrepository.Provide(),
		Slots: stockrepository.Provide(),
	})
	return svc, db, fake
}

// Slot ids come from one shared node: two nodes with the same node id
// generate colliding ids when they run within the same millisecond.
var slotIDs = func() *snowflake.Node {
	n, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return n
}()

func seedSlot(t *testing.T, db *gorm.DB, number, stock int, price int64, active bool) *stockdomain.Slot {
	t.Helper()
	slot := &stockdomain.Slot{
		ID:           slotIDs.Generate(),
		MachineID:    "VM-001",
		SlotNumber:   number,
		ProductName:  "Iced Tea",
		BasePrice:    price,
		CurrentStock: stock,
		Capacity:     10,
		Active:       active,
	}
	require.NoError(t, db.Create(slot).Error)
	return slot
}

func TestCreate_SnapshotsPriceAndOpensPayment(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedSlot(t, db, 1, 5, 10000, true)

	order, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:     "VM-001",
		SlotNumber:    1,
		Quantity:      2,
		PaymentMethod: "qris",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(order.ID, "ORD-20250601-"), order.ID)
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.Equal(t, int64(20000), order.TotalAmount)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC), order.ExpiresAt)

	var payment paymentdomain.Payment
	require.NoError(t, db.First(&payment, "order_id = ?", order.ID).Error)
	assert.Equal(t, paymentdomain.StatusPending, payment.Status)
	assert.Equal(t, int64(20000), payment.Amount)
}

func TestCreate_UsesPriceOverride(t *testing.T) {
	svc, db, _ := newTestService(t)
	slot := seedSlot(t, db, 1, 5, 10000, true)
	override := int64(7500)
	require.NoError(t, db.Model(slot).Update("price_override", override).Error)

	order, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7500), order.TotalAmount)
}

func TestCreate_RejectsInsufficientStock(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedSlot(t, db, 1, 1, 10000, true)

	_, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   2,
	})
	assert.ErrorIs(t, err, domain.ErrStockInsufficient)

	var count int64
	require.NoError(t, db.Model(&domain.Order{}).Count(&count).Error)
	assert.Zero(t, count, "rejected order must not leave rows behind")
}

func TestCreate_RejectsInactiveSlot(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedSlot(t, db, 1, 5, 10000, false)

	_, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	assert.ErrorIs(t, err, domain.ErrProductInactive)
}

func TestCreate_RejectsUnknownSlot(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 9,
		Quantity:   1,
	})
	assert.ErrorIs(t, err, stockdomain.ErrSlotNotFound)
}

func TestCreateMulti_TotalsAcrossItems(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedSlot(t, db, 1, 5, 10000, true)
	seedSlot(t, db, 2, 5, 15000, true)

	order, err := svc.CreateMulti(context.Background(), domain.CreateMultiRequest{
		MachineID: "VM-001",
		Items: []domain.CreateMultiItem{
			{SlotNumber: 1, Quantity: 2},
			{SlotNumber: 2, Quantity: 1},
		},
		PaymentMethod: "qris",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(35000), order.TotalAmount)
	assert.Equal(t, 3, order.Quantity)

	items, err := svc.Items(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(20000), items[0].LineTotal)
	assert.Equal(t, int64(15000), items[1].LineTotal)
}

func TestCreateMulti_AllOrNothing(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedSlot(t, db, 1, 5, 10000, true)
	seedSlot(t, db, 2, 0, 15000, true)

	_, err := svc.CreateMulti(context.Background(), domain.CreateMultiRequest{
		MachineID: "VM-001",
		Items: []domain.CreateMultiItem{
			{SlotNumber: 1, Quantity: 1},
			{SlotNumber: 2, Quantity: 1},
		},
	})
	assert.ErrorIs(t, err, domain.ErrStockInsufficient)

	var count int64
	require.NoError(t, db.Model(&domain.OrderItem{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGet_LazyExpiryFailsOverduePending(t *testing.T) {
	svc, db, fake := newTestService(t)
	seedSlot(t, db, 1, 5, 10000, true)

	order, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)

	fake.Advance(16 * time.Minute)

	got, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestGet_PendingWithinWindowUntouched(t *testing.T) {
	svc, db, fake := newTestService(t)
	seedSlot(t, db, 1, 5, 10000, true)

	order, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)

	fake.Advance(14 * time.Minute)

	got, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestExpireOverdue_SweepsOnlyOverduePending(t *testing.T) {
	svc, db, fake := newTestService(t)
	seedSlot(t, db, 1, 5, 10000, true)

	stale, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)

	fake.Advance(10 * time.Minute)
	fresh, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)

	fake.Advance(6 * time.Minute)

	expired, err := svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	// Fresh structs per lookup: gorm keeps a loaded primary key as a query
	// condition, so reusing one across ids finds nothing.
	var staleReloaded domain.Order
	require.NoError(t, db.First(&staleReloaded, "id = ?", stale.ID).Error)
	assert.Equal(t, domain.StatusFailed, staleReloaded.Status)

	var freshReloaded domain.Order
	require.NoError(t, db.First(&freshReloaded, "id = ?", fresh.ID).Error)
	assert.Equal(t, domain.StatusPending, freshReloaded.Status)
}

func TestTransitions_EnforceStateMachine(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedSlot(t, db, 1, 5, 10000, true)

	order, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)

	// PENDING -> DISPENSING skips PAID and must be rejected.
	err = svc.MarkDispensing(context.Background(), order.ID)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	require.NoError(t, svc.MarkPaid(context.Background(), order.ID))
	require.NoError(t, svc.MarkDispensing(context.Background(), order.ID))
	require.NoError(t, svc.MarkTerminal(context.Background(), order.ID, domain.StatusCompleted))

	// Terminal states accept nothing further.
	err = svc.MarkPaid(context.Background(), order.ID)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	var reloaded domain.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, domain.StatusCompleted, reloaded.Status)
	assert.NotNil(t, reloaded.PaidAt)
	assert.NotNil(t, reloaded.DispensedAt)
}

func TestMarkTerminal_RejectsNonTerminalOutcome(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.MarkTerminal(context.Background(), "ORD-X", domain.StatusPaid)
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestPendingDispenseRoundTrip(t *testing.T) {
	svc, db, _ := newTestService(t)
	seedSlot(t, db, 1, 5, 10000, true)

	order, err := svc.Create(context.Background(), domain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkPaid(context.Background(), order.ID))
	require.NoError(t, svc.MarkPendingDispense(context.Background(), order.ID, "device channel unavailable"))
	require.NoError(t, svc.MarkDispensing(context.Background(), order.ID))

	var reloaded domain.Order
	require.NoError(t, db.First(&reloaded, "id = ?", order.ID).Error)
	assert.Equal(t, domain.StatusDispensing, reloaded.Status)
}
