package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/slotworks/vendo/internal/clock"
	"github.com/slotworks/vendo/internal/config"
	"github.com/slotworks/vendo/internal/devicebus"
	"github.com/slotworks/vendo/internal/devicebus/consumer"
	dispensedomain "github.com/slotworks/vendo/internal/dispense/domain"
	dispenserepository "github.com/slotworks/vendo/internal/dispense/repository"
	dispenseservice "github.com/slotworks/vendo/internal/dispense/service"
	orderdomain "github.com/slotworks/vendo/internal/order/domain"
	orderrepository "github.com/slotworks/vendo/internal/order/repository"
	orderservice "github.com/slotworks/vendo/internal/order/service"
	paymentdomain "github.com/slotworks/vendo/internal/payment/domain"
	paymentrepository "github.com/slotworks/vendo/internal/payment/repository"
	paymentservice "github.com/slotworks/vendo/internal/payment/service"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	stockrepository "github.com/slotworks/vendo/internal/stock/repository"
	stockservice "github.com/slotworks/vendo/internal/stock/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serverKey = "e2e-server-key"

// flakyBus delegates to a MemoryBus but refuses publishes while down, which
// simulates a broker outage without tearing the bus apart.
type flakyBus struct {
	inner *devicebus.MemoryBus
	down  bool
}

func (b *flakyBus) Publish(ctx context.Context, machineID string, t devicebus.MessageType, message any) error {
	if b.down {
		return devicebus.ErrUnavailable
	}
	return b.inner.Publish(ctx, machineID, t, message)
}

func (b *flakyBus) Subscribe(ctx context.Context, t devicebus.MessageType, h devicebus.Handler) error {
	return b.inner.Subscribe(ctx, t, h)
}

func (b *flakyBus) Close() error { return b.inner.Close() }

type env struct {
	db       *gorm.DB
	fake     *clock.FakeClock
	bus      *flakyBus
	orders   orderdomain.Service
	payments paymentdomain.Service
	dispense dispensedomain.Service
	stock    stockdomain.Service
	slot     *stockdomain.Slot
}

// machineBehavior scripts the simulated device's reply to a command.
type machineBehavior struct {
	success      bool
	dropDetected bool
	errText      string
	silent       bool
}

func newEnv(t *testing.T, behavior *machineBehavior) *env {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&paymentdomain.Payment{},
		&stockdomain.Slot{},
		&stockdomain.StockLogEntry{},
		&dispensedomain.DispenseLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	cfg := config.Config{
		Gateway:            "midtrans",
		GatewayServerKey:   serverKey,
		OrderExpiry:        15 * time.Minute,
		DispenseTimeout:    5 * time.Second,
		DispenseSafety:     1.5,
		TelemetryDeferOpen: true,
	}
	log := zap.NewNop()

	bus := &flakyBus{inner: devicebus.NewMemoryBus()}

	stockRepo := stockrepository.Provide()
	dispenseRepo := dispenserepository.Provide()
	orderRepo := orderrepository.Provide()

	stockSvc := stockservice.NewService(stockservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Cfg:      cfg,
		Repo:     stockRepo,
		Attempts: dispenserepository.ProvideChecker(db, dispenseRepo),
	})

	orders := orderservice.NewService(orderservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Cfg:   cfg,
		Repo:  orderRepo,
		Slots: stockRepo,
	})

	dispenseSvc := dispenseservice.NewService(dispenseservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Cfg:      cfg,
		Repo:     dispenseRepo,
		OrderRep: orderRepo,
		Slots:    stockRepo,
		Stock:    stockSvc,
		Bus:      bus,
	})

	payments := paymentservice.NewService(paymentservice.Params{
		DB:       db,
		Log:      log,
		Clock:    fake,
		Cfg:      cfg,
		Repo:     paymentrepository.Provide(),
		Orders:   orders,
		OrderRep: orderRepo,
		Dispense: dispenseSvc,
	})

	routing := consumer.New(consumer.Params{
		Log:      log,
		Bus:      bus,
		Stock:    stockSvc,
		Dispense: dispenseSvc,
	})
	require.NoError(t, routing.Start(context.Background()))

	// The simulated machine: reply to each command with the scripted result.
	if behavior != nil && !behavior.silent {
		err = bus.Subscribe(context.Background(), devicebus.TypeCommand, func(ctx context.Context, machineID string, payload []byte) {
			var cmd devicebus.DispenseCommand
			require.NoError(t, json.Unmarshal(payload, &cmd))
			result := devicebus.DispenseResult{
				OrderID:      cmd.OrderID,
				Slot:         cmd.Slot,
				Success:      behavior.success,
				DropDetected: behavior.dropDetected,
				DurationMs:   2700,
				Error:        behavior.errText,
			}
			require.NoError(t, bus.Publish(ctx, machineID, devicebus.TypeDispenseResult, result))
		})
		require.NoError(t, err)
	}

	slotNode, err := snowflake.NewNode(2)
	require.NoError(t, err)
	slot := &stockdomain.Slot{
		ID:              slotNode.Generate(),
		MachineID:       "VM-001",
		SlotNumber:      1,
		ProductName:     "Iced Tea",
		BasePrice:       10000,
		CurrentStock:    5,
		Capacity:        10,
		Active:          true,
		MotorDurationMs: 3000,
	}
	require.NoError(t, db.Create(slot).Error)

	return &env{
		db:       db,
		fake:     fake,
		bus:      bus,
		orders:   orders,
		payments: payments,
		dispense: dispenseSvc,
		stock:    stockSvc,
		slot:     slot,
	}
}

func (e *env) settle(t *testing.T, orderID string, amount string) (*paymentdomain.Result, error) {
	t.Helper()
	n := paymentdomain.GatewayNotification{
		OrderID:           orderID,
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       amount,
		TransactionID:     "txn-e2e",
	}
	n.SignatureKey = paymentdomain.Signature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	payload, err := json.Marshal(n)
	require.NoError(t, err)
	return e.payments.IngestWebhook(context.Background(), payload)
}

func TestPurchaseFlow_HappyPath(t *testing.T) {
	e := newEnv(t, &machineBehavior{success: true, dropDetected: true})

	order, err := e.orders.Create(context.Background(), orderdomain.CreateRequest{
		MachineID:     "VM-001",
		SlotNumber:    1,
		Quantity:      2,
		PaymentMethod: "qris",
	})
	require.NoError(t, err)

	result, err := e.settle(t, order.ID, "20000.00")
	require.NoError(t, err)
	assert.True(t, result.Applied)

	// The synchronous bus walks payment -> trigger -> machine -> confirm
	// before the webhook call returns.
	final, err := e.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusCompleted, final.Status)
	assert.NotNil(t, final.PaidAt)
	assert.NotNil(t, final.DispensedAt)

	var slot stockdomain.Slot
	require.NoError(t, e.db.First(&slot, "id = ?", e.slot.ID).Error)
	assert.Equal(t, 3, slot.CurrentStock)

	logs, err := e.dispense.Logs(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Open())
	assert.True(t, logs[0].Success)
	assert.True(t, logs[0].DropDetected)
}

func TestPurchaseFlow_PhantomDispenseFails(t *testing.T) {
	e := newEnv(t, &machineBehavior{success: true, dropDetected: false})

	order, err := e.orders.Create(context.Background(), orderdomain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)

	_, err = e.settle(t, order.ID, "10000.00")
	require.NoError(t, err)

	final, err := e.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusFailed, final.Status)

	var slot stockdomain.Slot
	require.NoError(t, e.db.First(&slot, "id = ?", e.slot.ID).Error)
	assert.Equal(t, 5, slot.CurrentStock)
}

func TestPurchaseFlow_BrokerOutageThenOperatorRetry(t *testing.T) {
	e := newEnv(t, &machineBehavior{success: true, dropDetected: true})

	order, err := e.orders.Create(context.Background(), orderdomain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)

	e.bus.down = true
	result, err := e.settle(t, order.ID, "10000.00")
	require.NoError(t, err, "payment must settle even with the device channel down")
	assert.True(t, result.Applied)

	parked, err := e.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusPendingDispense, parked.Status)

	e.bus.down = false
	require.NoError(t, e.dispense.Retry(context.Background(), order.ID))

	final, err := e.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusCompleted, final.Status)

	var slot stockdomain.Slot
	require.NoError(t, e.db.First(&slot, "id = ?", e.slot.ID).Error)
	assert.Equal(t, 4, slot.CurrentStock)
}

func TestPurchaseFlow_TimeoutWithoutConfirmation(t *testing.T) {
	e := newEnv(t, &machineBehavior{silent: true})

	order, err := e.orders.Create(context.Background(), orderdomain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)

	_, err = e.settle(t, order.ID, "10000.00")
	require.NoError(t, err)

	mid, err := e.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusDispensing, mid.Status)

	e.fake.Advance(10 * time.Second)
	reaped, err := e.dispense.ReapStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	final, err := e.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusFailed, final.Status)
}

func TestTelemetry_UpdatesStockOverBus(t *testing.T) {
	e := newEnv(t, nil)

	report := devicebus.TelemetryReport{
		Slots: []devicebus.TelemetrySlot{{ID: 1, Level: "LOW"}},
	}
	require.NoError(t, e.bus.Publish(context.Background(), "VM-001", devicebus.TypeTelemetry, report))

	var slot stockdomain.Slot
	require.NoError(t, e.db.First(&slot, "id = ?", e.slot.ID).Error)
	assert.Equal(t, 2, slot.CurrentStock)

	var logs []stockdomain.StockLogEntry
	require.NoError(t, e.db.Where("slot_id = ?", e.slot.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, stockdomain.ChangeAudit, logs[0].ChangeType)
}

func TestTelemetry_DeferredWhileDispenseInFlight(t *testing.T) {
	e := newEnv(t, &machineBehavior{silent: true})

	order, err := e.orders.Create(context.Background(), orderdomain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)
	_, err = e.settle(t, order.ID, "10000.00")
	require.NoError(t, err)

	// An open attempt exists; the report must be dropped, not applied.
	report := devicebus.TelemetryReport{
		Slots: []devicebus.TelemetrySlot{{ID: 1, Level: "EMPTY"}},
	}
	require.NoError(t, e.bus.Publish(context.Background(), "VM-001", devicebus.TypeTelemetry, report))

	var slot stockdomain.Slot
	require.NoError(t, e.db.First(&slot, "id = ?", e.slot.ID).Error)
	assert.Equal(t, 5, slot.CurrentStock)
}

func TestManualVerify_RecoversLostWebhook(t *testing.T) {
	e := newEnv(t, &machineBehavior{success: true, dropDetected: true})

	order, err := e.orders.Create(context.Background(), orderdomain.CreateRequest{
		MachineID:  "VM-001",
		SlotNumber: 1,
		Quantity:   1,
	})
	require.NoError(t, err)

	result, err := e.payments.VerifyManual(context.Background(), order.ID, "operator-7")
	require.NoError(t, err)
	assert.True(t, result.Applied)

	final, err := e.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StatusCompleted, final.Status)
}
