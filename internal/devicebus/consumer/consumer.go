package consumer

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/slotworks/vendo/internal/devicebus"
	dispensedomain "github.com/slotworks/vendo/internal/dispense/domain"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Consumer routes inbound machine messages to the owning services. One
// subscription per message type, pattern-matched over all machines.
type Consumer struct {
	log      *zap.Logger
	bus      devicebus.Bus
	stock    stockdomain.Service
	dispense dispensedomain.Service
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Bus      devicebus.Bus
	Stock    stockdomain.Service
	Dispense dispensedomain.Service
}

func New(p Params) *Consumer {
	return &Consumer{
		log:      p.Log.Named("devicebus.consumer"),
		bus:      p.Bus,
		stock:    p.Stock,
		dispense: p.Dispense,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	if err := c.bus.Subscribe(ctx, devicebus.TypeDispenseResult, c.onDispenseResult); err != nil {
		return err
	}
	if err := c.bus.Subscribe(ctx, devicebus.TypeTelemetry, c.onTelemetry); err != nil {
		return err
	}
	return c.bus.Subscribe(ctx, devicebus.TypeStatus, c.onStatus)
}

func (c *Consumer) onDispenseResult(ctx context.Context, machineID string, payload []byte) {
	var result devicebus.DispenseResult
	if err := json.Unmarshal(payload, &result); err != nil {
		c.log.Warn("malformed dispense result dropped",
			zap.String("machine_id", machineID),
			zap.Error(err),
		)
		return
	}
	if strings.TrimSpace(result.OrderID) == "" {
		c.log.Warn("dispense result without order id dropped",
			zap.String("machine_id", machineID),
		)
		return
	}

	err := c.dispense.Confirm(ctx, dispensedomain.ConfirmRequest{
		OrderID:      result.OrderID,
		SlotNumber:   result.Slot,
		Success:      result.Success,
		DropDetected: result.DropDetected,
		DurationMs:   result.DurationMs,
		Error:        result.Error,
	})
	if err != nil {
		c.log.Error("dispense result not applied",
			zap.String("machine_id", machineID),
			zap.String("order_id", result.OrderID),
			zap.Error(err),
		)
	}
}

func (c *Consumer) onTelemetry(ctx context.Context, machineID string, payload []byte) {
	var report devicebus.TelemetryReport
	if err := json.Unmarshal(payload, &report); err != nil {
		c.log.Warn("malformed telemetry dropped",
			zap.String("machine_id", machineID),
			zap.Error(err),
		)
		return
	}

	for _, slot := range report.Slots {
		level := stockdomain.Level(strings.ToUpper(strings.TrimSpace(slot.Level)))
		if err := c.stock.ApplyTelemetry(ctx, machineID, slot.ID, level); err != nil {
			c.log.Warn("telemetry not applied",
				zap.String("machine_id", machineID),
				zap.Int("slot_number", slot.ID),
				zap.String("level", string(level)),
				zap.Error(err),
			)
		}
	}
}

func (c *Consumer) onStatus(ctx context.Context, machineID string, payload []byte) {
	var report devicebus.StatusReport
	if err := json.Unmarshal(payload, &report); err != nil {
		c.log.Warn("malformed status report dropped",
			zap.String("machine_id", machineID),
			zap.Error(err),
		)
		return
	}
	c.log.Info("machine status",
		zap.String("machine_id", machineID),
		zap.String("status", report.Status),
		zap.String("door", report.Door),
		zap.Int("rssi", report.RSSI),
		zap.String("fw", report.FW),
	)
}

func Register(lc fx.Lifecycle, c *Consumer) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return c.Start(context.Background())
		},
	})
}

var Module = fx.Module("devicebus.consumer",
	fx.Provide(New),
	fx.Invoke(Register),
)
