package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/slotworks/vendo/internal/clock"
	"github.com/slotworks/vendo/internal/config"
	"github.com/slotworks/vendo/internal/devicebus"
	"github.com/slotworks/vendo/internal/devicebus/consumer"
	"github.com/slotworks/vendo/internal/dispense"
	"github.com/slotworks/vendo/internal/locks"
	"github.com/slotworks/vendo/internal/logger"
	"github.com/slotworks/vendo/internal/migration"
	obsmetrics "github.com/slotworks/vendo/internal/observability/metrics"
	"github.com/slotworks/vendo/internal/observability/tracing"
	"github.com/slotworks/vendo/internal/order"
	"github.com/slotworks/vendo/internal/payment"
	"github.com/slotworks/vendo/internal/ratelimit"
	"github.com/slotworks/vendo/internal/server"
	"github.com/slotworks/vendo/internal/stock"
	"github.com/slotworks/vendo/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		locks.Module,
		ratelimit.Module,
		obsmetrics.Module,
		tracing.Module,
		migration.Module,

		// Device channel
		devicebus.Module,
		consumer.Module,

		// Functional domains
		stock.Module,
		order.Module,
		payment.Module,
		dispense.Module,

		// HTTP surface
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
