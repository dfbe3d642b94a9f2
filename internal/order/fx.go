package order

import (
	"github.com/slotworks/vendo/internal/order/repository"
	orderservice "github.com/slotworks/vendo/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(orderservice.NewService),
	fx.Provide(orderservice.NewExpiryWorker),
	fx.Invoke(orderservice.RegisterExpiryWorker),
)
