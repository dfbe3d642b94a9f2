package payment

import (
	"github.com/slotworks/vendo/internal/payment/repository"
	paymentservice "github.com/slotworks/vendo/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(paymentservice.NewService),
)
