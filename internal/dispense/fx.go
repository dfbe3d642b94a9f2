package dispense

import (
	"github.com/slotworks/vendo/internal/dispense/domain"
	"github.com/slotworks/vendo/internal/dispense/repository"
	dispenseservice "github.com/slotworks/vendo/internal/dispense/service"
	paymentdomain "github.com/slotworks/vendo/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("dispense.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideChecker),
	fx.Provide(dispenseservice.NewService),
	fx.Provide(func(s domain.Service) paymentdomain.DispenseTrigger { return s }),
	fx.Provide(dispenseservice.NewReapWorker),
	fx.Invoke(dispenseservice.RegisterReapWorker),
)
