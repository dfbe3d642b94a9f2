package stock

import (
	"github.com/slotworks/vendo/internal/stock/repository"
	"github.com/slotworks/vendo/internal/stock/service"
	"go.uber.org/fx"
)

var Module = fx.Module("stock.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
