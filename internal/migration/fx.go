package migration

import (
	"github.com/slotworks/vendo/internal/config"
	"github.com/slotworks/vendo/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if err := RunMigrations(conn); err != nil {
			return err
		}
		if cfg.SeedDemoMachine != "" {
			return seed.EnsureDemoSlots(conn, cfg.SeedDemoMachine)
		}
		return nil
	}),
)
