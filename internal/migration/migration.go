package migration

import (
	"errors"

	dispensedomain "github.com/slotworks/vendo/internal/dispense/domain"
	orderdomain "github.com/slotworks/vendo/internal/order/domain"
	paymentdomain "github.com/slotworks/vendo/internal/payment/domain"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	"gorm.io/gorm"
)

// RunMigrations creates the engine's tables so a fresh database is usable out
// of the box across all supported dialects. The schema is small and additive;
// gorm's AutoMigrate handles it without a versioned migration chain.
func RunMigrations(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	return db.AutoMigrate(
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&paymentdomain.Payment{},
		&stockdomain.Slot{},
		&stockdomain.StockLogEntry{},
		&dispensedomain.DispenseLog{},
	)
}
