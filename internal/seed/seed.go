package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	"gorm.io/gorm"
)

type demoSlot struct {
	number   int
	product  string
	price    int64
	stock    int
	capacity int
	motorMs  int
}

var demoLayout = []demoSlot{
	{number: 1, product: "Sparkling Water 330ml", price: 8000, stock: 10, capacity: 10, motorMs: 3000},
	{number: 2, product: "Iced Tea 350ml", price: 10000, stock: 8, capacity: 10, motorMs: 3000},
	{number: 3, product: "Potato Chips 45g", price: 12000, stock: 6, capacity: 8, motorMs: 4500},
	{number: 4, product: "Chocolate Bar", price: 15000, stock: 8, capacity: 12, motorMs: 2500},
	{number: 5, product: "Instant Coffee Can", price: 13000, stock: 10, capacity: 10, motorMs: 3500},
	{number: 6, product: "Energy Drink 250ml", price: 18000, stock: 5, capacity: 10, motorMs: 3000},
}

// EnsureDemoSlots seeds a demo slot layout for one machine so a fresh local
// install can take orders immediately. Existing slots are left untouched.
func EnsureDemoSlots(db *gorm.DB, machineID string) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range demoLayout {
			var count int64
			err := tx.Model(&stockdomain.Slot{}).
				Where("machine_id = ? AND slot_number = ?", machineID, s.number).
				Count(&count).Error
			if err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			slot := stockdomain.Slot{
				ID:              node.Generate(),
				MachineID:       machineID,
				SlotNumber:      s.number,
				ProductName:     s.product,
				BasePrice:       s.price,
				CurrentStock:    s.stock,
				Capacity:        s.capacity,
				Active:          true,
				MotorDurationMs: s.motorMs,
			}
			if err := tx.Create(&slot).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
