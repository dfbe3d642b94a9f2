package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/slotworks/vendo/internal/clock"
	"github.com/slotworks/vendo/internal/config"
	obsmetrics "github.com/slotworks/vendo/internal/observability/metrics"
	"github.com/slotworks/vendo/internal/stock/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// casRetries bounds the compare-and-set loop; the telemetry and dispense
// writers contend on the same slot row every few seconds.
const casRetries = 5

const telemetryActor = "telemetry"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Repo     domain.Repository
	Attempts domain.OpenAttemptChecker `optional:"true"`
	Metrics  *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	attempts domain.OpenAttemptChecker
	metrics  *obsmetrics.Metrics
	deferTel bool
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("stock.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		attempts: p.Attempts,
		metrics:  p.Metrics,
		deferTel: p.Cfg.TelemetryDeferOpen,
	}
}

func (s *Service) GetSlot(ctx context.Context, machineID string, slotNumber int) (*domain.Slot, error) {
	if strings.TrimSpace(machineID) == "" {
		return nil, domain.ErrInvalidMachine
	}
	return s.repo.FindSlot(ctx, s.db, machineID, slotNumber)
}

func (s *Service) ListSlots(ctx context.Context, machineID string) ([]domain.Slot, error) {
	if strings.TrimSpace(machineID) == "" {
		return nil, domain.ErrInvalidMachine
	}
	return s.repo.ListSlots(ctx, s.db, machineID)
}

func (s *Service) Logs(ctx context.Context, machineID string, slotNumber int, limit int) ([]domain.StockLogEntry, error) {
	slot, err := s.GetSlot(ctx, machineID, slotNumber)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLogs(ctx, s.db, slot.ID, limit)
}

func (s *Service) ApplyDispense(ctx context.Context, tx *gorm.DB, slotID snowflake.ID, quantity int, orderID string) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		slot, err := s.repo.FindSlotByID(ctx, tx, slotID)
		if err != nil {
			return err
		}
		next := domain.Clamp(slot.CurrentStock-quantity, 0, slot.Capacity)

		ok, err := s.repo.CompareAndSetStock(ctx, tx, slotID, slot.CurrentStock, next)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		entry := &domain.StockLogEntry{
			ID:             s.genID.Generate(),
			SlotID:         slotID,
			OrderID:        &orderID,
			ChangeType:     domain.ChangeDispense,
			QuantityBefore: slot.CurrentStock,
			QuantityAfter:  next,
			Delta:          next - slot.CurrentStock,
			Reason:         "order dispense",
			Actor:          "dispense",
			CreatedAt:      s.clock.Now(),
		}
		if err := s.repo.AppendLog(ctx, tx, entry); err != nil {
			return err
		}
		s.metrics.IncStockWrite(string(domain.ChangeDispense))
		return nil
	}
	return domain.ErrWriteConflict
}

func (s *Service) ApplyTelemetry(ctx context.Context, machineID string, slotNumber int, level domain.Level) error {
	estimate, ok := level.Estimate()
	if !ok {
		return domain.ErrInvalidLevel
	}

	if s.deferTel && s.attempts != nil {
		open, err := s.attempts.HasOpenAttempt(ctx, machineID, slotNumber)
		if err != nil {
			return err
		}
		if open {
			s.log.Debug("telemetry deferred while dispense open",
				zap.String("machine_id", machineID),
				zap.Int("slot_number", slotNumber),
			)
			return nil
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for attempt := 0; attempt < casRetries; attempt++ {
			slot, err := s.repo.FindSlot(ctx, tx, machineID, slotNumber)
			if err != nil {
				return err
			}
			next := domain.Clamp(estimate, 0, slot.Capacity)
			if next == slot.CurrentStock {
				return nil
			}

			ok, err := s.repo.CompareAndSetStock(ctx, tx, slot.ID, slot.CurrentStock, next)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			entry := &domain.StockLogEntry{
				ID:             s.genID.Generate(),
				SlotID:         slot.ID,
				ChangeType:     domain.ChangeAudit,
				QuantityBefore: slot.CurrentStock,
				QuantityAfter:  next,
				Delta:          next - slot.CurrentStock,
				Reason:         fmt.Sprintf("telemetry level %s", level),
				Actor:          telemetryActor,
				CreatedAt:      s.clock.Now(),
			}
			if err := s.repo.AppendLog(ctx, tx, entry); err != nil {
				return err
			}
			s.metrics.IncStockWrite(string(domain.ChangeAudit))
			return nil
		}
		return domain.ErrWriteConflict
	})
}

func (s *Service) SetStock(ctx context.Context, req domain.SetStockRequest) (*domain.Slot, error) {
	if strings.TrimSpace(req.MachineID) == "" {
		return nil, domain.ErrInvalidMachine
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, domain.ErrInvalidActor
	}

	var updated *domain.Slot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for attempt := 0; attempt < casRetries; attempt++ {
			slot, err := s.repo.FindSlot(ctx, tx, req.MachineID, req.SlotNumber)
			if err != nil {
				return err
			}
			target := domain.Clamp(req.Target, 0, slot.Capacity)
			delta := target - slot.CurrentStock
			if delta == 0 {
				updated = slot
				return nil
			}

			ok, err := s.repo.CompareAndSetStock(ctx, tx, slot.ID, slot.CurrentStock, target)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			changeType := domain.ChangeRestock
			if delta < 0 {
				changeType = domain.ChangeManualAdjust
			}
			entry := &domain.StockLogEntry{
				ID:             s.genID.Generate(),
				SlotID:         slot.ID,
				ChangeType:     changeType,
				QuantityBefore: slot.CurrentStock,
				QuantityAfter:  target,
				Delta:          delta,
				Reason:         req.Reason,
				Actor:          req.Actor,
				CreatedAt:      s.clock.Now(),
			}
			if err := s.repo.AppendLog(ctx, tx, entry); err != nil {
				return err
			}
			s.metrics.IncStockWrite(string(changeType))

			slot.CurrentStock = target
			updated = slot
			return nil
		}
		return domain.ErrWriteConflict
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("stock set",
		zap.String("machine_id", req.MachineID),
		zap.Int("slot_number", req.SlotNumber),
		zap.Int("target", req.Target),
		zap.String("actor", req.Actor),
	)
	return updated, nil
}
