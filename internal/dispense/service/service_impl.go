package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/slotworks/vendo/internal/clock"
	"github.com/slotworks/vendo/internal/config"
	"github.com/slotworks/vendo/internal/devicebus"
	"github.com/slotworks/vendo/internal/dispense/domain"
	obsmetrics "github.com/slotworks/vendo/internal/observability/metrics"
	orderdomain "github.com/slotworks/vendo/internal/order/domain"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minTimeout = 2 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Repo     domain.Repository
	OrderRep orderdomain.Repository
	Slots    stockdomain.Repository
	Stock    stockdomain.Service
	Bus      devicebus.Bus
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	orderRep orderdomain.Repository
	slots    stockdomain.Repository
	stock    stockdomain.Service
	bus      devicebus.Bus
	metrics  *obsmetrics.Metrics

	defaultTimeout time.Duration
	safety         float64

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewService(p Params) domain.Service {
	safety := p.Cfg.DispenseSafety
	if safety < 1 {
		safety = 1.5
	}
	defaultTimeout := p.Cfg.DispenseTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("dispense.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		orderRep:       p.OrderRep,
		slots:          p.Slots,
		stock:          p.Stock,
		bus:            p.Bus,
		metrics:        p.Metrics,
		defaultTimeout: defaultTimeout,
		safety:         safety,
		timers:         make(map[string]*time.Timer),
	}
}

// attemptPlan is one pending command: the slot resolved and the timeout
// computed before any row is written.
type attemptPlan struct {
	slot     *stockdomain.Slot
	quantity int
	timeout  time.Duration
}

func (s *Service) Trigger(ctx context.Context, orderID string) error {
	order, err := s.orderRep.FindByID(ctx, s.db, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case orderdomain.StatusPaid, orderdomain.StatusPendingDispense:
	default:
		s.log.Warn("dispense trigger rejected",
			zap.String("order_id", orderID),
			zap.String("status", string(order.Status)),
		)
		return orderdomain.ErrStateConflict
	}

	plans, err := s.planAttempts(ctx, order)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	attempts := make([]*domain.DispenseLog, 0, len(plans))
	for _, plan := range plans {
		deadline := now.Add(time.Duration(float64(plan.timeout) * s.safety))
		attempts = append(attempts, &domain.DispenseLog{
			ID:            s.genID.Generate(),
			OrderID:       order.ID,
			MachineID:     order.MachineID,
			SlotID:        plan.slot.ID,
			SlotNumber:    plan.slot.SlotNumber,
			Quantity:      plan.quantity,
			TimeoutMs:     int(plan.timeout / time.Millisecond),
			CommandSentAt: now,
			DeadlineAt:    deadline,
		})
	}

	// The conditional transition is the only-once gate: of two racing
	// triggers, the loser sees zero rows and stops here.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.orderRep.Transition(ctx, tx, order.ID,
			[]orderdomain.Status{orderdomain.StatusPaid, orderdomain.StatusPendingDispense},
			orderdomain.StatusDispensing,
			nil,
		)
		if err != nil {
			return err
		}
		if !ok {
			return orderdomain.ErrStateConflict
		}
		return s.repo.OpenAttempts(ctx, tx, attempts)
	})
	if err != nil {
		return err
	}

	for _, attempt := range attempts {
		s.armTimer(attempt)
	}

	for i, attempt := range attempts {
		cmd := devicebus.DispenseCommand{
			Cmd:       "dispense",
			Slot:      attempt.SlotNumber,
			OrderID:   attempt.OrderID,
			TimeoutMs: attempt.TimeoutMs,
		}
		if err := s.bus.Publish(ctx, attempt.MachineID, devicebus.TypeCommand, cmd); err != nil {
			s.log.Error("dispense command publish failed",
				zap.String("order_id", order.ID),
				zap.Int("slot_number", attempt.SlotNumber),
				zap.Error(err),
			)
			// Commands before index i reached the device; their attempts
			// stay open and settle through confirm or timeout.
			s.abandon(ctx, order.ID, attempts[i:], i == 0)
			return domain.ErrDownstreamUnavailable
		}
	}

	s.log.Info("dispense commands sent",
		zap.String("order_id", order.ID),
		zap.String("machine_id", order.MachineID),
		zap.Int("commands", len(attempts)),
	)
	return nil
}

func (s *Service) Retry(ctx context.Context, orderID string) error {
	s.log.Info("manual dispense retry", zap.String("order_id", orderID))
	return s.Trigger(ctx, orderID)
}

func (s *Service) Confirm(ctx context.Context, req domain.ConfirmRequest) error {
	return s.close(ctx, req, false)
}

func (s *Service) Logs(ctx context.Context, orderID string) ([]domain.DispenseLog, error) {
	return s.repo.ListByOrder(ctx, s.db, orderID)
}

func (s *Service) ReapStale(ctx context.Context) (int, error) {
	stale, err := s.repo.ListStaleOpen(ctx, s.db, s.clock.Now(), 100)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, attempt := range stale {
		req := domain.ConfirmRequest{
			OrderID:    attempt.OrderID,
			SlotNumber: attempt.SlotNumber,
			Error:      domain.TimeoutError,
		}
		if err := s.close(ctx, req, true); err != nil {
			s.log.Error("failed to reap stale attempt",
				zap.String("order_id", attempt.OrderID),
				zap.Int("slot_number", attempt.SlotNumber),
				zap.Error(err),
			)
			continue
		}
		reaped++
	}
	return reaped, nil
}

// close settles one attempt and resolves the order. Confirmation and timeout
// race through the same conditional close, so exactly one of them applies.
func (s *Service) close(ctx context.Context, req domain.ConfirmRequest, timedOut bool) error {
	attempt, err := s.repo.FindOpen(ctx, s.db, req.OrderID, req.SlotNumber)
	if err != nil {
		return err
	}
	if attempt == nil {
		// Duplicate confirmation for a closed attempt: accepted, ignored.
		s.log.Debug("confirmation for closed attempt ignored",
			zap.String("order_id", req.OrderID),
			zap.Int("slot_number", req.SlotNumber),
		)
		return nil
	}

	// COMPLETED requires both flags; mechanical success without a confirmed
	// physical drop counts as failure so a phantom dispense never clears
	// stock or the order.
	effective := req.Success && req.DropDetected
	now := s.clock.Now()

	closed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.CloseAttempt(ctx, tx, attempt.ID, now, req.Success, req.DropDetected, req.DurationMs, req.Error)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		closed = true

		if effective {
			if err := s.stock.ApplyDispense(ctx, tx, attempt.SlotID, attempt.Quantity, attempt.OrderID); err != nil {
				return err
			}
		}

		// The order resolves only when its last attempt settles; a sibling
		// still waiting on the machine keeps it in DISPENSING either way.
		open, err := s.repo.CountOpenByOrder(ctx, tx, attempt.OrderID)
		if err != nil {
			return err
		}
		if open > 0 {
			return nil
		}

		anyFailed, err := s.repo.AnyFailedByOrder(ctx, tx, attempt.OrderID)
		if err != nil {
			return err
		}
		if anyFailed {
			// Device-reported failure is terminal for the order; the
			// physical action is never retried automatically to avoid
			// double-dispensing.
			note := failureNote(req, timedOut)
			if effective {
				note = "dispense failed on another slot"
			}
			_, err = s.orderRep.Transition(ctx, tx, attempt.OrderID,
				[]orderdomain.Status{orderdomain.StatusDispensing},
				orderdomain.StatusFailed,
				map[string]any{"notes": note},
			)
			return err
		}

		unfulfilled, err := s.repo.UnfulfilledSlots(ctx, tx, attempt.OrderID)
		if err != nil {
			return err
		}
		if len(unfulfilled) == 0 {
			_, err = s.orderRep.Transition(ctx, tx, attempt.OrderID,
				orderdomain.Predecessors(orderdomain.StatusCompleted),
				orderdomain.StatusCompleted,
				map[string]any{"dispensed_at": now},
			)
			return err
		}

		// Some commands never reached the device; park for an operator retry.
		_, err = s.orderRep.Transition(ctx, tx, attempt.OrderID,
			[]orderdomain.Status{orderdomain.StatusDispensing},
			orderdomain.StatusPendingDispense,
			map[string]any{"notes": domain.PublishError},
		)
		return err
	})
	if err != nil {
		return err
	}
	if !closed {
		return nil
	}

	s.disarmTimer(req.OrderID, req.SlotNumber)
	s.recordOutcome(req, effective, timedOut)
	return nil
}

func (s *Service) planAttempts(ctx context.Context, order *orderdomain.Order) ([]attemptPlan, error) {
	items, err := s.orderRep.FindItems(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}

	type line struct {
		slotNumber int
		quantity   int
	}
	var lines []line
	if len(items) == 0 {
		lines = []line{{slotNumber: order.SlotNumber, quantity: order.Quantity}}
	} else {
		for _, item := range items {
			lines = append(lines, line{slotNumber: item.SlotNumber, quantity: item.Quantity})
		}
	}

	// A line that already dropped its item is never re-commanded: a retry
	// covers only the lines an earlier publish failure left behind.
	fulfilled, err := s.repo.FulfilledSlots(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(fulfilled))
	for _, n := range fulfilled {
		done[n] = true
	}

	plans := make([]attemptPlan, 0, len(lines))
	for _, l := range lines {
		if done[l.slotNumber] {
			continue
		}
		slot, err := s.slots.FindSlot(ctx, s.db, order.MachineID, l.slotNumber)
		if err != nil {
			return nil, err
		}
		timeout := s.defaultTimeout
		if slot.MotorDurationMs > 0 {
			timeout = time.Duration(slot.MotorDurationMs) * time.Millisecond
		}
		if timeout < minTimeout {
			timeout = minTimeout
		}
		plans = append(plans, attemptPlan{slot: slot, quantity: l.quantity, timeout: timeout})
	}
	if len(plans) == 0 {
		return nil, domain.ErrNoSlotsForOrder
	}
	return plans, nil
}

// abandon closes the attempts whose command never reached the device after a
// publish failure. Attempts already delivered are not touched: the machine may
// be acting on them, so they settle through their own confirm or timeout.
// When nothing was delivered the order parks straight back in
// PENDING_DISPENSE; otherwise the last settling attempt parks or resolves it.
// The recorded reason keeps the audit trail honest.
func (s *Service) abandon(ctx context.Context, orderID string, unsent []*domain.DispenseLog, park bool) {
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, attempt := range unsent {
			s.disarmTimer(attempt.OrderID, attempt.SlotNumber)
			if _, err := s.repo.CloseAttempt(ctx, tx, attempt.ID, now, false, false, 0, domain.PublishError); err != nil {
				return err
			}
		}
		if !park {
			return nil
		}
		_, err := s.orderRep.Transition(ctx, tx, orderID,
			[]orderdomain.Status{orderdomain.StatusDispensing},
			orderdomain.StatusPendingDispense,
			map[string]any{"notes": domain.PublishError},
		)
		return err
	})
	if err != nil {
		s.log.Error("failed to abandon dispense attempts",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

func (s *Service) armTimer(attempt *domain.DispenseLog) {
	key := timerKey(attempt.OrderID, attempt.SlotNumber)
	wait := time.Duration(float64(time.Duration(attempt.TimeoutMs)*time.Millisecond) * s.safety)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	orderID, slotNumber := attempt.OrderID, attempt.SlotNumber
	s.timers[key] = time.AfterFunc(wait, func() {
		req := domain.ConfirmRequest{
			OrderID:    orderID,
			SlotNumber: slotNumber,
			Error:      domain.TimeoutError,
		}
		if err := s.close(context.Background(), req, true); err != nil {
			s.log.Error("timeout close failed",
				zap.String("order_id", orderID),
				zap.Int("slot_number", slotNumber),
				zap.Error(err),
			)
		}
	})
}

func (s *Service) disarmTimer(orderID string, slotNumber int) {
	key := timerKey(orderID, slotNumber)
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
}

func (s *Service) recordOutcome(req domain.ConfirmRequest, effective, timedOut bool) {
	switch {
	case effective:
		s.metrics.IncDispenseOutcome("success")
	case timedOut:
		s.metrics.IncDispenseOutcome("timeout")
	case req.Success && !req.DropDetected:
		s.metrics.IncDispenseOutcome("phantom")
	default:
		s.metrics.IncDispenseOutcome("failure")
	}
	if req.DurationMs > 0 {
		s.metrics.ObserveDispenseDuration(time.Duration(req.DurationMs) * time.Millisecond)
	}

	s.log.Info("dispense attempt closed",
		zap.String("order_id", req.OrderID),
		zap.Int("slot_number", req.SlotNumber),
		zap.Bool("success", req.Success),
		zap.Bool("drop_detected", req.DropDetected),
		zap.Bool("timed_out", timedOut),
	)
}

func timerKey(orderID string, slotNumber int) string {
	return fmt.Sprintf("%s/%d", orderID, slotNumber)
}

func failureNote(req domain.ConfirmRequest, timedOut bool) string {
	switch {
	case timedOut:
		return domain.TimeoutError
	case req.Success && !req.DropDetected:
		return "dispense reported success without drop detection"
	case req.Error != "":
		return fmt.Sprintf("dispense failed: %s", req.Error)
	default:
		return "dispense failed"
	}
}
