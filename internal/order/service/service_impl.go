package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/slotworks/vendo/internal/clock"
	"github.com/slotworks/vendo/internal/config"
	obsmetrics "github.com/slotworks/vendo/internal/observability/metrics"
	"github.com/slotworks/vendo/internal/order/domain"
	paymentdomain "github.com/slotworks/vendo/internal/payment/domain"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	pkgdb "github.com/slotworks/vendo/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Repo    domain.Repository
	Slots   stockdomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	slots   stockdomain.Repository
	metrics *obsmetrics.Metrics
	gateway string
	expiry  time.Duration
}

func NewService(p Params) domain.Service {
	expiry := p.Cfg.OrderExpiry
	if expiry <= 0 {
		expiry = domain.DefaultExpiry
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("order.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		slots:   p.Slots,
		metrics: p.Metrics,
		gateway: p.Cfg.Gateway,
		expiry:  expiry,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Order, error) {
	if strings.TrimSpace(req.MachineID) == "" {
		return nil, domain.ErrInvalidMachine
	}
	if req.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	now := s.clock.Now()
	var created *domain.Order
	err := retryOnIDCollision(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			slot, err := s.slots.FindSlot(ctx, tx, req.MachineID, req.SlotNumber)
			if err != nil {
				return err
			}
			if err := validateSlot(slot, req.Quantity); err != nil {
				return err
			}

			order := &domain.Order{
				ID:            domain.NewOrderID(now),
				MachineID:     req.MachineID,
				SlotNumber:    req.SlotNumber,
				Quantity:      req.Quantity,
				TotalAmount:   slot.UnitPrice() * int64(req.Quantity),
				Status:        domain.StatusPending,
				PaymentMethod: req.PaymentMethod,
				CustomerPhone: req.CustomerPhone,
				ExpiresAt:     now.Add(s.expiry),
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.repo.Insert(ctx, tx, order, nil); err != nil {
				return err
			}
			if err := s.insertPayment(ctx, tx, order); err != nil {
				return err
			}
			created = order
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncOrderCreated(req.PaymentMethod)
	s.log.Info("order created",
		zap.String("order_id", created.ID),
		zap.String("machine_id", created.MachineID),
		zap.Int("slot_number", created.SlotNumber),
		zap.Int64("total_amount", created.TotalAmount),
	)
	return created, nil
}

func (s *Service) CreateMulti(ctx context.Context, req domain.CreateMultiRequest) (*domain.Order, error) {
	if strings.TrimSpace(req.MachineID) == "" {
		return nil, domain.ErrInvalidMachine
	}
	if len(req.Items) == 0 {
		return nil, domain.ErrInvalidItems
	}

	now := s.clock.Now()
	var created *domain.Order
	err := retryOnIDCollision(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			orderID := domain.NewOrderID(now)
			items := make([]domain.OrderItem, 0, len(req.Items))
			var total int64
			var quantity int

			for _, item := range req.Items {
				if item.Quantity <= 0 {
					return domain.ErrInvalidQuantity
				}
				slot, err := s.slots.FindSlot(ctx, tx, req.MachineID, item.SlotNumber)
				if err != nil {
					return err
				}
				if err := validateSlot(slot, item.Quantity); err != nil {
					return err
				}
				lineTotal := slot.UnitPrice() * int64(item.Quantity)
				items = append(items, domain.OrderItem{
					ID:          s.genID.Generate(),
					OrderID:     orderID,
					SlotNumber:  item.SlotNumber,
					ProductName: slot.ProductName,
					UnitPrice:   slot.UnitPrice(),
					Quantity:    item.Quantity,
					LineTotal:   lineTotal,
					CreatedAt:   now,
				})
				total += lineTotal
				quantity += item.Quantity
			}

			// The order's own slot fields mirror the first item; items carry
			// the full breakdown.
			order := &domain.Order{
				ID:            orderID,
				MachineID:     req.MachineID,
				SlotNumber:    req.Items[0].SlotNumber,
				Quantity:      quantity,
				TotalAmount:   total,
				Status:        domain.StatusPending,
				PaymentMethod: req.PaymentMethod,
				CustomerPhone: req.CustomerPhone,
				ExpiresAt:     now.Add(s.expiry),
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.repo.Insert(ctx, tx, order, items); err != nil {
				return err
			}
			if err := s.insertPayment(ctx, tx, order); err != nil {
				return err
			}
			created = order
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncOrderCreated(req.PaymentMethod)
	s.log.Info("multi-item order created",
		zap.String("order_id", created.ID),
		zap.String("machine_id", created.MachineID),
		zap.Int("items", len(req.Items)),
		zap.Int64("total_amount", created.TotalAmount),
	)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	if order.Status == domain.StatusPending {
		now := s.clock.Now()
		if now.After(order.ExpiresAt) {
			expired, err := s.repo.ExpireOverdue(ctx, s.db, now, id)
			if err != nil {
				return nil, err
			}
			if expired > 0 {
				s.log.Info("order expired at read", zap.String("order_id", id))
			}
			return s.repo.FindByID(ctx, s.db, id)
		}
	}
	return order, nil
}

func (s *Service) Items(ctx context.Context, id string) ([]domain.OrderItem, error) {
	if _, err := s.repo.FindByID(ctx, s.db, id); err != nil {
		return nil, err
	}
	return s.repo.FindItems(ctx, s.db, id)
}

func (s *Service) MarkPaid(ctx context.Context, id string) error {
	now := s.clock.Now()
	return s.transition(ctx, id, domain.StatusPaid, map[string]any{"paid_at": now})
}

func (s *Service) MarkDispensing(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.StatusDispensing, nil)
}

func (s *Service) MarkPendingDispense(ctx context.Context, id string, reason string) error {
	return s.transition(ctx, id, domain.StatusPendingDispense, map[string]any{"notes": reason})
}

func (s *Service) MarkTerminal(ctx context.Context, id string, outcome domain.Status) error {
	if !outcome.Terminal() {
		return domain.ErrInvalidOutcome
	}
	var set map[string]any
	if outcome == domain.StatusCompleted {
		set = map[string]any{"dispensed_at": s.clock.Now()}
	}
	return s.transition(ctx, id, outcome, set)
}

func (s *Service) ExpireOverdue(ctx context.Context) (int64, error) {
	return s.repo.ExpireOverdue(ctx, s.db, s.clock.Now())
}

func (s *Service) transition(ctx context.Context, id string, to domain.Status, set map[string]any) error {
	ok, err := s.repo.Transition(ctx, s.db, id, domain.Predecessors(to), to, set)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	// The conditional write matched nothing: missing order or illegal source
	// state. Report which, never silently apply.
	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	s.log.Warn("rejected order transition",
		zap.String("order_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
	)
	return domain.ErrStateConflict
}

func (s *Service) insertPayment(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	payment := &paymentdomain.Payment{
		ID:        s.genID.Generate(),
		OrderID:   order.ID,
		Gateway:   s.gateway,
		Amount:    order.TotalAmount,
		Method:    order.PaymentMethod,
		Status:    paymentdomain.StatusPending,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.CreatedAt,
	}
	return tx.WithContext(ctx).Create(payment).Error
}

func validateSlot(slot *stockdomain.Slot, quantity int) error {
	if !slot.Active {
		return domain.ErrProductInactive
	}
	if quantity > slot.CurrentStock {
		return domain.ErrStockInsufficient
	}
	return nil
}

// retryOnIDCollision reruns fn when the insert lost the lottery on a
// generated order id. Each run generates a fresh id.
func retryOnIDCollision(fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); !pkgdb.IsDuplicateKeyErr(err) {
			return err
		}
	}
	return err
}
