package service

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/slotworks/vendo/internal/clock"
	"github.com/slotworks/vendo/internal/config"
	"github.com/slotworks/vendo/internal/locks"
	obsmetrics "github.com/slotworks/vendo/internal/observability/metrics"
	orderdomain "github.com/slotworks/vendo/internal/order/domain"
	"github.com/slotworks/vendo/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reconcileLockTTL = 10 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	Repo     domain.Repository
	Orders   orderdomain.Service
	OrderRep orderdomain.Repository
	Dispense domain.DispenseTrigger
	Locker   *locks.Locker       `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      domain.Repository
	orders    orderdomain.Service
	orderRep  orderdomain.Repository
	dispense  domain.DispenseTrigger
	locker    *locks.Locker
	metrics   *obsmetrics.Metrics
	serverKey string
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		orders:    p.Orders,
		orderRep:  p.OrderRep,
		dispense:  p.Dispense,
		locker:    p.Locker,
		metrics:   p.Metrics,
		serverKey: p.Cfg.GatewayServerKey,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, payload []byte) (*domain.Result, error) {
	var n domain.GatewayNotification
	if err := json.Unmarshal(payload, &n); err != nil || strings.TrimSpace(n.OrderID) == "" {
		return nil, domain.ErrInvalidPayload
	}
	if !domain.VerifySignature(n, s.serverKey) {
		s.log.Warn("webhook signature rejected", zap.String("order_id", n.OrderID))
		return nil, domain.ErrInvalidSignature
	}

	target, err := domain.MapGatewayStatus(n.TransactionStatus, n.FraudStatus)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, n.OrderID, target, n.TransactionID, grossToAmount(n.GrossAmount), payload, "webhook")
}

func (s *Service) VerifyManual(ctx context.Context, orderID string, actor string) (*domain.Result, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, domain.ErrInvalidPayload
	}
	txnID := "manual"
	if strings.TrimSpace(actor) != "" {
		txnID = "manual:" + actor
	}
	return s.reconcile(ctx, orderID, domain.StatusSuccess, txnID, -1, nil, "manual")
}

// reconcile converges the payment and order rows on the target status. The
// conditional order transition is the single gate: of any number of racing
// webhook deliveries and manual verifies, exactly one applies the side
// effects and all others observe an idempotent no-op.
func (s *Service) reconcile(ctx context.Context, orderID string, target domain.Status, gatewayTxnID string, amount int64, raw []byte, source string) (*domain.Result, error) {
	if s.locker != nil {
		if lease, err := s.locker.TryAcquire(ctx, "vendo:reconcile:"+orderID, reconcileLockTTL); err == nil && lease != nil {
			defer func() { _ = lease.Release(ctx) }()
		}
	}

	// Read through the order service so an overdue PENDING order expires
	// before we look at its status; a late webhook must not re-activate it.
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payment, err := s.repo.FindByOrderID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if amount >= 0 && amount != payment.Amount {
		s.log.Warn("webhook amount mismatch",
			zap.String("order_id", orderID),
			zap.Int64("expected", payment.Amount),
			zap.Int64("got", amount),
		)
		return nil, domain.ErrAmountMismatch
	}

	switch target {
	case domain.StatusPending:
		return &domain.Result{OrderID: orderID, Status: payment.Status, Applied: false}, nil
	case domain.StatusSuccess:
		return s.applySuccess(ctx, order, gatewayTxnID, raw, source)
	case domain.StatusFailed:
		return s.applyFailure(ctx, order, gatewayTxnID, raw, source)
	default:
		return nil, domain.ErrUnknownGatewayStatus
	}
}

func (s *Service) applySuccess(ctx context.Context, order *orderdomain.Order, gatewayTxnID string, raw []byte, source string) (*domain.Result, error) {
	if order.Status.PaidOrLater() {
		// Retried webhook or the second of two racing triggers.
		return &domain.Result{OrderID: order.ID, Status: domain.StatusSuccess, Applied: false}, nil
	}
	if order.Status != orderdomain.StatusPending {
		return nil, domain.ErrInvalidOrderState
	}

	now := s.clock.Now()
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.orderRep.Transition(ctx, tx, order.ID,
			orderdomain.Predecessors(orderdomain.StatusPaid),
			orderdomain.StatusPaid,
			map[string]any{"paid_at": now},
		)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true
		_, err = s.repo.Resolve(ctx, tx, order.ID, domain.StatusSuccess, gatewayTxnID, raw, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		// Lost the race. Whoever won either finished the transition or the
		// order moved somewhere illegal; re-read to tell the two apart.
		current, err := s.orderRep.FindByID(ctx, s.db, order.ID)
		if err != nil {
			return nil, err
		}
		if current.Status.PaidOrLater() {
			return &domain.Result{OrderID: order.ID, Status: domain.StatusSuccess, Applied: false}, nil
		}
		return nil, domain.ErrInvalidOrderState
	}

	s.metrics.IncPaymentResolved(string(domain.StatusSuccess), source)
	s.log.Info("payment settled",
		zap.String("order_id", order.ID),
		zap.String("source", source),
	)

	// The money has moved; a dispense-trigger failure parks the order for an
	// out-of-band retry instead of unwinding the payment. The coordinator may
	// already have parked it itself, so only park when the order is still PAID.
	if err := s.dispense.Trigger(ctx, order.ID); err != nil {
		s.log.Error("dispense trigger failed after payment",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		if current, readErr := s.orderRep.FindByID(ctx, s.db, order.ID); readErr == nil && current.Status == orderdomain.StatusPaid {
			if markErr := s.orders.MarkPendingDispense(ctx, order.ID, "dispense trigger failed: "+err.Error()); markErr != nil {
				s.log.Error("failed to park order for dispense retry",
					zap.String("order_id", order.ID),
					zap.Error(markErr),
				)
			}
		}
	}

	return &domain.Result{OrderID: order.ID, Status: domain.StatusSuccess, Applied: true}, nil
}

func (s *Service) applyFailure(ctx context.Context, order *orderdomain.Order, gatewayTxnID string, raw []byte, source string) (*domain.Result, error) {
	if order.Status == orderdomain.StatusFailed {
		return &domain.Result{OrderID: order.ID, Status: domain.StatusFailed, Applied: false}, nil
	}
	if order.Status != orderdomain.StatusPending {
		return nil, domain.ErrInvalidOrderState
	}

	now := s.clock.Now()
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.orderRep.Transition(ctx, tx, order.ID,
			[]orderdomain.Status{orderdomain.StatusPending},
			orderdomain.StatusFailed,
			map[string]any{"notes": "payment " + source + " reported failure"},
		)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true
		_, err = s.repo.Resolve(ctx, tx, order.ID, domain.StatusFailed, gatewayTxnID, raw, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if applied {
		s.metrics.IncPaymentResolved(string(domain.StatusFailed), source)
		s.log.Info("payment failed",
			zap.String("order_id", order.ID),
			zap.String("source", source),
		)
	}
	return &domain.Result{OrderID: order.ID, Status: domain.StatusFailed, Applied: applied}, nil
}

// grossToAmount parses the gateway's decimal gross amount ("10500.00") into
// whole currency units; -1 disables the amount check.
func grossToAmount(gross string) int64 {
	gross = strings.TrimSpace(gross)
	if gross == "" {
		return -1
	}
	parsed, err := strconv.ParseFloat(gross, 64)
	if err != nil {
		return -1
	}
	return int64(math.Round(parsed))
}
