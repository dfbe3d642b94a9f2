package service

import (
	"context"
	"time"

	"github.com/slotworks/vendo/internal/config"
	"github.com/slotworks/vendo/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ExpiryWorker periodically fails overdue PENDING orders. Lazy expiry at read
// time already guarantees callers never observe a stale PENDING order; the
// sweeper bounds how long an abandoned order lingers when nobody reads it.
type ExpiryWorker struct {
	svc      domain.Service
	log      *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewExpiryWorker(svc domain.Service, log *zap.Logger, cfg config.Config) *ExpiryWorker {
	interval := cfg.ExpirySweepEvery
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryWorker{
		svc:      svc,
		log:      log.Named("order.expiry"),
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (w *ExpiryWorker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

func (w *ExpiryWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *ExpiryWorker) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := w.svc.ExpireOverdue(ctx)
			if err != nil {
				w.log.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				w.log.Info("expired overdue orders", zap.Int64("count", expired))
			}
		}
	}
}

func RegisterExpiryWorker(lc fx.Lifecycle, w *ExpiryWorker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			w.Stop()
			return nil
		},
	})
}
