package service

import (
	"context"
	"time"

	"github.com/slotworks/vendo/internal/config"
	"github.com/slotworks/vendo/internal/dispense/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ReapWorker closes open attempts whose deadline has passed. The in-process
// timers normally beat it; the sweep covers timers lost to a restart.
type ReapWorker struct {
	svc      domain.Service
	log      *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewReapWorker(svc domain.Service, log *zap.Logger, cfg config.Config) *ReapWorker {
	interval := cfg.DispenseReapEvery
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &ReapWorker{
		svc:      svc,
		log:      log.Named("dispense.reaper"),
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (w *ReapWorker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

func (w *ReapWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *ReapWorker) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := w.svc.ReapStale(ctx)
			if err != nil {
				w.log.Error("stale attempt sweep failed", zap.Error(err))
				continue
			}
			if reaped > 0 {
				w.log.Info("timed out stale dispense attempts", zap.Int("count", reaped))
			}
		}
	}
}

func RegisterReapWorker(lc fx.Lifecycle, w *ReapWorker) {
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
