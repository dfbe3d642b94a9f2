package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/slotworks/vendo/internal/config"
	dispensedomain "github.com/slotworks/vendo/internal/dispense/domain"
	"github.com/slotworks/vendo/internal/observability/tracing"
	orderdomain "github.com/slotworks/vendo/internal/order/domain"
	paymentdomain "github.com/slotworks/vendo/internal/payment/domain"
	"github.com/slotworks/vendo/internal/ratelimit"
	stockdomain "github.com/slotworks/vendo/internal/stock/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tracing.GinMiddleware())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	orderSvc    orderdomain.Service
	paymentSvc  paymentdomain.Service
	dispenseSvc dispensedomain.Service
	stockSvc    stockdomain.Service
	limiter     *ratelimit.WebhookLimiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	OrderSvc    orderdomain.Service
	PaymentSvc  paymentdomain.Service
	DispenseSvc dispensedomain.Service
	StockSvc    stockdomain.Service
	Limiter     *ratelimit.WebhookLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http"),
		orderSvc:    p.OrderSvc,
		paymentSvc:  p.PaymentSvc,
		dispenseSvc: p.DispenseSvc,
		stockSvc:    p.StockSvc,
		limiter:     p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Orders --------
	api.POST("/orders", s.CreateOrder)
	api.POST("/orders/multi", s.CreateMultiOrder)
	api.GET("/orders/:id", s.GetOrder)
	api.GET("/orders/:id/items", s.ListOrderItems)
	api.GET("/orders/:id/dispense-logs", s.ListOrderDispenseLogs)

	// -------- Payments --------
	api.POST("/payments/webhook", s.rateLimitWebhook(), s.HandlePaymentWebhook)
	api.POST("/orders/:id/verify-payment", s.VerifyPayment)

	// -------- Dispense --------
	api.POST("/orders/:id/dispense/trigger", s.TriggerDispense)
	api.POST("/orders/:id/dispense/retry", s.RetryDispense)
	api.POST("/dispense/confirm", s.ConfirmDispense)

	// -------- Stock --------
	api.GET("/stock/:machine_id", s.ListStock)
	api.GET("/stock/:machine_id/slots/:slot_number", s.GetSlot)
	api.GET("/stock/:machine_id/slots/:slot_number/logs", s.ListStockLogs)
	api.PUT("/stock/:machine_id/slots/:slot_number", s.SetStock)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
