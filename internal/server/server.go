package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/nyumbanilabs/nyumbani/internal/allocation"
	"github.com/nyumbanilabs/nyumbani/internal/config"
	"github.com/nyumbanilabs/nyumbani/internal/observability"
	obslogger "github.com/nyumbanilabs/nyumbani/internal/observability/logger"
	obstracing "github.com/nyumbanilabs/nyumbani/internal/observability/tracing"
	paymentdomain "github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	paymentstatus "github.com/nyumbanilabs/nyumbani/internal/paymentstatus/service"
	"github.com/nyumbanilabs/nyumbani/internal/reconciliation"
	"github.com/nyumbanilabs/nyumbani/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware())
	r.Use(obstracing.GinMiddleware(obsCfg.ServiceName))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine     *gin.Engine
	log        *zap.Logger
	genID      *snowflake.Node
	paymentSvc paymentdomain.Service
	matcher    reconciliation.Service
	allocator  allocation.Service
	tracker    paymentstatus.Tracker
	scheduler  *scheduler.Service
}

type Params struct {
	fx.In

	Gin        *gin.Engine
	Log        *zap.Logger
	GenID      *snowflake.Node
	PaymentSvc paymentdomain.Service
	Matcher    reconciliation.Service
	Allocator  allocation.Service
	Tracker    paymentstatus.Tracker
	Scheduler  *scheduler.Service
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:     p.Gin,
		log:        p.Log.Named("server"),
		genID:      p.GenID,
		paymentSvc: p.PaymentSvc,
		matcher:    p.Matcher,
		allocator:  p.Allocator,
		tracker:    p.Tracker,
		scheduler:  p.Scheduler,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)

	v1 := s.engine.Group("/v1")
	v1.POST("/billing/run", s.HandleBillingRun)
	v1.POST("/payments/mpesa/stkpush", s.HandleStkPush)
	v1.GET("/payments/unmatched", s.HandleListUnmatched)
	v1.POST("/payments/:id/allocations", s.HandleAllocate)
	v1.GET("/payments/status/:key", s.HandleStatusSnapshot)
	v1.GET("/payments/status/:key/stream", s.HandleStatusStream)
}

type runParams struct {
	fx.In

	Lc  fx.Lifecycle
	Gin *gin.Engine
	Cfg config.Config
	Log *zap.Logger
}

func run(p runParams) {
	srv := &http.Server{
		Addr:    p.Cfg.HTTPAddr,
		Handler: p.Gin,
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Log.Info("http server listening", zap.String("addr", p.Cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					p.Log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
