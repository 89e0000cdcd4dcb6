package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/txledger/internal/config"
	"github.com/smallbiznis/txledger/internal/observability"
	obslogger "github.com/smallbiznis/txledger/internal/observability/logger"
	obstracing "github.com/smallbiznis/txledger/internal/observability/tracing"
	"github.com/smallbiznis/txledger/internal/redaction"
	"github.com/smallbiznis/txledger/internal/transaction/service"
	"github.com/smallbiznis/txledger/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, obsCfg observability.Config, metrics *telemetry.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(telemetry.GinMiddleware(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger, obsCfg observability.Config, metrics *telemetry.Metrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(log, obsCfg, metrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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

type ServerParams struct {
	fx.In

	Engine     *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Search     *service.SearchService
	Reconciler *service.Reconciler
	Watermarks redaction.WatermarkRepository
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	search     *service.SearchService
	reconciler *service.Reconciler
	watermarks redaction.WatermarkRepository
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Engine,
		cfg:        p.Cfg,
		db:         p.DB,
		search:     p.Search,
		reconciler: p.Reconciler,
		watermarks: p.Watermarks,
	}
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")
	{
		v1.GET("/transaction", s.SearchTransactions)
		v1.GET("/transaction/cursor", s.SearchTransactionsCursor)
		v1.GET("/transaction/:id", s.GetTransaction)
		v1.GET("/transaction/:id/event", s.ListTransactionEvents)
		v1.GET("/watermark", s.GetWatermark)
	}

	internal := s.engine.Group("/internal")
	{
		internal.POST("/transaction/:id/reproject", s.ReprojectTransaction)
	}
}
