package di

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-jobs/internal/config"
	httpctrl "github.com/jrjohn/arcana-jobs/internal/controller/http"
	"github.com/jrjohn/arcana-jobs/internal/jobs"
	"github.com/jrjohn/arcana-jobs/internal/jobs/scheduler"
	"github.com/jrjohn/arcana-jobs/internal/jobs/status"
)

// HTTPServerModule provides the optional HTTP adapter: the job controller,
// the Prometheus scrape endpoint, and health/ready probes, all behind
// cfg.HTTP.Enabled.
var HTTPServerModule = fx.Module("http_server",
	fx.Provide(
		provideGinEngine,
		provideHTTPServer,
		provideJobController,
	),
	fx.Invoke(
		registerHTTPRoutes,
		startHTTPServer,
	),
)

func provideGinEngine(cfg *config.AppConfig, logger *zap.Logger) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginZapLogger(logger))

	return router
}

func ginZapLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error("request error",
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", c.Writer.Status()),
				zap.String("errors", c.Errors.String()),
			)
		}
	}
}

func provideJobController(facade *jobs.Facade, tracker *status.Tracker, sched *scheduler.Scheduler, retry jobs.RetryPolicy) *httpctrl.JobController {
	return httpctrl.NewJobController(facade, tracker, sched, retry)
}

func provideHTTPServer(cfg *config.HTTPConfig, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: router,
	}
}

func registerHTTPRoutes(router *gin.Engine, controller *httpctrl.JobController, metrics *jobs.Metrics) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api/v1")
	controller.RegisterRoutes(api)
}

func startHTTPServer(lc fx.Lifecycle, server *http.Server, cfg *config.HTTPConfig, logger *zap.Logger) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting http server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping http server")
			return server.Shutdown(ctx)
		},
	})
}
