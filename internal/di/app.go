package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-jobs/internal/config"
)

// AppModule aggregates every module the worker process needs: configuration,
// logging, the job subsystem, and the optional HTTP adapter.
var AppModule = fx.Options(
	ConfigModule,
	LoggerModule,
	JobsModule,
	HTTPServerModule,
)

// PrintBanner prints the worker's startup banner.
func PrintBanner(cfg *config.Config, logger *zap.Logger) {
	logger.Info("===========================================")
	logger.Info("   Arcana Jobs - Distributed Job Queue      ")
	logger.Info("===========================================")
	logger.Info("application info",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)
	logger.Info("queue config",
		zap.String("key_prefix", cfg.Queue.KeyPrefix),
		zap.Bool("dlq_enabled", cfg.Queue.DLQEnabled),
	)
	logger.Info("worker config",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Strings("queues", cfg.Worker.Queues),
	)
	logger.Info("===========================================")
}
