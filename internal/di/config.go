package di

import (
	"go.uber.org/fx"

	"github.com/jrjohn/arcana-jobs/internal/config"
)

// ConfigModule provides configuration dependencies.
var ConfigModule = fx.Module("config",
	fx.Provide(
		config.Load,
		provideAppConfig,
		provideRedisConfig,
		provideQueueConfig,
		provideRetryConfig,
		provideWorkerConfig,
		provideSchedulerConfig,
		provideHTTPConfig,
	),
)

func provideAppConfig(cfg *config.Config) *config.AppConfig { return &cfg.App }

func provideRedisConfig(cfg *config.Config) *config.RedisConfig { return &cfg.Redis }

func provideQueueConfig(cfg *config.Config) *config.QueueConfig { return &cfg.Queue }

func provideRetryConfig(cfg *config.Config) *config.RetryConfig { return &cfg.Retry }

func provideWorkerConfig(cfg *config.Config) *config.WorkerConfig { return &cfg.Worker }

func provideSchedulerConfig(cfg *config.Config) *config.SchedulerConfig { return &cfg.Scheduler }

func provideHTTPConfig(cfg *config.Config) *config.HTTPConfig { return &cfg.HTTP }
