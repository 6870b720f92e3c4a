package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-jobs/internal/config"
	"github.com/jrjohn/arcana-jobs/internal/jobs"
	"github.com/jrjohn/arcana-jobs/internal/jobs/handler"
	"github.com/jrjohn/arcana-jobs/internal/jobs/keys"
	"github.com/jrjohn/arcana-jobs/internal/jobs/lease"
	"github.com/jrjohn/arcana-jobs/internal/jobs/queue"
	"github.com/jrjohn/arcana-jobs/internal/jobs/registry"
	"github.com/jrjohn/arcana-jobs/internal/jobs/scheduler"
	"github.com/jrjohn/arcana-jobs/internal/jobs/status"
	"github.com/jrjohn/arcana-jobs/internal/jobs/worker"
	"github.com/jrjohn/arcana-jobs/internal/observability"
)

// JobsModule provides the job subsystem: the Redis client, every C1-C9
// component, the worker pool that drives them, and the default handlers and
// scheduled jobs this repository ships out of the box.
var JobsModule = fx.Module("jobs",
	fx.Provide(
		provideRedisClient,
		provideKeyLayout,
		provideTracingProvider,
		provideWorkerRegistry,
		provideLeaseManager,
		provideQueueEngine,
		provideFacade,
		provideMetrics,
		provideStatusTracker,
		provideHandlerRegistry,
		provideWorkerPool,
		provideScheduler,
		provideDefaultRetryPolicy,
	),
	fx.Invoke(
		registerDefaultHandlers,
		registerDefaultScheduledJobs,
		startJobSubsystem,
	),
)

func provideRedisClient(lc fx.Lifecycle, cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Addr()))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("closing redis connection")
			return client.Close()
		},
	})

	return client, nil
}

func provideKeyLayout(cfg *config.QueueConfig) keys.Layout {
	return keys.New(cfg.KeyPrefix)
}

func provideTracingProvider(lc fx.Lifecycle, logger *zap.Logger) (*observability.TracingProvider, error) {
	tp, err := observability.NewTracingProvider(observability.DefaultTracingConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

func provideWorkerRegistry(logger *zap.Logger) *registry.Registry {
	return registry.WithTimeout(registry.DefaultHeartbeatTimeout, logger)
}

func provideLeaseManager(client *redis.Client, cfg *config.SchedulerConfig) *lease.Manager {
	return lease.NewManager(client, cfg.LeaderTTL, cfg.LeaderCheckInterval)
}

func provideQueueEngine(
	client *redis.Client,
	layout keys.Layout,
	cfg *config.QueueConfig,
	reg *registry.Registry,
	tp *observability.TracingProvider,
	metrics *jobs.Metrics,
	logger *zap.Logger,
) *queue.Engine {
	return queue.New(client, layout, *cfg, logger, queue.WithLiveness(reg), queue.WithTracer(tp), queue.WithMetrics(metrics))
}

func provideFacade(q *queue.Engine, reg *registry.Registry) *jobs.Facade {
	return jobs.NewFacade(q, reg)
}

func provideMetrics() *jobs.Metrics {
	return jobs.NewMetrics()
}

func provideStatusTracker(client *redis.Client, layout keys.Layout, reg *registry.Registry) *status.Tracker {
	return status.New(client, layout, reg)
}

func provideHandlerRegistry(pool *worker.Pool, logger *zap.Logger) *handler.Registry {
	return handler.NewRegistry(pool, logger)
}

func provideWorkerPool(
	facade *jobs.Facade,
	q *queue.Engine,
	cfg *config.WorkerConfig,
	metrics *jobs.Metrics,
	reg *registry.Registry,
	logger *zap.Logger,
) *worker.Pool {
	poolCfg := worker.Config{
		WorkerID:          fmt.Sprintf("worker-%s", uuid.NewString()),
		Queues:            cfg.Queues,
		Concurrency:       cfg.Concurrency,
		PollInterval:      cfg.PollInterval,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleJobCleanup:   cfg.StaleJobCleanup,
		StaleJobThreshold: cfg.StaleJobThreshold,
	}

	hooks := worker.Hooks{
		Before: func(jctx jobs.JobContext) {
			metrics.SetActiveWorkers(reg.ActiveWorkerCount())
		},
		After: func(jctx jobs.JobContext, duration time.Duration) {
			metrics.RecordCompleted(jctx.Queue, jctx.Queue, duration)
		},
		OnFailure: func(jctx jobs.JobContext, err error) {
			metrics.RecordFailed(jctx.Queue, !jctx.IsLastAttempt())
		},
	}

	var recoverStale func(ctx context.Context) (int, error)
	if cfg.StaleJobCleanup {
		recoverStale = q.RecoverStaleJobs
	}

	return worker.New(facade, poolCfg, logger, recoverStale, hooks)
}

// provideDefaultRetryPolicy builds the operator-configured Retry Policy
// (C2) applied to job definitions that don't set their own, in place of the
// hardcoded jobs.DefaultRetryPolicy.
func provideDefaultRetryPolicy(cfg *config.RetryConfig) jobs.RetryPolicy {
	return jobs.PolicyFromConfig(jobs.RetryConfig{
		Strategy:       cfg.Strategy,
		MaxRetries:     cfg.MaxRetries,
		InitialDelay:   cfg.InitialDelay,
		MaxDelay:       cfg.MaxDelay,
		Multiplier:     cfg.Multiplier,
		JitterEnabled:  cfg.JitterEnabled,
		JitterFraction: cfg.JitterFraction,
	})
}

func provideScheduler(
	client *redis.Client,
	layout keys.Layout,
	facade *jobs.Facade,
	leases *lease.Manager,
	cfg *config.SchedulerConfig,
	logger *zap.Logger,
) *scheduler.Scheduler {
	return scheduler.New(client, layout, facade, leases, scheduler.Config{
		LeaderCheckInterval: cfg.LeaderCheckInterval,
		LeaderTTL:           cfg.LeaderTTL,
		PollInterval:        cfg.PollInterval,
	}, logger)
}

// registerDefaultHandlers registers the illustrative job handlers this
// repository ships with.
func registerDefaultHandlers(registry *handler.Registry, logger *zap.Logger) {
	handler.Register(registry, "email", func(ctx context.Context, jctx jobs.JobContext, payload handler.EmailJobPayload) error {
		logger.Info("processing email job", zap.Strings("to", payload.To), zap.String("subject", payload.Subject))
		return nil
	})

	handler.Register(registry, "webhook", func(ctx context.Context, jctx jobs.JobContext, payload handler.WebhookJobPayload) error {
		logger.Info("processing webhook job", zap.String("url", payload.URL), zap.String("method", payload.Method))
		return nil
	})

	handler.Register(registry, "cleanup", func(ctx context.Context, jctx jobs.JobContext, payload handler.CleanupJobPayload) error {
		logger.Info("processing cleanup job",
			zap.String("type", payload.Type),
			zap.Int("older_than_days", payload.OlderThan),
			zap.Bool("dry_run", payload.DryRun),
		)
		return nil
	})

	handler.Register(registry, "notification", func(ctx context.Context, jctx jobs.JobContext, payload handler.NotificationJobPayload) error {
		logger.Info("processing notification job", zap.Uint64("user_id", payload.UserID), zap.String("type", payload.Type))
		return nil
	})

	handler.Register(registry, "sync", func(ctx context.Context, jctx jobs.JobContext, payload handler.SyncJobPayload) error {
		logger.Info("processing sync job",
			zap.String("source", payload.Source),
			zap.String("destination", payload.Destination),
			zap.String("entity_type", payload.EntityType),
		)
		return nil
	})

	logger.Info("registered default job handlers")
}

// registerDefaultScheduledJobs registers the recurring jobs this repository
// ships with: a nightly cleanup sweep and an hourly stats sync.
func registerDefaultScheduledJobs(sched *scheduler.Scheduler, retry jobs.RetryPolicy, logger *zap.Logger) {
	cleanupDef := jobs.NewJobDefinition("cleanup")
	cleanupDef.Queue = "maintenance"
	cleanupDef.RetryPolicy = retry

	if err := sched.Register(scheduler.ScheduledJob{
		Name:     "daily-token-cleanup",
		Schedule: scheduler.DailyMidnight,
		Def:      cleanupDef,
		Payload: func() any {
			return handler.CleanupJobPayload{Type: "expired_tokens", OlderThan: 30, DryRun: false}
		},
		Enabled: true,
	}); err != nil {
		logger.Warn("failed to register daily-token-cleanup job", zap.Error(err))
	}

	syncDef := jobs.NewJobDefinition("sync")
	syncDef.Queue = "default"
	syncDef.RetryPolicy = retry

	if err := sched.Register(scheduler.ScheduledJob{
		Name:     "hourly-stats-sync",
		Schedule: scheduler.EveryHour,
		Def:      syncDef,
		Payload: func() any {
			return handler.SyncJobPayload{Source: "database", Destination: "cache", EntityType: "stats", FullSync: false}
		},
		Enabled: true,
	}); err != nil {
		logger.Warn("failed to register hourly-stats-sync job", zap.Error(err))
	}

	logger.Info("registered default scheduled jobs")
}

// startJobSubsystem starts and stops the worker pool and scheduler with the
// fx application lifecycle.
func startJobSubsystem(lc fx.Lifecycle, pool *worker.Pool, sched *scheduler.Scheduler, workerCfg *config.WorkerConfig, schedCfg *config.SchedulerConfig, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if workerCfg.Enabled {
				logger.Info("starting worker pool")
				if err := pool.Start(ctx); err != nil {
					return fmt.Errorf("failed to start worker pool: %w", err)
				}
			}

			if schedCfg.Enabled {
				logger.Info("starting scheduler")
				if err := sched.Start(ctx); err != nil {
					return fmt.Errorf("failed to start scheduler: %w", err)
				}
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if schedCfg.Enabled {
				logger.Info("stopping scheduler")
				if err := sched.Stop(ctx); err != nil {
					logger.Warn("error stopping scheduler", zap.Error(err))
				}
			}

			if workerCfg.Enabled {
				logger.Info("stopping worker pool")
				if err := pool.Stop(ctx); err != nil {
					logger.Warn("error stopping worker pool", zap.Error(err))
				}
			}

			return nil
		},
	})
}
