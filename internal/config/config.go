package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all application configuration for the job queue worker process.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the host:port form go-redis expects.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig holds Queue Engine (C4) settings.
type QueueConfig struct {
	KeyPrefix         string        `mapstructure:"key_prefix"`
	DLQEnabled        bool          `mapstructure:"dlq_enabled"`
	UniqueKeyTTL      time.Duration `mapstructure:"unique_key_ttl"`
	JobRetention      time.Duration `mapstructure:"job_retention"`
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
}

// RetryConfig holds the default Retry Policy (C2) applied when a job
// definition does not supply its own.
type RetryConfig struct {
	Strategy      string        `mapstructure:"strategy"`
	MaxRetries    int           `mapstructure:"max_retries"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	Multiplier    float64       `mapstructure:"multiplier"`
	JitterEnabled bool          `mapstructure:"jitter_enabled"`
	JitterFraction float64      `mapstructure:"jitter_fraction"`
}

// WorkerConfig holds Worker Pool (C6) settings.
type WorkerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Concurrency      int           `mapstructure:"concurrency"`
	Queues           []string      `mapstructure:"queues"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleJobCleanup  bool          `mapstructure:"stale_job_cleanup"`
	StaleJobThreshold time.Duration `mapstructure:"stale_job_threshold"`
}

// DefaultWorkerConfig returns sensible worker-pool defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Enabled:           true,
		Concurrency:       10,
		Queues:            []string{"default"},
		PollInterval:      time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		StaleJobCleanup:   true,
		StaleJobThreshold: 90 * time.Second,
	}
}

// SchedulerConfig holds Scheduler (C7) settings.
type SchedulerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	LeaderCheckInterval time.Duration `mapstructure:"leader_check_interval"`
	LeaderTTL          time.Duration `mapstructure:"leader_ttl"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
}

// DefaultSchedulerConfig returns sensible scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:             true,
		LeaderCheckInterval: 10 * time.Second,
		LeaderTTL:           30 * time.Second,
		PollInterval:        time.Second,
	}
}

// HTTPConfig holds the optional illustrative HTTP adapter's settings.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	cfg, err := build(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithHotReload behaves like Load but installs an fsnotify watch so
// config-file edits are re-parsed into onChange without a process restart.
func LoadWithHotReload(logger *zap.Logger, onChange func(*Config)) (*Config, error) {
	v := viper.New()
	cfg, err := build(v)
	if err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err != nil {
			logger.Warn("config reload failed", zap.Error(err))
			return
		}
		if err := next.Validate(); err != nil {
			logger.Warn("reloaded config failed validation", zap.Error(err))
			return
		}
		logger.Info("configuration reloaded", zap.String("event", e.Name))
		onChange(&next)
	})
	v.WatchConfig()

	return cfg, nil
}

func build(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/arcana-jobs/")

	v.SetEnvPrefix("ARCANA_JOBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arcana-jobs")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.key_prefix", "arcana:jobs:")
	v.SetDefault("queue.dlq_enabled", true)
	v.SetDefault("queue.unique_key_ttl", 24*time.Hour)
	v.SetDefault("queue.job_retention", 24*time.Hour)
	v.SetDefault("queue.completed_retention", 7*24*time.Hour)

	v.SetDefault("retry.strategy", "exponential")
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", time.Second)
	v.SetDefault("retry.max_delay", 5*time.Minute)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_enabled", true)
	v.SetDefault("retry.jitter_fraction", 0.1)

	def := DefaultWorkerConfig()
	v.SetDefault("worker.enabled", def.Enabled)
	v.SetDefault("worker.concurrency", def.Concurrency)
	v.SetDefault("worker.queues", def.Queues)
	v.SetDefault("worker.poll_interval", def.PollInterval)
	v.SetDefault("worker.shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("worker.heartbeat_interval", def.HeartbeatInterval)
	v.SetDefault("worker.stale_job_cleanup", def.StaleJobCleanup)
	v.SetDefault("worker.stale_job_threshold", def.StaleJobThreshold)

	sched := DefaultSchedulerConfig()
	v.SetDefault("scheduler.enabled", sched.Enabled)
	v.SetDefault("scheduler.leader_check_interval", sched.LeaderCheckInterval)
	v.SetDefault("scheduler.leader_ttl", sched.LeaderTTL)
	v.SetDefault("scheduler.poll_interval", sched.PollInterval)

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}
	if c.Queue.KeyPrefix == "" {
		return fmt.Errorf("queue key_prefix is required")
	}
	if c.Worker.Enabled && c.Worker.Concurrency < 0 {
		return fmt.Errorf("worker concurrency must not be negative")
	}
	return nil
}
