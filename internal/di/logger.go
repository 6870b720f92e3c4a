package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-jobs/internal/config"
	"github.com/jrjohn/arcana-jobs/pkg/logger"
)

// LoggerModule provides the application's structured logger.
var LoggerModule = fx.Module("logger",
	fx.Provide(provideLogger),
)

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	encoding := "console"
	if cfg.App.Environment == "production" {
		encoding = "json"
	}
	return logger.New(logger.Config{
		Level:       "info",
		Development: cfg.App.Debug,
		Encoding:    encoding,
	})
}
