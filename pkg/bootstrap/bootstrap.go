// Package bootstrap holds the startup steps every binary shares: loading
// .env and the environment, building the service logger, and failing fast
// when a dependency cannot be created.
package bootstrap

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/paysaga-backend/pkg/config"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

var exit = os.Exit

// Load reads .env when present, then the environment, and returns the config
// with a logger named "<service kind>-<binary>". It exits on a config error.
func Load(binary string) (*config.Config, *logger.Logger) {
	boot := logger.New(logger.Options{ServiceName: binary})
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			boot.Info(ctx, ".env file not found, relying on environment")
		} else {
			boot.Warn(boot.WithField(ctx, "error", err.Error()), ".env file could not be parsed")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		boot.Error(ctx, "failed to load config", err)
		exit(1)
		return nil, boot
	}
	return cfg, NewLogger(cfg, binary)
}

// NewLogger applies the level, format and static fields from cfg.
func NewLogger(cfg *config.Config, binary string) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: cfg.Service.Kind + "-" + binary,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
		Static:      map[string]string{"service_kind": cfg.Service.Kind, "env": cfg.App.Env},
	})
}

// Must exits when err is set, naming what failed to start.
func Must(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to bootstrap "+resource, err)
	exit(1)
}

// CloseLogged is meant for defer; it logs rather than returns the error.
func CloseLogged(logg *logger.Logger, resource string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+resource, err)
	}
}
