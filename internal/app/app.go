// Package app holds the startup sequence shared by the server and worker
// binaries: configuration, logging and the database.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/vodforge/vodforge/internal/config"
	"github.com/vodforge/vodforge/internal/database"
	"github.com/vodforge/vodforge/internal/logger"
	"gorm.io/gorm"
)

// ConfigPathEnv names the variable consulted when no -config flag is given
const ConfigPathEnv = "VODFORGE_CONFIG_PATH"

var defaultConfigPaths = []string{
	"/etc/vodforge/vodforge.yaml",
	"./vodforge.yaml",
}

// ResolveConfigPath picks the config file: the flag, then the environment,
// then the first default path that exists. Empty means defaults and env only.
func ResolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Runtime is what a binary needs after startup
type Runtime struct {
	Config *config.Config
	Logger hclog.Logger
	DB     *gorm.DB
}

// Bootstrap loads configuration, configures the root logger, starts the
// config file watcher and opens the migrated database.
func Bootstrap(ctx context.Context, configPath string) (*Runtime, error) {
	if err := config.Load(configPath); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := config.Get()

	log := logger.Configure(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Colors: cfg.Logging.EnableColors,
	})

	manager := config.GetConfigManager()
	manager.SetLogger(log)
	if configPath != "" {
		// Only the log level is applied live; everything else needs a restart
		manager.AddWatcher(func(oldConfig, newConfig *config.Config) {
			if oldConfig.Logging.Level != newConfig.Logging.Level {
				logger.SetLevel(newConfig.Logging.Level)
				log.Info("log level changed", "level", newConfig.Logging.Level)
			}
		})
		if err := manager.Watch(ctx); err != nil {
			log.Warn("config file watch disabled", "error", err)
		}
		log.Info("configuration loaded", "path", configPath)
	} else {
		log.Info("using default configuration")
	}

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Runtime{Config: cfg, Logger: log, DB: db}, nil
}

// Close releases the database connection
func (r *Runtime) Close() error {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
