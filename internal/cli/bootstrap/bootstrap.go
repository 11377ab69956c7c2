// Package bootstrap loads the environment shared by every CLI command.
package bootstrap

import (
	"github.com/joho/godotenv"

	"ms-validation/internal/config"
	"ms-validation/internal/logger"
)

// Load reads .env when present, then the process environment, and builds the
// service logger at the configured level.
func Load(name string) (*config.Config, *logger.Logger) {
	log := logger.NewLogger(name)

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	log.SetLevel(cfg.LogLevel)
	return cfg, log
}
