package commands

import (
	"fmt"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/config"
)

// loadConfig loads and validates configuration from the --config file and
// the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg, nil
}

// initLogger initializes the structured logger from configuration.
func initLogger(cfg *config.Config) error {
	err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to initialize logger: %v", ErrConfig, err)
	}
	return nil
}
