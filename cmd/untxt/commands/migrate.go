package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Apply pending migrations to the configured metadata store.

Runs the versioned SQL migrations (indexes, triggers, constraints the ORM
cannot express) on top of the schema. Required after upgrading untxt when
schema changes shipped.

Examples:
  untxt migrate --config /etc/untxt/config.yaml`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	logger.Info("running database migrations", "type", cfg.Database.Type)

	if err := store.RunMigrations(context.Background(), cfg.StoreConfig()); err != nil {
		return fmt.Errorf("%w: migration failed: %v", ErrDependency, err)
	}

	logger.Info("migrations applied")
	return nil
}
