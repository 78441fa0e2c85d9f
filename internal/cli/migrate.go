package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	pgstore "quiz-sync/internal/infra/postgres"
)

// NewMigrateCmd applies the postgres store migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for the postgres store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), *configPath)
		},
	}
}

func runMigrations(ctx context.Context, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Store.PostgresURL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	applied, err := pgstore.Migrate(ctx, cfg.Store.PostgresURL)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Info("no new migrations")
		return nil
	}
	log.Info("migrations applied", zap.Strings("migrations", applied))
	return nil
}
