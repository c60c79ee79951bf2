package cmd

import (
	"context"

	"cadence/internal/config"
	"cadence/internal/infra/postgres"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schedules table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := log.Logger.WithContext(context.Background())
			cfg := config.Load()

			db, err := postgres.Open(ctx, cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			log.Info().Msg("schedules table ready")
			return nil
		},
	}
}
