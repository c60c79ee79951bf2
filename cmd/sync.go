package cmd

import (
	"context"

	"cadence/internal/config"
	"cadence/internal/infra"
	"cadence/internal/infra/redisq"
	"cadence/internal/usecase"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Rebuild today's queue once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := log.Logger.WithContext(context.Background())
			cfg := config.Load()

			cli := redisq.New(cfg.Redis)
			if err := cli.Init(ctx); err != nil {
				return err
			}
			defer cli.Close()

			store, closer, err := infra.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			s := &usecase.Synchronizer{Store: store, Q: cli, Locks: usecase.NewLocker()}
			_, err = s.Run(ctx)
			return err
		},
	}
}
