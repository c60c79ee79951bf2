package cmd

import (
	"cadence/internal/api"
	"cadence/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start admin API server",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			if !cmd.Flags().Changed("port") {
				port = cfg.API.Port
			}
			log.Info().Msgf("API server using namespace: %s, store: %s", cfg.Redis.Namespace, cfg.Engine.Store)
			server := api.NewServer()
			server.Run(port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}
