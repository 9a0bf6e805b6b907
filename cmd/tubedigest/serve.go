package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"TubeDigest/internal/app"
	"TubeDigest/internal/config"
	"TubeDigest/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := config.Load()
			logger := logging.New(cfg.Logging.Level)

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}

			if err := application.Run(ctx); err != nil {
				logger.Error("application stopped", "error", err)
				return err
			}
			return nil
		},
	}
}
