package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/mehmetcc/sessiongate/internal/config"
	"github.com/mehmetcc/sessiongate/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(logger *zap.Logger) *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and the API proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(logger, envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			srv, err := server.New(cfg, logger)
			if err != nil {
				return err
			}

			displayAppname("sessiongate")
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("application started",
				zap.String("port", cfg.AppConfig.Port),
				zap.String("backend", cfg.ProxyConfig.BackendBaseURL),
				zap.String("proxy_mount", cfg.ProxyConfig.MountPath),
			)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&envFile, "env", ".env", "dotenv file to load before reading the environment")
	return cmd
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
