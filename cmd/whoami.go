package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mehmetcc/sessiongate/internal/client"
	"github.com/mehmetcc/sessiongate/internal/config"
	"github.com/mehmetcc/sessiongate/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func whoamiCmd(logger *zap.Logger) *cobra.Command {
	var (
		envFile  string
		baseURL  string
		email    string
		password string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Sign in through the gateway and print the session user",
		Long: `Signs in through the gateway's API mount, loads the profile the way a
browser client would, prints the normalized user and signs out again.

Refresh timeout, refresh hint header and login path come from the same
environment the gateway reads. The password is read from SESSIONGATE_PASSWORD when --password is empty.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SESSIONGATE_PASSWORD")
			}

			cfg, err := config.LoadClientConfig(logger, envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			coord, err := client.New(clientConfig(cfg, baseURL), session.NewStore(),
				client.WithLogger(logger.Named("client")),
			)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if _, err := coord.Login(ctx, client.LoginInput{Email: email, Password: password}); err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) {
					return fmt.Errorf("%s: %s", apiErr.Title, apiErr.Message)
				}
				return err
			}
			defer coord.Logout(ctx)

			user, err := coord.CheckAuth(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(user)
		},
	}

	cmd.Flags().StringVar(&envFile, "env", ".env", "dotenv file to load before reading the environment")
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080/api", "gateway API mount")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall timeout")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func clientConfig(cfg *config.Config, baseURL string) client.Config {
	return client.Config{
		BaseURL:           baseURL,
		RefreshTimeout:    cfg.ClientConfig.RefreshTimeout,
		RefreshHintHeader: cfg.TokenConfig.RefreshHintHeader,
		LoginPath:         cfg.RouteConfig.LoginPath,
	}
}
