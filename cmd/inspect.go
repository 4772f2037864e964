package main

import (
	"fmt"
	"time"

	"github.com/mehmetcc/sessiongate/internal/token"
	"github.com/spf13/cobra"
)

func inspectCmd() *cobra.Command {
	var margin time.Duration

	cmd := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Show what the gateway sees in a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inspector := token.NewInspector(margin)
			out := cmd.OutOrStdout()

			claims, err := inspector.Decode(args[0])
			if err != nil {
				fmt.Fprintf(out, "structure: invalid (%v)\n", err)
				fmt.Fprintln(out, "expired:   true")
				return nil
			}

			fmt.Fprintln(out, "structure: valid")
			fmt.Fprintf(out, "subject:   %s\n", claims.Subject)
			if claims.Email != "" {
				fmt.Fprintf(out, "email:     %s\n", claims.Email)
			}
			if claims.IssuedAt != nil {
				fmt.Fprintf(out, "issued:    %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
			}
			if exp, ok := inspector.ExpirationTime(args[0]); ok {
				fmt.Fprintf(out, "expires:   %s\n", exp.UTC().Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "expires:   never declared")
			}
			fmt.Fprintf(out, "expired:   %t (margin %s)\n", inspector.IsExpired(args[0]), margin)
			fmt.Fprintf(out, "remaining: %s\n", inspector.Remaining(args[0]).Round(time.Second))
			return nil
		},
	}

	cmd.Flags().DurationVar(&margin, "margin", token.DefaultSafetyMargin, "safety margin subtracted from the expiry")
	return cmd
}
