package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fundiconnect/internal/auth"
	"fundiconnect/internal/config"
	"fundiconnect/internal/domain"
)

// newTokenCmd mints bearer tokens for internal callers and local testing.
func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			r := domain.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.NewVerifier(cfg.JWTSecret).CreateToken(subject, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "fundiconnect-service", "token subject (user id)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleService), "client, fundi, admin or service_role")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
