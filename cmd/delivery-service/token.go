package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bharathbbg/delivery-confirmation-service/internal/auth"
	"github.com/bharathbbg/delivery-confirmation-service/internal/config"
	"github.com/bharathbbg/delivery-confirmation-service/internal/service"
)

func tokenCmd(configPath *string) *cobra.Command {
	var (
		userID string
		role   string
		name   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET is required")
			}
			switch service.Role(role) {
			case service.RoleBuyer, service.RoleSeller, service.RoleDistributor,
				service.RoleCourier, service.RoleAdmin, service.RoleSystem:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			raw, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Sign(
				service.Actor{UserID: userID, Role: service.Role(role), Name: name}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (sub claim)")
	cmd.Flags().StringVar(&role, "role", string(service.RoleBuyer), "buyer, seller, distributor, courier, admin or system")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
