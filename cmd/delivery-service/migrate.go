package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bharathbbg/delivery-confirmation-service/internal/config"
	"github.com/bharathbbg/delivery-confirmation-service/internal/repository"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			repo, err := repository.NewPostgresRepository(cfg.Database)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer repo.Close()

			applied, err := repo.RunMigrations(context.Background())
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}
