package main

import (
	"github.com/spf13/cobra"

	"fundiconnect/internal/infrastructure/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return database.RunMigrations(cfg.DB.MigrationsPath, dbConfig(cfg), logger)
		},
	}
}
