package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"arrowhead/api/internal/config"
	"arrowhead/api/internal/logging"
	"arrowhead/api/internal/store"
)

func newMigrateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the bundled schema migrations to DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for migrate")
			}
			logger := logging.New(cfg.LogLevel, os.Stderr)

			db, err := store.Open(cmd.Context(), cfg.DatabaseURL, dbPool(cfg))
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := store.ApplyMigrations(cmd.Context(), db, store.Migrations())
			if err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			if len(applied) == 0 {
				logger.Info("schema up to date")
				return nil
			}
			logger.Info("migrations applied", "versions", applied)
			return nil
		},
	}
}
