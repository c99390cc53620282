package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"roadcall/internal/config"
	"roadcall/internal/db"
	"roadcall/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the Postgres schema and indexes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if cfg.Store != config.StorePostgres {
			return fmt.Errorf("migrate: STORE=%s has no schema", cfg.Store)
		}
		gdb, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := db.AutoMigrateAndIndexes(gdb); err != nil {
			return err
		}
		log := logger.New("migrate")
		log.Info().Msg("schema up to date")
		return nil
	},
}
