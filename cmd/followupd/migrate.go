package main

import (
	"github.com/spf13/cobra"
)

// newMigrateCmd opens the store, which runs gorm AutoMigrate for every
// table named in spec §6, and exits. Useful for provisioning a fresh
// DB_PATH before the first serve.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			a.log.Info().Str("db_path", cfg.DBPath).Msg("followupd: schema migrated")
			return nil
		},
	}
}
