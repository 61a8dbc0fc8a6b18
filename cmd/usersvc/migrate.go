package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg, true)
			if err != nil {
				logger.Error().Err(err).Msg("migration failed")
				return err
			}
			closeDB(db)
			logger.Info().Str("driver", cfg.DB.Driver).Msg("migrations applied")
			return nil
		},
	}
}
