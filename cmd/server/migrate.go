package main

import (
	"github.com/spf13/cobra"

	"go-friendchat/internal/config"
	"go-friendchat/internal/db"
	"go-friendchat/internal/logging"
)

func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return config.ErrMissingDSN
			}
			log := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

			database, err := db.NewDatabase(cmd.Context(), cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.AutoMigrate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Int("statements", len(db.Schema)).Msg("database schema initialized")
			return nil
		},
	}
}
