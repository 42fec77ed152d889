package main

import (
	"fmt"

	"github.com/phototheology/palace/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the schema to the configured database",
	Long: `Creates the games, players, card, move, user and transcript tables if they
do not exist. Safe to run repeatedly. The memory store has nothing to migrate.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver == "memory" {
			return fmt.Errorf("nothing to migrate for the memory store; set DB_DRIVER")
		}
		st, _, err := app.OpenStore(cmd.Context(), cfg.Database, serviceLogger(cfg))
		if err != nil {
			return err
		}
		defer st.Close()
		logger.Info("schema applied", zap.String("driver", cfg.Database.Driver))
		fmt.Fprintf(cmd.OutOrStdout(), "schema applied (%s)\n", cfg.Database.Driver)
		return nil
	},
}
