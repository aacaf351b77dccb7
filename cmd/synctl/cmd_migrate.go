package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/multi-agent/transcript-sync/internal/database"
)

var migrateDir string

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migrateDir, "dir", "", "Migrations directory (default: MIGRATIONS_DIR)")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending PostgreSQL migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.PostgresEnabled() {
			return fmt.Errorf("POSTGRES_CONNECTION_STRING not set")
		}
		dir := cfg.MigrationsDir
		if migrateDir != "" {
			dir = migrateDir
		}

		ctx := cmd.Context()
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, dir); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Migrations in %s applied.\n", dir)
		return nil
	},
}
