package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/runstore"
)

func migrateCMD() *cobra.Command {
	var direction string
	var steps int
	var cfgPath string

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run run-history database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Storage.Postgres.Validate(); err != nil {
				return fmt.Errorf("postgres not configured: %w", err)
			}
			if err := runstore.Migrate(cfg.Storage.Postgres.DSN(), direction, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations %s applied\n", direction)
			return nil
		},
	}
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")
	return migrate
}
