package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dexcom-ingest/internal/config"
	"dexcom-ingest/internal/migrate"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the MySQL schema migrations",
	Long:  `Applies pending migrations to MYSQL_DSN. With --status, lists each migration and whether it has been applied.`,
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "List migrations instead of applying them")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadState(cfgFile)
	if err != nil {
		return err
	}
	if cfg.MySQL.DSN == "" {
		return errors.New("MYSQL_DSN is required")
	}
	ctx := context.Background()

	if !migrateStatus {
		return migrate.Run(ctx, cfg.MySQL.DSN, logger)
	}
	migrations, err := migrate.Status(ctx, cfg.MySQL.DSN)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, m := range migrations {
		state := "pending"
		if m.Applied {
			state = "applied"
		}
		fmt.Fprintf(out, "%04d  %-40s  %s\n", m.Version, m.File, state)
	}
	return nil
}
