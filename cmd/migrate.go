package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"psych-agent/internal/config"
	"psych-agent/internal/repository/postgres"
	"psych-agent/internal/repository/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the users and conversations tables for the SQL backends",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg, false)

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		store, closeFn, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer closeFn()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	case config.BackendSQLite:
		store, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		if err := store.Close(); err != nil {
			return err
		}
	default:
		slog.Info("nothing to migrate; the table is provisioned with the stack", "backend", cfg.Store.Backend)
		return nil
	}
	slog.Info("schema applied", "backend", cfg.Store.Backend)
	return nil
}
